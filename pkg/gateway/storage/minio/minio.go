package minio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tendant/upload-gateway/pkg/gateway"
)

const backendName = "minio"

// Config holds connection details for a MinIO (or other S3-compatible) server
type Config struct {
	Endpoint        string // host:port, no scheme
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	UseSSL          bool
	ACL             string // Optional canned ACL sent as x-amz-acl

	CreateBucketIfNotExist bool
}

func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("bucket name is required")
	}
	return nil
}

// Backend is a minio-go implementation of gateway.ObjectStore
type Backend struct {
	client *minio.Client
	bucket string
	acl    string
}

// New connects to the server described by cfg
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid minio configuration: %w", err)
	}

	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	if cfg.CreateBucketIfNotExist {
		exists, err := cli.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check bucket existence: %w", err)
		}
		if !exists {
			err = cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
			if err != nil {
				return nil, fmt.Errorf("failed to create bucket: %w", err)
			}
		}
	}

	return &Backend{
		client: cli,
		bucket: cfg.Bucket,
		acl:    cfg.ACL,
	}, nil
}

// Put writes body to the bucket. A negative opts.Size makes minio-go fall
// back to a multipart upload.
func (b *Backend) Put(ctx context.Context, key string, body io.Reader, opts gateway.PutOptions) (string, error) {
	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType}
	if b.acl != "" {
		putOpts.UserMetadata = map[string]string{"x-amz-acl": b.acl}
	}

	info, err := b.client.PutObject(ctx, b.bucket, key, body, opts.Size, putOpts)
	if err != nil {
		return "", &gateway.StorageError{Backend: backendName, Key: key, Op: "put", Err: err}
	}

	// Location is only filled in for multipart uploads.
	if info.Location != "" {
		return info.Location, nil
	}
	return b.client.EndpointURL().JoinPath(b.bucket, key).String(), nil
}

// Get opens the object and stats it so a missing key fails here instead of
// on the first read.
func (b *Backend) Get(ctx context.Context, key string) (*gateway.Object, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, &gateway.StorageError{Backend: backendName, Key: key, Op: "get", Err: classify(err)}
	}

	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, &gateway.StorageError{Backend: backendName, Key: key, Op: "get", Err: classify(err)}
	}

	return &gateway.Object{
		Key:           key,
		ContentType:   info.ContentType,
		ContentLength: info.Size,
		Body:          obj,
	}, nil
}

func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
		return fmt.Errorf("%w: %v", gateway.ErrNotFound, err)
	}
	return err
}
