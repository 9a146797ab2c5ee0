package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/tendant/upload-gateway/pkg/gateway"
)

const backendName = "s3"

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UsePathStyle    bool   // Use path-style addressing (default: false)
	ACL             string // Optional canned ACL applied to every object, e.g. public-read

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// Client is the subset of *s3.Client used by the backend
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Uploader is the subset of *manager.Uploader used by the backend
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Backend is an AWS S3 implementation of gateway.ObjectStore
type Backend struct {
	client       Client
	uploader     Uploader
	bucket       string
	acl          types.ObjectCannedACL
	enableSSE    bool
	sseAlgorithm string
	sseKMSKeyID  string
}

// New creates a new S3 object store
func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				config.AccessKeyID,
				config.SecretAccessKey,
				"",
			),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = config.UsePathStyle
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
	})

	backend, err := NewWithClient(client, manager.NewUploader(client), config)
	if err != nil {
		return nil, err
	}

	if config.CreateBucketIfNotExist {
		if err := backend.ensureBucket(ctx); err != nil {
			return nil, err
		}
	}

	return backend, nil
}

// NewWithClient builds a backend around existing clients
func NewWithClient(client Client, uploader Uploader, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	if config.EnableSSE && config.SSEAlgorithm == "" {
		config.SSEAlgorithm = "AES256"
	}
	if config.SSEAlgorithm == "aws:kms" && config.SSEKMSKeyID == "" {
		return nil, errors.New("KMS key ID is required when using aws:kms encryption")
	}

	return &Backend{
		client:       client,
		uploader:     uploader,
		bucket:       config.Bucket,
		acl:          types.ObjectCannedACL(config.ACL),
		enableSSE:    config.EnableSSE,
		sseAlgorithm: config.SSEAlgorithm,
		sseKMSKeyID:  config.SSEKMSKeyID,
	}, nil
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Put streams body to S3 through the multipart-capable upload manager
func (b *Backend) Put(ctx context.Context, key string, body io.Reader, opts gateway.PutOptions) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if b.acl != "" {
		input.ACL = b.acl
	}

	if b.enableSSE {
		if b.sseAlgorithm == "AES256" {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		} else if b.sseAlgorithm == "aws:kms" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			if b.sseKMSKeyID != "" {
				input.SSEKMSKeyId = aws.String(b.sseKMSKeyID)
			}
		}
	}

	out, err := b.uploader.Upload(ctx, input)
	if err != nil {
		return "", &gateway.StorageError{Backend: backendName, Key: key, Op: "put", Err: err}
	}

	if out.Location == "" {
		return fmt.Sprintf("s3://%s/%s", b.bucket, key), nil
	}
	return out.Location, nil
}

// Get opens the object for reading. The body is streamed from S3.
func (b *Backend) Get(ctx context.Context, key string) (*gateway.Object, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &gateway.StorageError{Backend: backendName, Key: key, Op: "get", Err: classify(err)}
	}

	length := int64(-1)
	if out.ContentLength != nil {
		length = *out.ContentLength
	}

	return &gateway.Object{
		Key:           key,
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: length,
		Body:          out.Body,
	}, nil
}

// classify maps a missing key to gateway.ErrNotFound and leaves other errors alone.
func classify(err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %v", gateway.ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", gateway.ErrNotFound, err)
		}
	}
	return err
}
