package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/upload-gateway/pkg/gateway"
	"github.com/tendant/upload-gateway/pkg/gateway/repo/postgres"
	"github.com/tendant/upload-gateway/pkg/gateway/storage/minio"
	"github.com/tendant/upload-gateway/pkg/gateway/storage/s3"
)

// S3Backend returns the settings for the aws-sdk backend
func (c *ServerConfig) S3Backend() s3.Config {
	return s3.Config{
		Region:                 c.S3.Region,
		Bucket:                 c.S3.Bucket,
		AccessKeyID:            c.S3.AccessKeyID,
		SecretAccessKey:        c.S3.SecretAccessKey,
		Endpoint:               c.S3.Endpoint,
		UsePathStyle:           c.S3.UsePathStyle,
		ACL:                    c.S3.ObjectACL,
		CreateBucketIfNotExist: c.S3.CreateBucket,
	}
}

// MinIOBackend returns the settings for the minio-go backend. An endpoint
// given as a URL has its scheme stripped and decides UseSSL.
func (c *ServerConfig) MinIOBackend() minio.Config {
	endpoint, useSSL := c.S3.Endpoint, c.S3.UseSSL
	if strings.Contains(endpoint, "://") {
		if u, err := url.Parse(endpoint); err == nil {
			endpoint = u.Host
			useSSL = u.Scheme == "https"
		}
	}
	return minio.Config{
		Endpoint:               endpoint,
		AccessKeyID:            c.S3.AccessKeyID,
		SecretAccessKey:        c.S3.SecretAccessKey,
		Bucket:                 c.S3.Bucket,
		Region:                 c.S3.Region,
		UseSSL:                 useSSL,
		ACL:                    c.S3.ObjectACL,
		CreateBucketIfNotExist: c.S3.CreateBucket,
	}
}

// NewObjectStore builds the object store selected by StorageDriver
func (c *ServerConfig) NewObjectStore(ctx context.Context) (gateway.ObjectStore, error) {
	switch c.StorageDriver {
	case StorageDriverS3:
		store, err := s3.New(ctx, c.S3Backend())
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 backend: %w", err)
		}
		return store, nil
	case StorageDriverMinIO:
		store, err := minio.New(ctx, c.MinIOBackend())
		if err != nil {
			return nil, fmt.Errorf("failed to create minio backend: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", c.StorageDriver)
	}
}

// NewRepository wraps pool in the postgres metadata repository
func (c *ServerConfig) NewRepository(pool *pgxpool.Pool, logger *slog.Logger) gateway.Repository {
	return postgres.New(pool,
		postgres.WithAcquireTimeout(c.DB.AcquireTimeout),
		postgres.WithLogger(logger),
	)
}

// BuildService assembles a gateway.Service from already opened collaborators.
func (c *ServerConfig) BuildService(store gateway.ObjectStore, repo gateway.Repository, logger *slog.Logger) (gateway.Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := gateway.New(
		gateway.WithObjectStore(store),
		gateway.WithRepository(repo),
		gateway.WithEventSink(gateway.NewLogEventSink(logger)),
		gateway.WithLogger(logger),
		gateway.WithChunkSize(c.Upload.ChunkSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build service: %w", err)
	}
	return svc, nil
}
