package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tendant/upload-gateway/pkg/gateway/objectkey"
)

// DefaultChunkSize is the read buffer used for download streams.
const DefaultChunkSize = 32 * 1024

// Service is the main interface clients use to upload and fetch files
type Service interface {
	// Upload stores req.Content and records its owner. See UploadState for
	// the stages an upload goes through.
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)

	// Download opens the object behind fileKey for streaming.
	Download(ctx context.Context, fileKey string) (*Download, error)

	// GetFileRecord returns the committed record for fileKey.
	GetFileRecord(ctx context.Context, fileKey string) (*FileRecord, error)
}

// service implements the Service interface
type service struct {
	store      ObjectStore
	repository Repository
	keys       objectkey.Generator
	eventSink  EventSink
	logger     *slog.Logger
	chunkSize  int
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithObjectStore sets the object store for the service
func WithObjectStore(store ObjectStore) Option {
	return func(s *service) {
		s.store = store
	}
}

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithKeyGenerator replaces the default timestamp key generator
func WithKeyGenerator(gen objectkey.Generator) Option {
	return func(s *service) {
		s.keys = gen
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithChunkSize sets the download read buffer size
func WithChunkSize(size int) Option {
	return func(s *service) {
		s.chunkSize = size
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		keys:      objectkey.NewTimestampGenerator(),
		eventSink: NewNoopEventSink(),
		logger:    slog.Default(),
		chunkSize: DefaultChunkSize,
	}

	for _, option := range options {
		option(s)
	}

	if s.store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", s.chunkSize)
	}

	return s, nil
}

func (s *service) GetFileRecord(ctx context.Context, fileKey string) (*FileRecord, error) {
	if fileKey == "" {
		return nil, &ValidationError{Fields: map[string]string{"key": "is required"}}
	}
	return s.repository.GetFileRecord(ctx, fileKey)
}
