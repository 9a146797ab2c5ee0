package gateway

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// UploadCompleted does nothing and returns nil
func (n *NoopEventSink) UploadCompleted(ctx context.Context, rec *FileRecord) error {
	return nil
}

// ObjectOrphaned does nothing and returns nil
func (n *NoopEventSink) ObjectOrphaned(ctx context.Context, objectKey string, cause error) error {
	return nil
}

// LogEventSink writes upload events to a slog.Logger. Orphaned objects are
// logged at error level so they can be found and reconciled later.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink backed by logger (slog.Default when nil)
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger}
}

func (s *LogEventSink) UploadCompleted(ctx context.Context, rec *FileRecord) error {
	s.logger.InfoContext(ctx, "Upload completed",
		"file_key", rec.FileKey,
		"owner_email", rec.OwnerEmail,
		"file_size", rec.FileSize,
		"file_type", rec.FileType)
	return nil
}

func (s *LogEventSink) ObjectOrphaned(ctx context.Context, objectKey string, cause error) error {
	s.logger.ErrorContext(ctx, "Object orphaned", "object_key", objectKey, "error", cause)
	return nil
}
