package gateway

import (
	"context"
	"io"
)

// ObjectStore defines the interface for binary content backends
type ObjectStore interface {
	// Put writes body under key and returns a location whose last path
	// segment is the file key.
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (string, error)

	// Get opens the object stored under key. It returns an error matching
	// ErrNotFound when no such object exists.
	Get(ctx context.Context, key string) (*Object, error)
}

// Repository defines the interface for file record persistence
type Repository interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; fn's error is returned unchanged.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetFileRecord returns the record for fileKey or an error matching ErrNotFound.
	GetFileRecord(ctx context.Context, fileKey string) (*FileRecord, error)
}

// Tx is the statement surface available inside Repository.WithTx.
type Tx interface {
	InsertFileRecord(ctx context.Context, rec *FileRecord) error
}

// EventSink receives upload lifecycle notifications
type EventSink interface {
	// UploadCompleted is fired after the record has been committed
	UploadCompleted(ctx context.Context, rec *FileRecord) error

	// ObjectOrphaned is fired when an object was written but its record was not
	ObjectOrphaned(ctx context.Context, objectKey string, cause error) error
}
