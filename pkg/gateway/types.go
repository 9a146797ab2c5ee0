package gateway

import (
	"io"
	"time"
)

// FileRecord describes who uploaded a stored object.
type FileRecord struct {
	OwnerEmail    string    `json:"ownerEmail" validate:"required"`
	OwnerNickname string    `json:"ownerNickname" validate:"required"`
	FileName      string    `json:"fileName" validate:"required"`
	FileKey       string    `json:"fileKey" validate:"required"`
	FileSize      int64     `json:"fileSize" validate:"gte=0"`
	FileType      string    `json:"fileType" validate:"required"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

// UploadRequest carries one file and its owner as received from a client.
type UploadRequest struct {
	OwnerEmail    string    `json:"email" validate:"required"`
	OwnerNickname string    `json:"nickname" validate:"required"`
	FileName      string    `json:"fileName" validate:"required"`
	FileSize      int64     `json:"fileSize" validate:"gte=0"`
	FileType      string    `json:"fileType" validate:"required"`
	Content       io.Reader `json:"file" validate:"-"`
}

// UploadResult is returned once both the object and its record are stored.
type UploadResult struct {
	Key      string
	Location string
	Record   *FileRecord
}

// UploadState tracks how far an upload got.
type UploadState string

const (
	UploadStateReceived          UploadState = "received"
	UploadStateValidated         UploadState = "validated"
	UploadStateRejected          UploadState = "rejected"
	UploadStateObjectWritten     UploadState = "object_written"
	UploadStateMetadataCommitted UploadState = "metadata_committed"
	UploadStateMetadataFailed    UploadState = "metadata_failed"
)

// Object is a readable handle on stored content. Body must be closed by the caller.
type Object struct {
	Key           string
	ContentType   string
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}

// PutOptions describe content being written to an ObjectStore.
type PutOptions struct {
	ContentType string
	Size        int64 // -1 when unknown
}
