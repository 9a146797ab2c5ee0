package gateway

import (
	"context"
	"log/slog"
	"net/url"
	"path"

	"github.com/google/uuid"
	"github.com/tendant/upload-gateway/pkg/gateway/objectkey"
)

// pendingObject is a validated request with its object key assigned.
type pendingObject struct {
	req       UploadRequest
	objectKey string
}

// writtenObject is a pendingObject whose content is in the object store.
type writtenObject struct {
	pendingObject
	location string
	fileKey  string
}

func (s *service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	logger := s.logger.With("upload_id", uuid.NewString(), "file_name", req.FileName)
	logger.DebugContext(ctx, "Upload received", "state", UploadStateReceived)

	if err := ValidateUploadRequest(req); err != nil {
		logger.InfoContext(ctx, "Upload rejected", "state", UploadStateRejected, "error", err)
		return nil, err
	}
	logger.DebugContext(ctx, "Upload validated", "state", UploadStateValidated)

	pending := s.generate(req)

	written, err := s.write(ctx, logger, pending)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to write object", "object_key", pending.objectKey, "error", err)
		return nil, err
	}
	logger.InfoContext(ctx, "Object written",
		"state", UploadStateObjectWritten,
		"object_key", written.objectKey,
		"location", written.location)

	// The insert runs to completion even if the client goes away now.
	rec, err := s.record(context.WithoutCancel(ctx), written)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record file metadata",
			"state", UploadStateMetadataFailed,
			"object_key", written.objectKey,
			"error", err)
		if sinkErr := s.eventSink.ObjectOrphaned(ctx, written.objectKey, err); sinkErr != nil {
			logger.WarnContext(ctx, "Event sink failed", "event", "object_orphaned", "error", sinkErr)
		}
		return nil, &OrphanedObjectError{ObjectKey: written.objectKey, Err: err}
	}
	logger.InfoContext(ctx, "File metadata committed", "state", UploadStateMetadataCommitted, "file_key", rec.FileKey)

	if err := s.eventSink.UploadCompleted(ctx, rec); err != nil {
		logger.WarnContext(ctx, "Event sink failed", "event", "upload_completed", "error", err)
	}

	return &UploadResult{
		Key:      rec.FileKey,
		Location: written.location,
		Record:   rec,
	}, nil
}

func (s *service) generate(req UploadRequest) pendingObject {
	return pendingObject{
		req:       req,
		objectKey: s.keys.GenerateKey(req.FileName),
	}
}

func (s *service) write(ctx context.Context, logger *slog.Logger, p pendingObject) (writtenObject, error) {
	location, err := s.store.Put(ctx, p.objectKey, p.req.Content, PutOptions{
		ContentType: p.req.FileType,
		Size:        p.req.FileSize,
	})
	if err != nil {
		return writtenObject{}, err
	}

	expected := path.Base(p.objectKey)
	fileKey, ok := fileKeyFromLocation(location)
	if !ok || fileKey != expected {
		logger.WarnContext(ctx, "Location does not end with the written key",
			"location", location,
			"object_key", p.objectKey)
		fileKey = expected
	}

	return writtenObject{
		pendingObject: p,
		location:      location,
		fileKey:       fileKey,
	}, nil
}

func (s *service) record(ctx context.Context, w writtenObject) (*FileRecord, error) {
	rec := FileRecord{
		OwnerEmail:    w.req.OwnerEmail,
		OwnerNickname: w.req.OwnerNickname,
		FileName:      w.req.FileName,
		FileKey:       w.fileKey,
		FileSize:      w.req.FileSize,
		FileType:      w.req.FileType,
	}

	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return RecordFile(ctx, tx, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// fileKeyFromLocation returns the last path segment of an object location.
func fileKeyFromLocation(location string) (string, bool) {
	u, err := url.Parse(location)
	if err != nil || u.Path == "" {
		return "", false
	}
	key := path.Base(u.Path)
	if key == "." || key == "/" {
		return "", false
	}
	return key, true
}

// fileKeyToObjectKey maps a client supplied file key back into the store namespace.
func fileKeyToObjectKey(fileKey string) string {
	return objectkey.ObjectKey(fileKey)
}
