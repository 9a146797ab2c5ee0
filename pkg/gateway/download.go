package gateway

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"
)

// Download is an open object stream. Chunks may be ranged over once; the
// body is closed when iteration ends or Close is called, whichever is first.
type Download struct {
	Key           string
	ContentType   string
	ContentLength int64

	body      io.ReadCloser
	chunkSize int
	consumed  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newDownload(fileKey string, obj *Object, chunkSize int) *Download {
	return &Download{
		Key:           fileKey,
		ContentType:   obj.ContentType,
		ContentLength: obj.ContentLength,
		body:          obj.Body,
		chunkSize:     chunkSize,
	}
}

// Chunks yields the object content in order. The slice passed to the loop
// body is reused between iterations and must be copied to be retained.
func (d *Download) Chunks(ctx context.Context) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if !d.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrStreamConsumed)
			return
		}
		defer d.Close()

		buf := make([]byte, d.chunkSize)
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			n, err := d.body.Read(buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, &StorageError{Backend: "stream", Key: d.Key, Op: "read", Err: err})
				return
			}
		}
	}
}

// CopyTo copies the whole stream to w.
func (d *Download) CopyTo(ctx context.Context, w io.Writer) (int64, error) {
	var written int64
	for chunk, err := range d.Chunks(ctx) {
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Close releases the underlying object body. It is safe to call more than once.
func (d *Download) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.body.Close()
	})
	return d.closeErr
}

func (s *service) Download(ctx context.Context, fileKey string) (*Download, error) {
	if fileKey == "" {
		return nil, &ValidationError{Fields: map[string]string{"key": "is required"}}
	}

	obj, err := s.store.Get(ctx, fileKeyToObjectKey(fileKey))
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "Download opened",
		"file_key", fileKey,
		"content_type", obj.ContentType,
		"content_length", obj.ContentLength)
	return newDownload(fileKey, obj, s.chunkSize), nil
}
