package memory

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"
	"sync"

	"github.com/tendant/upload-gateway/pkg/gateway"
)

const backendName = "memory"

type object struct {
	data        []byte
	contentType string
}

// Backend is an in-memory implementation of gateway.ObjectStore
type Backend struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]object
	putErr  error
}

// New creates a new in-memory object store. Locations returned by Put have
// the form memory://<bucket>/<key>.
func New(bucket string) *Backend {
	if bucket == "" {
		bucket = "default"
	}
	return &Backend{
		bucket:  bucket,
		objects: make(map[string]object),
	}
}

// Put stores a copy of body under key
func (b *Backend) Put(ctx context.Context, key string, body io.Reader, opts gateway.PutOptions) (string, error) {
	b.mu.RLock()
	putErr := b.putErr
	b.mu.RUnlock()
	if putErr != nil {
		return "", &gateway.StorageError{Backend: backendName, Key: key, Op: "put", Err: putErr}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", &gateway.StorageError{Backend: backendName, Key: key, Op: "put", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return "", &gateway.StorageError{Backend: backendName, Key: key, Op: "put", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = object{data: data, contentType: opts.ContentType}

	location := url.URL{Scheme: "memory", Host: b.bucket, Path: "/" + key}
	return location.String(), nil
}

// Get returns a reader over the stored bytes
func (b *Backend) Get(ctx context.Context, key string) (*gateway.Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[key]
	if !exists {
		return nil, &gateway.StorageError{Backend: backendName, Key: key, Op: "get", Err: gateway.ErrNotFound}
	}

	return &gateway.Object{
		Key:           key,
		ContentType:   obj.contentType,
		ContentLength: int64(len(obj.data)),
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
	}, nil
}

// SetPutError makes every following Put fail with err. Pass nil to reset.
func (b *Backend) SetPutError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putErr = err
}

// Len returns the number of stored objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// Keys returns the stored object keys in sorted order
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
