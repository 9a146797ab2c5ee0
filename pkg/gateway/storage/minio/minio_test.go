package minio_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/upload-gateway/pkg/gateway"
	miniostore "github.com/tendant/upload-gateway/pkg/gateway/storage/minio"
)

type fakeObject struct {
	data        []byte
	contentType string
	acl         string
}

// fakeS3 answers the handful of path-style S3 calls the backend makes.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]fakeObject
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets: make(map[string]bool),
		objects: make(map[string]fakeObject),
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	switch {
	case key == "" && r.Method == http.MethodHead:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	case key == "" && r.Method == http.MethodPut:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPut:
		data, err := readBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.objects[bucket+"/"+key] = fakeObject{
			data:        data,
			contentType: r.Header.Get("Content-Type"),
			acl:         r.Header.Get("X-Amz-Acl"),
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		obj, ok := f.objects[bucket+"/"+key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message>`+
				`<Key>%s</Key><BucketName>%s</BucketName></Error>`, key, bucket)
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(obj.data)
		}

	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

// readBody undoes aws-chunked framing when the client used it.
func readBody(r *http.Request) ([]byte, error) {
	streaming := strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") ||
		strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING")
	if !streaming {
		return io.ReadAll(r.Body)
	}

	br := bufio.NewReader(r.Body)
	var out bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, n); err != nil {
			return nil, err
		}
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

func newBackend(t *testing.T, fake *fakeS3, cfg miniostore.Config) (*miniostore.Backend, string) {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	cfg.Endpoint = u.Host
	cfg.Region = "us-east-1"
	if cfg.Bucket == "" {
		cfg.Bucket = "test-bucket"
	}

	backend, err := miniostore.New(context.Background(), cfg)
	require.NoError(t, err)
	return backend, server.URL
}

func TestPutAndGet(t *testing.T) {
	fake := newFakeS3()
	backend, serverURL := newBackend(t, fake, miniostore.Config{ACL: "public-read"})
	ctx := context.Background()

	content := []byte("Hello, MinIO!")
	location, err := backend.Put(ctx, "contents/1700000000000_a.txt", bytes.NewReader(content), gateway.PutOptions{
		ContentType: "text/plain",
		Size:        int64(len(content)),
	})
	require.NoError(t, err)
	assert.Equal(t, serverURL+"/test-bucket/contents/1700000000000_a.txt", location)

	stored := fake.objects["test-bucket/contents/1700000000000_a.txt"]
	assert.Equal(t, content, stored.data)
	assert.Equal(t, "text/plain", stored.contentType)
	assert.Equal(t, "public-read", stored.acl)

	obj, err := backend.Get(ctx, "contents/1700000000000_a.txt")
	require.NoError(t, err)
	defer obj.Body.Close()

	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, int64(len(content)), obj.ContentLength)

	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestGet_NotFound(t *testing.T) {
	backend, _ := newBackend(t, newFakeS3(), miniostore.Config{})

	_, err := backend.Get(context.Background(), "contents/missing.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrNotFound)
	assert.NotErrorIs(t, err, gateway.ErrInfrastructure)
}

func TestNew_CreatesBucket(t *testing.T) {
	fake := newFakeS3()
	newBackend(t, fake, miniostore.Config{Bucket: "uploads", CreateBucketIfNotExist: true})

	assert.True(t, fake.buckets["uploads"])
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, miniostore.Config{Bucket: "b"}.Validate())
	assert.Error(t, miniostore.Config{Endpoint: "localhost:9000"}.Validate())
	assert.NoError(t, miniostore.Config{Endpoint: "localhost:9000", Bucket: "b"}.Validate())
}
