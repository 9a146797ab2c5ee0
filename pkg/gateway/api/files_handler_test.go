package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/upload-gateway/pkg/gateway"
	"github.com/tendant/upload-gateway/pkg/gateway/objectkey"
	memoryrepo "github.com/tendant/upload-gateway/pkg/gateway/repo/memory"
	memorystore "github.com/tendant/upload-gateway/pkg/gateway/storage/memory"
)

type testEnv struct {
	router http.Handler
	store  *memorystore.Backend
	repo   *memoryrepo.Repository
}

// setupFilesHandlerTest creates a FilesHandler backed by in-memory adapters and a frozen clock
func setupFilesHandlerTest(t *testing.T, opts ...HandlerOption) testEnv {
	t.Helper()
	store := memorystore.New("uploads")
	repo := memoryrepo.New()

	service, err := gateway.New(
		gateway.WithObjectStore(store),
		gateway.WithRepository(repo),
		gateway.WithKeyGenerator(objectkey.NewTimestampGeneratorWithClock(func() time.Time {
			return time.UnixMilli(1700000000000)
		})),
	)
	require.NoError(t, err)

	handler := NewFilesHandler(service, opts...)
	return testEnv{router: handler.Routes(), store: store, repo: repo}
}

type filePart struct {
	name        string
	contentType string
	content     []byte
}

func multipartBody(t *testing.T, fields map[string]string, file *filePart) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}

	if file != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, UploadField, file.name))
		if file.contentType != "" {
			header.Set("Content-Type", file.contentType)
		}
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(file.content)
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func postUpload(t *testing.T, router http.Handler, fields map[string]string, file *filePart) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, file)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Message
}

var owner = map[string]string{"email": "u@x.com", "nickname": "u"}

func TestFilesHandler_UploadThenDownload(t *testing.T) {
	env := setupFilesHandlerTest(t)

	content := bytes.Repeat([]byte{0xAB}, 500)
	w := postUpload(t, env.router, owner, &filePart{name: "a.png", contentType: "image/png", content: content})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "1700000000000_a.png", resp.Key)

	req := httptest.NewRequest(http.MethodGet, "/uploads/"+resp.Key, nil)
	dl := httptest.NewRecorder()
	env.router.ServeHTTP(dl, req)

	assert.Equal(t, http.StatusOK, dl.Code)
	assert.Equal(t, "public, max-age=86400", dl.Header().Get("Cache-Control"))
	assert.Equal(t, "image/png", dl.Header().Get("Content-Type"))
	assert.Equal(t, "500", dl.Header().Get("Content-Length"))
	assert.Equal(t, content, dl.Body.Bytes())
}

func TestFilesHandler_Upload_MissingOwner(t *testing.T) {
	env := setupFilesHandlerTest(t)

	w := postUpload(t, env.router, nil, &filePart{name: "a.png", contentType: "image/png", content: []byte("png")})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	message := decodeMessage(t, w)
	assert.Contains(t, message, "email is required")
	assert.Contains(t, message, "nickname is required")
	assert.Equal(t, 0, env.store.Len())
	assert.Equal(t, 0, env.repo.Len())
}

func TestFilesHandler_Upload_MissingFile(t *testing.T) {
	env := setupFilesHandlerTest(t)

	w := postUpload(t, env.router, owner, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeMessage(t, w), "file is required")
	assert.Equal(t, 0, env.store.Len())
}

func TestFilesHandler_Upload_NotMultipart(t *testing.T) {
	env := setupFilesHandlerTest(t)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"u@x.com"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "malformed multipart form", decodeMessage(t, w))
}

func TestFilesHandler_Upload_TooLarge(t *testing.T) {
	env := setupFilesHandlerTest(t, WithMaxUploadBytes(256))

	w := postUpload(t, env.router, owner, &filePart{name: "big.bin", content: bytes.Repeat([]byte("x"), 1024)})

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, decodeMessage(t, w), "256")
	assert.Equal(t, 0, env.store.Len())
}

func TestFilesHandler_Upload_ContentTypeFromExtension(t *testing.T) {
	env := setupFilesHandlerTest(t)

	w := postUpload(t, env.router, owner, &filePart{
		name:        "photo.png",
		contentType: "application/octet-stream",
		content:     []byte("png"),
	})
	require.Equal(t, http.StatusOK, w.Code)

	obj, err := env.store.Get(context.Background(), "contents/1700000000000_photo.png")
	require.NoError(t, err)
	defer obj.Body.Close()
	assert.Equal(t, "image/png", obj.ContentType)
}

func TestFilesHandler_Upload_MetadataFailure(t *testing.T) {
	env := setupFilesHandlerTest(t)
	env.repo.SetInsertError(errors.New("database down"))

	w := postUpload(t, env.router, owner, &filePart{name: "a.png", contentType: "image/png", content: []byte("png")})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decodeMessage(t, w))
	assert.NotContains(t, w.Body.String(), "database down")
}

func TestFilesHandler_Download_NotFound(t *testing.T) {
	env := setupFilesHandlerTest(t)

	req := httptest.NewRequest(http.MethodGet, "/uploads/missing.png", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "file not found", decodeMessage(t, w))
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

func TestFilesHandler_Download_PercentEncodedKey(t *testing.T) {
	tests := []struct {
		fileName   string
		encodedKey string
	}{
		{"a&b.png", "1700000000000_a%26b.png"},
		{"a+b.png", "1700000000000_a%2Bb.png"},
		{"a b.png", "1700000000000_a%20b.png"},
		{"100%.png", "1700000000000_100%25.png"},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			env := setupFilesHandlerTest(t)

			w := postUpload(t, env.router, owner, &filePart{name: tt.fileName, contentType: "image/png", content: []byte("png")})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var resp UploadResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "1700000000000_"+tt.fileName, resp.Key)

			req := httptest.NewRequest(http.MethodGet, "/uploads/"+tt.encodedKey, nil)
			dl := httptest.NewRecorder()
			env.router.ServeHTTP(dl, req)
			assert.Equal(t, http.StatusOK, dl.Code, dl.Body.String())
			assert.Equal(t, []byte("png"), dl.Body.Bytes())

			req = httptest.NewRequest(http.MethodGet, "/records/"+tt.encodedKey, nil)
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var got gateway.FileRecord
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, resp.Key, got.FileKey)
		})
	}
}

func TestKeyParam_InvalidEscape(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/uploads/x", nil)
	req.URL.RawPath = "/uploads/a%zz"
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("key", "a%zz")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	_, err := keyParam(req)
	require.Error(t, err)

	status, message := classify(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "malformed file key", message)
}

func TestFilesHandler_Download_ClientGone(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	env := setupFilesHandlerTest(t, WithLogger(logger))

	w := postUpload(t, env.router, owner, &filePart{name: "a.png", contentType: "image/png", content: []byte("png")})
	require.Equal(t, http.StatusOK, w.Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/uploads/1700000000000_a.png", nil).WithContext(ctx)
	dl := httptest.NewRecorder()
	env.router.ServeHTTP(dl, req)

	assert.Empty(t, dl.Body.Bytes())
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "Client went away during download")
	assert.NotContains(t, logs.String(), "level=ERROR")
}

type failingStore struct {
	gateway.ObjectStore
}

func (failingStore) Get(ctx context.Context, key string) (*gateway.Object, error) {
	return nil, &gateway.StorageError{Backend: "test", Key: key, Op: "get", Err: errors.New("access denied")}
}

func TestFilesHandler_Download_StoreFailure(t *testing.T) {
	service, err := gateway.New(
		gateway.WithObjectStore(failingStore{ObjectStore: memorystore.New("b")}),
		gateway.WithRepository(memoryrepo.New()),
	)
	require.NoError(t, err)
	router := NewFilesHandler(service).Routes()

	req := httptest.NewRequest(http.MethodGet, "/uploads/1_a.png", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decodeMessage(t, w))
	assert.NotContains(t, w.Body.String(), "access denied")
}

func TestFilesHandler_GetRecord(t *testing.T) {
	env := setupFilesHandlerTest(t)

	w := postUpload(t, env.router, owner, &filePart{name: "a.png", contentType: "image/png", content: []byte("png")})
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/records/1700000000000_a.png", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got gateway.FileRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "u@x.com", got.OwnerEmail)
	assert.Equal(t, "u", got.OwnerNickname)
	assert.Equal(t, "a.png", got.FileName)
	assert.Equal(t, "1700000000000_a.png", got.FileKey)
	assert.Equal(t, int64(3), got.FileSize)
	assert.Equal(t, "image/png", got.FileType)

	req = httptest.NewRequest(http.MethodGet, "/records/missing.png", nil)
	missing := httptest.NewRecorder()
	env.router.ServeHTTP(missing, req)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestContentType(t *testing.T) {
	tests := []struct {
		fileName string
		declared string
		expected string
	}{
		{"a.png", "image/png", "image/png"},
		{"a.png", "", "image/png"},
		{"a.png", "application/octet-stream", "image/png"},
		{"blob", "application/octet-stream", "application/octet-stream"},
		{"blob", "", "application/octet-stream"},
		{"notes", "text/plain", "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.fileName+"|"+tt.declared, func(t *testing.T) {
			assert.Equal(t, tt.expected, contentType(tt.fileName, tt.declared))
		})
	}
}
