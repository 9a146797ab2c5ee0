package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/upload-gateway/pkg/gateway"
)

const (
	// DefaultMaxUploadBytes caps the size of a multipart upload body
	DefaultMaxUploadBytes = 100 << 20

	// UploadField is the multipart part that carries the file
	UploadField = "photo"

	cacheControl    = "public, max-age=86400"
	multipartMemory = 32 << 20
)

var (
	errMalformedForm = errors.New("malformed multipart form")
	errMalformedKey  = errors.New("malformed file key")
)

// UploadResponse is returned after a successful upload
type UploadResponse struct {
	Key string `json:"key"`
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Message string `json:"message"`
}

// FilesHandler serves uploads and downloads through a gateway.Service
type FilesHandler struct {
	service        gateway.Service
	maxUploadBytes int64
	logger         *slog.Logger
}

// HandlerOption configures a FilesHandler
type HandlerOption func(*FilesHandler)

// WithMaxUploadBytes overrides DefaultMaxUploadBytes
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *FilesHandler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithLogger sets the logger used for failed requests
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *FilesHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewFilesHandler creates a new files handler
func NewFilesHandler(service gateway.Service, opts ...HandlerOption) *FilesHandler {
	h := &FilesHandler{
		service:        service,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for file endpoints
func (h *FilesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Upload)
	r.Get("/uploads/{key}", h.Download)
	r.Get("/records/{key}", h.GetRecord)
	return r
}

// Upload accepts a multipart form with the file in the "photo" part and the
// owner in the "email" and "nickname" fields.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadBytes {
		h.writeError(w, r, &http.MaxBytesError{Limit: h.maxUploadBytes})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", errMalformedForm, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := gateway.UploadRequest{
		OwnerEmail:    r.FormValue("email"),
		OwnerNickname: r.FormValue("nickname"),
	}

	file, header, err := r.FormFile(UploadField)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		// reported together with any other missing field by the service
	case err != nil:
		h.writeError(w, r, fmt.Errorf("%w: %w", errMalformedForm, err))
		return
	default:
		defer file.Close()
		req.Content = file
		req.FileName = header.Filename
		req.FileSize = header.Size
		req.FileType = contentType(header.Filename, header.Header.Get("Content-Type"))
	}

	result, err := h.service.Upload(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.JSON(w, r, UploadResponse{Key: result.Key})
}

// Download streams the object stored under {key}
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	download, err := h.service.Download(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer download.Close()

	w.Header().Set("Cache-Control", cacheControl)
	if download.ContentType != "" {
		w.Header().Set("Content-Type", download.ContentType)
	}
	if download.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(download.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for chunk, err := range download.Chunks(r.Context()) {
		if err != nil {
			// Headers are already sent; the client sees a truncated body.
			if errors.Is(err, context.Canceled) {
				h.logger.WarnContext(r.Context(), "Client went away during download", "key", key, "error", err)
				return
			}
			h.logger.ErrorContext(r.Context(), "Failed to stream object", "key", key, "error", err)
			return
		}
		if _, err := w.Write(chunk); err != nil {
			h.logger.WarnContext(r.Context(), "Client went away during download", "key", key, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// GetRecord returns the metadata recorded for {key}
func (h *FilesHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.service.GetFileRecord(r.Context(), key)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, rec)
}

// keyParam returns the decoded {key} segment. chi routes on RawPath when the
// request carries one, leaving percent escapes in the parameter.
func keyParam(r *http.Request) (string, error) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return key, nil
	}
	decoded, err := url.PathUnescape(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errMalformedKey, err)
	}
	return decoded, nil
}

func (h *FilesHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	} else {
		h.logger.InfoContext(r.Context(), "Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Message: message})
}

func classify(err error) (int, string) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, "upload exceeds " + strconv.FormatInt(maxBytesErr.Limit, 10) + " bytes"
	case errors.Is(err, errMalformedForm):
		return http.StatusBadRequest, errMalformedForm.Error()
	case errors.Is(err, errMalformedKey):
		return http.StatusBadRequest, errMalformedKey.Error()
	case errors.Is(err, gateway.ErrOrphanedObject):
		return http.StatusInternalServerError, "internal server error"
	case errors.Is(err, gateway.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, "file not found"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// contentType prefers the declared part type and falls back to the file extension.
func contentType(fileName, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(path.Ext(fileName)); byExt != "" {
		return byExt
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}
