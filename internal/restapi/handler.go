// Package restapi implements the REST gateway for file uploads.
package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shantanudwvd/File-Vault/internal/hasher"
	"github.com/shantanudwvd/File-Vault/internal/ingest"
	"github.com/shantanudwvd/File-Vault/internal/metrics"
	"github.com/shantanudwvd/File-Vault/internal/repository"
	"github.com/shantanudwvd/File-Vault/internal/stats"
	"github.com/shantanudwvd/File-Vault/internal/worker"
)

// Files is the ingestion surface behind the REST endpoints.
type Files interface {
	Ingest(ctx context.Context, up ingest.Upload) (*repository.FileRecord, error)
	Get(ctx context.Context, id string) (*repository.FileRecord, error)
	List(ctx context.Context, f repository.Filter) ([]*repository.FileRecord, error)
	MediaTypes(ctx context.Context) ([]string, error)
	Open(ctx context.Context, id string) (*repository.FileRecord, io.ReadCloser, error)
	Delete(ctx context.Context, id string) (*repository.FileRecord, error)
}

// Stats computes storage statistics.
type Stats interface {
	Compute(ctx context.Context) (stats.StorageStats, error)
}

// Pinger reports record store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker reports payload store usability.
type Checker interface {
	Check(ctx context.Context) error
}

// Handler holds dependencies for REST endpoints.
type Handler struct {
	files          Files
	stats          Stats
	pool           *worker.Pool
	records        Pinger
	payloads       Checker
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewHandler creates a new REST handler. maxUploadBytes caps every upload
// request body.
func NewHandler(
	files Files,
	st Stats,
	pool *worker.Pool,
	records Pinger,
	payloads Checker,
	maxUploadBytes int64,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		files:          files,
		stats:          st,
		pool:           pool,
		records:        records,
		payloads:       payloads,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("component", "rest")),
	}
}

// Routes returns the HTTP router with every endpoint attached.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Use(requestLogger(h.logger))

	r.Route("/files", func(r chi.Router) {
		r.Post("/", h.uploadFile)
		r.Get("/", h.listFiles)
		r.Post("/batch", h.uploadBatch)
		r.Get("/storage_stats", h.storageStats)
		r.Get("/media_types", h.mediaTypes)
		r.Get("/{id}", h.getFile)
		r.Get("/{id}/content", h.downloadFile)
		r.Delete("/{id}", h.deleteFile)
	})
	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: w.Header().Get("X-Request-ID")})
}

// statusFor maps pipeline and store errors to an HTTP status and a client
// safe message.
func statusFor(err error) (int, string) {
	var (
		tooLarge *http.MaxBytesError
		readErr  *hasher.ReadError
	)
	switch {
	case errors.Is(err, ingest.ErrEmptyUpload):
		return http.StatusBadRequest, "upload is empty"
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "upload exceeds size limit"
	case errors.As(err, &readErr):
		return http.StatusBadRequest, "upload stream interrupted"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "file not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, repository.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// fail logs err and writes the mapped error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code, text := statusFor(err)
	logger := h.loggerFrom(r)
	if code >= 500 {
		logger.Error(msg, slog.String("error", err.Error()))
	} else {
		logger.Warn(msg, slog.String("error", err.Error()))
	}
	h.writeError(w, code, text)
}
