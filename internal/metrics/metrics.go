// Package metrics holds the service's Prometheus collectors and the HTTP
// instrumentation middleware.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest results.
const (
	ResultCanonical = "canonical"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

var (
	// IngestTotal counts finished ingestions by result.
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_ingest_total",
			Help: "Uploads processed by the ingestion pipeline, by result.",
		},
		[]string{"result"},
	)

	// IngestBytesTotal counts hashed bytes. kind=stored for canonical
	// payloads, kind=saved for duplicates that needed no physical copy.
	IngestBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_ingest_bytes_total",
			Help: "Bytes ingested, split into stored and saved.",
		},
		[]string{"kind"},
	)

	// DeletedTotal counts deleted records.
	DeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filevault_deleted_total",
		Help: "File records deleted.",
	})

	// ResolverCacheHits and ResolverCacheMisses track the canonical cache.
	ResolverCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filevault_resolver_cache_hits_total",
		Help: "Canonical lookups answered from the resolver cache.",
	})
	ResolverCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filevault_resolver_cache_misses_total",
		Help: "Canonical lookups that went to the record store.",
	})

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filevault_http_requests_total",
			Help: "HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filevault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Middleware records request counts and latency. The path label is the chi
// route pattern, so record IDs never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
