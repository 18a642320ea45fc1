package restapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shantanudwvd/File-Vault/internal/ingest"
	"github.com/shantanudwvd/File-Vault/internal/repository"
	"github.com/shantanudwvd/File-Vault/internal/worker"
)

// multipartMemory is how much of a batch form is kept in memory before
// parts spill to temp files.
const multipartMemory = 8 << 20

// maxListLimit caps a single page of GET /files.
const maxListLimit = 1000

// declaredType returns the client's media type for a part. The generic
// octet-stream default that most clients send counts as undeclared.
func declaredType(ct string) string {
	if ct == "application/octet-stream" {
		return ""
	}
	return ct
}

// ---------- POST /files ----------

// uploadFile streams the "file" part straight into the pipeline; the body is
// never buffered whole.
func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerFrom(r)
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, `no "file" field in form`)
			return
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
				return
			}
			h.writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		rec, err := h.files.Ingest(r.Context(), ingest.Upload{
			Body:      part,
			Name:      part.FileName(),
			MediaType: declaredType(part.Header.Get("Content-Type")),
		})
		part.Close()
		if err != nil {
			h.fail(w, r, "upload failed", err)
			return
		}

		logger.Info("file uploaded",
			slog.String("file_id", rec.ID),
			slog.Bool("duplicate", rec.IsDuplicate),
		)
		w.Header().Set("Location", "/files/"+rec.ID)
		writeJSON(w, http.StatusCreated, toFileResponse(rec))
		return
	}
}

// ---------- POST /files/batch ----------

// uploadBatch ingests every "files" part through the worker pool. Parts are
// spooled by the multipart parser so workers can read them independently.
func (h *Handler) uploadBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		h.writeError(w, http.StatusBadRequest, `no "files" fields in form`)
		return
	}

	reply := make(chan worker.Result, len(headers))
	pending := 0
	items := make([]batchItem, len(headers))
	for i, fh := range headers {
		items[i].Filename = fh.Filename
		job := worker.Job{
			Ctx:       r.Context(),
			Index:     i,
			Name:      fh.Filename,
			MediaType: declaredType(fh.Header.Get("Content-Type")),
			Open:      func() (io.ReadCloser, error) { return fh.Open() },
			Reply:     reply,
		}
		if !h.pool.Submit(job) {
			items[i].Status = http.StatusServiceUnavailable
			items[i].Error = "server is shutting down"
			continue
		}
		pending++
	}

	allCreated := pending == len(headers)
	for ; pending > 0; pending-- {
		res := <-reply
		item := &items[res.Index]
		if res.Err != nil {
			item.Status, item.Error = statusFor(res.Err)
			allCreated = false
			continue
		}
		f := toFileResponse(res.Record)
		item.Status = http.StatusCreated
		item.File = &f
	}

	status := http.StatusCreated
	if !allCreated {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, items)
}

// ---------- GET /files ----------

func (h *Handler) listFiles(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.files.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "list files", err)
		return
	}

	out := make([]fileResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toFileResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// parseFilter reads the list query parameters. Dates are either YYYY-MM-DD,
// covering the whole UTC day, or RFC 3339 instants.
func parseFilter(q url.Values) (repository.Filter, error) {
	f := repository.Filter{
		NameContains:      q.Get("filename"),
		MediaTypeContains: q.Get("file_type"),
	}

	for _, p := range []struct {
		key string
		dst **int64
	}{{"min_size", &f.MinSize}, {"max_size", &f.MaxSize}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%s must be a non-negative integer", p.key)
		}
		*p.dst = &n
	}

	if v := q.Get("date_from"); v != "" {
		t, err := parseDate(v, false)
		if err != nil {
			return f, fmt.Errorf("date_from: %w", err)
		}
		f.CreatedFrom = &t
	}
	if v := q.Get("date_to"); v != "" {
		t, err := parseDate(v, true)
		if err != nil {
			return f, fmt.Errorf("date_to: %w", err)
		}
		f.CreatedTo = &t
	}

	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%s must be a non-negative integer", p.key)
		}
		*p.dst = n
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return f, nil
}

func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Microsecond)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, errors.New("expected YYYY-MM-DD or RFC 3339")
	}
	return t.UTC(), nil
}

// ---------- GET /files/{id} ----------

func (h *Handler) getFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.files.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get file", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// ---------- GET /files/{id}/content ----------

func (h *Handler) downloadFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, body, err := h.files.Open(r.Context(), id)
	if err != nil {
		h.fail(w, r, "open payload", err)
		return
	}
	defer body.Close()

	ct := rec.MediaType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.OriginalName}))
	w.Header().Set("ETag", `"`+rec.ContentFingerprint+`"`)

	if _, err := io.Copy(w, body); err != nil {
		h.loggerFrom(r).Warn("download interrupted",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// ---------- DELETE /files/{id} ----------

func (h *Handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.files.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete file", err)
		return
	}
	h.loggerFrom(r).Info("file deleted", slog.String("file_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// ---------- GET /files/storage_stats ----------

func (h *Handler) storageStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.Compute(r.Context())
	if err != nil {
		h.fail(w, r, "compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(st))
}

// ---------- GET /files/media_types ----------

func (h *Handler) mediaTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.files.MediaTypes(r.Context())
	if err != nil {
		h.fail(w, r, "list media types", err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

// ---------- GET /healthz ----------

// healthz verifies the record store and payload store are reachable.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	result := map[string]string{"status": "ok"}
	httpStatus := http.StatusOK

	if err := h.records.Ping(ctx); err != nil {
		result["status"] = "degraded"
		result["database"] = "unreachable: " + err.Error()
		httpStatus = http.StatusServiceUnavailable
	} else {
		result["database"] = "connected"
	}

	if err := h.payloads.Check(ctx); err != nil {
		result["status"] = "degraded"
		result["storage"] = "unavailable: " + err.Error()
		httpStatus = http.StatusServiceUnavailable
	} else {
		result["storage"] = "ok"
	}

	writeJSON(w, httpStatus, result)
}
