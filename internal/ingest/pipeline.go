// Package ingest turns upload streams into file records: it hashes the
// payload, decides canonical or duplicate, stores at most one physical copy
// and persists the record.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shantanudwvd/File-Vault/internal/blobstore"
	"github.com/shantanudwvd/File-Vault/internal/dedup"
	"github.com/shantanudwvd/File-Vault/internal/hasher"
	"github.com/shantanudwvd/File-Vault/internal/metrics"
	"github.com/shantanudwvd/File-Vault/internal/repository"
)

// ErrEmptyUpload is returned when an upload has no body or a body that
// yields no bytes.
var ErrEmptyUpload = errors.New("upload is empty")

// maxResolveAttempts bounds how often one upload re-resolves after losing a
// race against another writer of the same fingerprint.
const maxResolveAttempts = 3

// Upload is one incoming file.
type Upload struct {
	Body      io.Reader
	Name      string
	MediaType string // optional; sniffed from content when empty
}

// Pipeline ingests and deletes uploads. It is safe for concurrent use.
type Pipeline struct {
	repo     repository.Repository
	resolver *dedup.Resolver
	locker   *dedup.Locker
	blobs    blobstore.Store
	hasher   *hasher.Hasher
	logger   *slog.Logger
	now      func() time.Time
}

// New wires a pipeline from its collaborators.
func New(repo repository.Repository, resolver *dedup.Resolver, blobs blobstore.Store, h *hasher.Hasher, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		repo:     repo,
		resolver: resolver,
		locker:   dedup.NewLocker(),
		blobs:    blobs,
		hasher:   h,
		logger:   logger.With(slog.String("component", "ingest")),
		now:      time.Now,
	}
}

// staged tracks the payload of one upload across resolve attempts.
type staged struct {
	upload  blobstore.Upload
	ref     string // set once committed
	created bool   // this upload wrote the payload
}

// Ingest streams the upload through the digest engine and persists exactly
// one record for it. Read failures surface as *hasher.ReadError; store
// failures wrap repository.ErrStoreUnavailable. On any failure nothing is
// persisted.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (rec *repository.FileRecord, err error) {
	if up.Body == nil {
		return nil, ErrEmptyUpload
	}

	defer func() {
		switch {
		case err != nil:
			metrics.IngestTotal.WithLabelValues(metrics.ResultFailed).Inc()
		case rec.IsDuplicate:
			metrics.IngestTotal.WithLabelValues(metrics.ResultDuplicate).Inc()
			metrics.IngestBytesTotal.WithLabelValues("saved").Add(float64(rec.SizeBytes))
		default:
			metrics.IngestTotal.WithLabelValues(metrics.ResultCanonical).Inc()
			metrics.IngestBytesTotal.WithLabelValues("stored").Add(float64(rec.SizeBytes))
		}
	}()

	upload, err := p.blobs.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: ingest: stage payload: %w", repository.ErrStoreUnavailable, err)
	}
	defer upload.Discard()

	sum, err := p.hasher.Copy(upload, up.Body)
	if err != nil {
		var re *hasher.ReadError
		if errors.As(err, &re) {
			p.logger.Warn("upload stream failed",
				slog.String("name", up.Name),
				slog.Int64("bytes_read", re.Read),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("ingest: %w", err)
		}
		return nil, fmt.Errorf("%w: ingest: stage payload: %w", repository.ErrStoreUnavailable, err)
	}
	if sum.Size == 0 {
		return nil, ErrEmptyUpload
	}

	mediaType := up.MediaType
	if mediaType == "" {
		mediaType = sum.ContentType
	}

	unlock := p.locker.Lock(sum.Fingerprint)
	defer unlock()

	st := &staged{upload: upload}
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		res, err := p.resolver.Resolve(ctx, sum.Fingerprint)
		if err != nil {
			return nil, p.abort(st, storeErr(err))
		}

		rec, err := p.newRecord(up.Name, mediaType, sum)
		if err != nil {
			return nil, p.abort(st, err)
		}

		if res.IsDuplicate {
			err = p.persistDuplicate(ctx, rec, res.Canonical)
			if errors.Is(err, repository.ErrCanonicalGone) {
				p.logger.Debug("canonical vanished, re-resolving",
					slog.String("fingerprint", sum.Fingerprint),
					slog.Int("attempt", attempt),
				)
				p.resolver.Forget(sum.Fingerprint)
				continue
			}
		} else {
			err = p.persistCanonical(ctx, st, rec)
			if errors.Is(err, repository.ErrCanonicalExists) {
				p.logger.Debug("lost canonical race, re-resolving",
					slog.String("fingerprint", sum.Fingerprint),
					slog.Int("attempt", attempt),
				)
				p.resolver.Forget(sum.Fingerprint)
				continue
			}
		}
		if err != nil {
			return nil, p.abort(st, storeErr(err))
		}

		p.logger.Info("file ingested",
			slog.String("file_id", rec.ID),
			slog.String("name", rec.OriginalName),
			slog.String("fingerprint", rec.ContentFingerprint),
			slog.Int64("size", rec.SizeBytes),
			slog.Bool("duplicate", rec.IsDuplicate),
		)
		return rec, nil
	}

	return nil, p.abort(st, fmt.Errorf("%w: ingest: fingerprint %s still contended after %d attempts",
		repository.ErrStoreUnavailable, sum.Fingerprint, maxResolveAttempts))
}

func (p *Pipeline) newRecord(name, mediaType string, sum hasher.Sum) (*repository.FileRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("ingest: generate id: %w", err)
	}
	return &repository.FileRecord{
		ID:                 id.String(),
		OriginalName:       name,
		MediaType:          mediaType,
		SizeBytes:          sum.Size,
		ContentFingerprint: sum.Fingerprint,
		CreatedAt:          p.now().UTC().Truncate(time.Microsecond),
	}, nil
}

// persistCanonical commits the staged payload under its content key and
// inserts the canonical record. The payload stays committed when the insert
// loses the race; the winner's record shares the same key.
func (p *Pipeline) persistCanonical(ctx context.Context, st *staged, rec *repository.FileRecord) error {
	if st.ref == "" {
		key, err := blobstore.Key(rec.ContentFingerprint)
		if err != nil {
			return err
		}
		ref, created, err := st.upload.Commit(ctx, key)
		if err != nil {
			return fmt.Errorf("commit payload: %w", err)
		}
		st.ref, st.created = ref, created
	}

	rec.StoredPayloadRef = st.ref
	if err := p.repo.Create(ctx, rec); err != nil {
		return err
	}
	p.resolver.Remember(rec)
	return nil
}

// persistDuplicate inserts a record that shares the canonical's payload.
func (p *Pipeline) persistDuplicate(ctx context.Context, rec *repository.FileRecord, c *dedup.Canonical) error {
	ref := c.ID
	rec.IsDuplicate = true
	rec.CanonicalRef = &ref
	rec.StoredPayloadRef = c.StoredPayloadRef
	return p.repo.Create(ctx, rec)
}

// abort releases a payload this upload wrote but no record ended up
// referencing, then returns err.
func (p *Pipeline) abort(st *staged, err error) error {
	if !st.created {
		return err
	}
	// The caller's context may be the reason for the failure.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, cerr := p.repo.CountByPayloadRef(ctx, st.ref)
	if cerr != nil {
		p.logger.Warn("payload kept after failed ingest",
			slog.String("ref", st.ref),
			slog.String("error", cerr.Error()),
		)
		return err
	}
	if n > 0 {
		return err
	}
	if derr := p.blobs.Delete(ctx, st.ref); derr != nil {
		p.logger.Error("failed to release payload",
			slog.String("ref", st.ref),
			slog.String("error", derr.Error()),
		)
	}
	return err
}

// Get returns one record.
func (p *Pipeline) Get(ctx context.Context, id string) (*repository.FileRecord, error) {
	return p.repo.GetByID(ctx, id)
}

// List returns records matching f, newest first.
func (p *Pipeline) List(ctx context.Context, f repository.Filter) ([]*repository.FileRecord, error) {
	return p.repo.List(ctx, f)
}

// MediaTypes returns the distinct media types on record.
func (p *Pipeline) MediaTypes(ctx context.Context) ([]string, error) {
	return p.repo.MediaTypes(ctx)
}

// Open returns a record together with a reader for its payload.
func (p *Pipeline) Open(ctx context.Context, id string) (*repository.FileRecord, io.ReadCloser, error) {
	rec, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	body, err := p.blobs.Open(ctx, rec.StoredPayloadRef)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil, fmt.Errorf("ingest: payload of %s: %w", id, repository.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("%w: ingest: open payload: %w", repository.ErrStoreUnavailable, err)
	}
	return rec, body, nil
}

// Delete removes a record. Duplicates that referenced it keep their payload
// ref but lose their canonical ref; the payload itself is released once no
// record shares it.
func (p *Pipeline) Delete(ctx context.Context, id string) (*repository.FileRecord, error) {
	rec, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := p.locker.Lock(rec.ContentFingerprint)
	defer unlock()

	removed, err := p.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !removed.IsDuplicate {
		p.resolver.Forget(removed.ContentFingerprint)
	}
	metrics.DeletedTotal.Inc()

	n, err := p.repo.CountByPayloadRef(ctx, removed.StoredPayloadRef)
	switch {
	case err != nil:
		p.logger.Error("payload reference count failed, keeping payload",
			slog.String("ref", removed.StoredPayloadRef),
			slog.String("error", err.Error()),
		)
	case n == 0:
		if err := p.blobs.Delete(ctx, removed.StoredPayloadRef); err != nil {
			p.logger.Error("failed to delete payload",
				slog.String("ref", removed.StoredPayloadRef),
				slog.String("error", err.Error()),
			)
		}
	}

	p.logger.Info("file deleted",
		slog.String("file_id", removed.ID),
		slog.Bool("duplicate", removed.IsDuplicate),
		slog.Int64("remaining_refs", n),
	)
	return removed, nil
}

// storeErr makes sure err carries repository.ErrStoreUnavailable.
func storeErr(err error) error {
	if errors.Is(err, repository.ErrStoreUnavailable) {
		return fmt.Errorf("ingest: %w", err)
	}
	return fmt.Errorf("%w: ingest: %w", repository.ErrStoreUnavailable, err)
}
