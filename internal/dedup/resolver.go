// Package dedup decides whether an upload is canonical or a duplicate of
// content that is already stored.
package dedup

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shantanudwvd/File-Vault/internal/metrics"
	"github.com/shantanudwvd/File-Vault/internal/repository"
)

// Canonical identifies the record holding the stored payload for a
// fingerprint.
type Canonical struct {
	ID               string
	StoredPayloadRef string
}

// Resolution is the outcome of resolving a fingerprint.
type Resolution struct {
	IsDuplicate bool
	Canonical   *Canonical // set iff IsDuplicate
}

// Resolver looks up canonical records by fingerprint. Lookups go to the
// record store unless a bounded cache already knows the canonical.
//
// Resolve on its own is a check without an act; callers that persist the
// outcome must hold the fingerprint's Locker section and still handle
// repository.ErrCanonicalExists / ErrCanonicalGone from the store.
type Resolver struct {
	repo  repository.Repository
	cache *lru.Cache[string, Canonical]
}

// NewResolver creates a resolver. cacheSize <= 0 disables the cache.
func NewResolver(repo repository.Repository, cacheSize int) (*Resolver, error) {
	r := &Resolver{repo: repo}
	if cacheSize > 0 {
		c, err := lru.New[string, Canonical](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("dedup: create cache: %w", err)
		}
		r.cache = c
	}
	return r, nil
}

// Resolve reports whether content with this fingerprint already has a
// canonical record.
func (r *Resolver) Resolve(ctx context.Context, fingerprint string) (Resolution, error) {
	if r.cache != nil {
		if c, ok := r.cache.Get(fingerprint); ok {
			metrics.ResolverCacheHits.Inc()
			return Resolution{IsDuplicate: true, Canonical: &c}, nil
		}
		metrics.ResolverCacheMisses.Inc()
	}

	rec, err := r.repo.FindCanonical(ctx, fingerprint)
	if errors.Is(err, repository.ErrNotFound) {
		return Resolution{}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("dedup: resolve: %w", err)
	}

	c := Canonical{ID: rec.ID, StoredPayloadRef: rec.StoredPayloadRef}
	if r.cache != nil {
		r.cache.Add(fingerprint, c)
	}
	return Resolution{IsDuplicate: true, Canonical: &c}, nil
}

// Remember caches a newly persisted canonical record.
func (r *Resolver) Remember(rec *repository.FileRecord) {
	if r.cache == nil || rec.IsDuplicate {
		return
	}
	r.cache.Add(rec.ContentFingerprint, Canonical{ID: rec.ID, StoredPayloadRef: rec.StoredPayloadRef})
}

// Forget drops any cached canonical for fingerprint.
func (r *Resolver) Forget(fingerprint string) {
	if r.cache != nil {
		r.cache.Remove(fingerprint)
	}
}
