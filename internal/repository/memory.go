package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryRepo is an in-process Repository. Records live in an arena keyed by
// ID with a secondary index by fingerprint.
type MemoryRepo struct {
	mu            sync.RWMutex
	records       map[string]*FileRecord
	byFingerprint map[string][]string // fingerprint → record IDs
	canonical     map[string]string   // fingerprint → canonical record ID
}

// NewMemoryRepo returns an empty store.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		records:       make(map[string]*FileRecord),
		byFingerprint: make(map[string][]string),
		canonical:     make(map[string]string),
	}
}

// Create inserts a new file record.
func (m *MemoryRepo) Create(ctx context.Context, rec *FileRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: repo create: %w", ErrStoreUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("%w: repo create: id %s already used", ErrStoreUnavailable, rec.ID)
	}

	if rec.IsDuplicate {
		if rec.CanonicalRef == nil {
			return fmt.Errorf("repo create: duplicate without canonical ref: %w", ErrCanonicalGone)
		}
		target, ok := m.records[*rec.CanonicalRef]
		if !ok || target.IsDuplicate {
			return fmt.Errorf("repo create: %w", ErrCanonicalGone)
		}
	} else {
		if _, ok := m.canonical[rec.ContentFingerprint]; ok {
			return fmt.Errorf("repo create: %w", ErrCanonicalExists)
		}
		m.canonical[rec.ContentFingerprint] = rec.ID
	}

	m.records[rec.ID] = rec.clone()
	m.byFingerprint[rec.ContentFingerprint] = append(m.byFingerprint[rec.ContentFingerprint], rec.ID)
	return nil
}

// FindCanonical returns the earliest-created canonical record for fingerprint.
func (m *MemoryRepo) FindCanonical(_ context.Context, fingerprint string) (*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *FileRecord
	for _, id := range m.byFingerprint[fingerprint] {
		rec := m.records[id]
		if rec.IsDuplicate {
			continue
		}
		if found == nil || earlier(rec, found) {
			found = rec
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found.clone(), nil
}

// GetByID retrieves a file record by ID.
func (m *MemoryRepo) GetByID(_ context.Context, id string) (*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

// List returns matching records, newest first.
func (m *MemoryRepo) List(_ context.Context, f Filter) ([]*FileRecord, error) {
	m.mu.RLock()
	out := make([]*FileRecord, 0, len(m.records))
	for _, rec := range m.records {
		if f.match(rec) {
			out = append(out, rec.clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return earlier(out[j], out[i]) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*FileRecord{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// MediaTypes returns the distinct media types, sorted.
func (m *MemoryRepo) MediaTypes(_ context.Context) ([]string, error) {
	m.mu.RLock()
	seen := make(map[string]struct{})
	for _, rec := range m.records {
		seen[rec.MediaType] = struct{}{}
	}
	m.mu.RUnlock()

	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, nil
}

// Summarize scans every record under one read lock.
func (m *MemoryRepo) Summarize(_ context.Context) (Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Summary
	for _, rec := range m.records {
		s.TotalFiles++
		s.TotalBytes += rec.SizeBytes
		if rec.IsDuplicate {
			s.DuplicateFiles++
			continue
		}
		s.CanonicalFiles++
		s.CanonicalBytes += rec.SizeBytes
	}
	return s, nil
}

// CountByPayloadRef counts records sharing ref.
func (m *MemoryRepo) CountByPayloadRef(_ context.Context, ref string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, rec := range m.records {
		if rec.StoredPayloadRef == ref {
			n++
		}
	}
	return n, nil
}

// Delete removes a record and clears references to it.
func (m *MemoryRepo) Delete(_ context.Context, id string) (*FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.records, id)

	ids := m.byFingerprint[rec.ContentFingerprint]
	kept := ids[:0]
	for _, other := range ids {
		if other == id {
			continue
		}
		kept = append(kept, other)
		if dup := m.records[other]; dup.CanonicalRef != nil && *dup.CanonicalRef == id {
			dup.CanonicalRef = nil
		}
	}
	if len(kept) == 0 {
		delete(m.byFingerprint, rec.ContentFingerprint)
	} else {
		m.byFingerprint[rec.ContentFingerprint] = kept
	}
	if m.canonical[rec.ContentFingerprint] == id {
		delete(m.canonical, rec.ContentFingerprint)
	}
	return rec, nil
}

// Ping always succeeds.
func (m *MemoryRepo) Ping(context.Context) error { return nil }

// earlier orders records by creation time, then ID.
func earlier(a, b *FileRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
