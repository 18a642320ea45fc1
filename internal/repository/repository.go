package repository

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("file record not found")

	// ErrCanonicalExists is returned by Create when a canonical record with
	// the same fingerprint is already stored.
	ErrCanonicalExists = errors.New("canonical record already exists for fingerprint")

	// ErrCanonicalGone is returned by Create when a duplicate references a
	// canonical record that no longer exists.
	ErrCanonicalGone = errors.New("referenced canonical record does not exist")

	// ErrStoreUnavailable wraps every failure to reach or write the store.
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// FileRecord represents one upload. Records are addressed by ID; duplicates
// point at their canonical record by ID, never by pointer.
type FileRecord struct {
	ID                 string
	StoredPayloadRef   string
	OriginalName       string
	MediaType          string
	SizeBytes          int64
	ContentFingerprint string
	IsDuplicate        bool
	CanonicalRef       *string
	CreatedAt          time.Time
}

// StorageSaved is the number of bytes this record did not add to physical
// storage.
func (r *FileRecord) StorageSaved() int64 {
	if r.IsDuplicate {
		return r.SizeBytes
	}
	return 0
}

func (r *FileRecord) clone() *FileRecord {
	c := *r
	if r.CanonicalRef != nil {
		ref := *r.CanonicalRef
		c.CanonicalRef = &ref
	}
	return &c
}

// Filter narrows List results. Zero values disable a predicate; bounds are
// inclusive.
type Filter struct {
	NameContains      string
	MediaTypeContains string
	MinSize           *int64
	MaxSize           *int64
	CreatedFrom       *time.Time
	CreatedTo         *time.Time
	Limit             int
	Offset            int
}

// Summary holds counts and byte sums taken from one consistent snapshot.
type Summary struct {
	TotalFiles     int64
	CanonicalFiles int64
	DuplicateFiles int64
	TotalBytes     int64
	CanonicalBytes int64
}

// Repository is the record store. Implementations must honour the supplied
// context for cancellation and timeouts.
type Repository interface {
	// Create inserts a new record. A canonical record fails with
	// ErrCanonicalExists if its fingerprint already has a canonical record;
	// a duplicate fails with ErrCanonicalGone if its CanonicalRef does not
	// name an existing canonical record.
	Create(ctx context.Context, record *FileRecord) error

	// FindCanonical returns the earliest-created canonical record with the
	// given fingerprint.
	FindCanonical(ctx context.Context, fingerprint string) (*FileRecord, error)

	// GetByID retrieves a record by ID.
	GetByID(ctx context.Context, id string) (*FileRecord, error)

	// List returns records matching f, newest first.
	List(ctx context.Context, f Filter) ([]*FileRecord, error)

	// MediaTypes returns the distinct media types in ascending order.
	MediaTypes(ctx context.Context) ([]string, error)

	// Summarize aggregates counts and sizes.
	Summarize(ctx context.Context) (Summary, error)

	// CountByPayloadRef counts records sharing a stored payload reference.
	CountByPayloadRef(ctx context.Context, ref string) (int64, error)

	// Delete removes a record and clears CanonicalRef on every duplicate that
	// referenced it. It returns the removed record.
	Delete(ctx context.Context, id string) (*FileRecord, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

func (f Filter) match(r *FileRecord) bool {
	if f.NameContains != "" && !containsFold(r.OriginalName, f.NameContains) {
		return false
	}
	if f.MediaTypeContains != "" && !containsFold(r.MediaType, f.MediaTypeContains) {
		return false
	}
	if f.MinSize != nil && r.SizeBytes < *f.MinSize {
		return false
	}
	if f.MaxSize != nil && r.SizeBytes > *f.MaxSize {
		return false
	}
	if f.CreatedFrom != nil && r.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && r.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	return true
}
