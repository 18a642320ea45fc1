package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shantanudwvd/File-Vault/internal/repository"
)

type failingSource struct{ err error }

func (f failingSource) Summarize(context.Context) (repository.Summary, error) {
	return repository.Summary{}, f.err
}

func create(t *testing.T, repo *repository.MemoryRepo, id, fp string, size int64, canonicalID string) {
	t.Helper()
	rec := &repository.FileRecord{
		ID:                 id,
		StoredPayloadRef:   "ref-" + fp,
		OriginalName:       id,
		MediaType:          "text/plain",
		SizeBytes:          size,
		ContentFingerprint: fp,
		CreatedAt:          time.Now().UTC(),
	}
	if canonicalID != "" {
		rec.IsDuplicate = true
		rec.CanonicalRef = &canonicalID
	}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create %s: %v", id, err)
	}
}

func TestComputeEmptyStore(t *testing.T) {
	got, err := NewAggregator(repository.NewMemoryRepo()).Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got != (StorageStats{}) {
		t.Errorf("stats = %+v, want zeros", got)
	}
}

func TestComputeCanonicalAndDuplicate(t *testing.T) {
	repo := repository.NewMemoryRepo()
	create(t, repo, "a", "fp-hello", 5, "")
	create(t, repo, "b", "fp-hello", 5, "a")

	agg := NewAggregator(repo)
	got, err := agg.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	want := StorageStats{
		TotalFiles:           2,
		UniqueFiles:          1,
		DuplicateFiles:       1,
		TotalSizeBytes:       10,
		ActualStorageBytes:   5,
		SavedStorageBytes:    5,
		EfficiencyPercentage: 50,
	}
	if got != want {
		t.Errorf("stats = %+v, want %+v", got, want)
	}

	again, err := agg.Compute(context.Background())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if again != got {
		t.Errorf("second Compute = %+v, want %+v", again, got)
	}
}

func TestFromSummaryRounding(t *testing.T) {
	tests := []struct {
		name string
		in   repository.Summary
		want float64
	}{
		{"no duplicates", repository.Summary{TotalFiles: 2, CanonicalFiles: 2, TotalBytes: 10, CanonicalBytes: 10}, 0},
		{"one third", repository.Summary{TotalFiles: 3, CanonicalFiles: 1, DuplicateFiles: 2, TotalBytes: 3, CanonicalBytes: 2}, 33.33},
		{"two thirds", repository.Summary{TotalFiles: 3, CanonicalFiles: 1, DuplicateFiles: 2, TotalBytes: 3, CanonicalBytes: 1}, 66.67},
		{"zero bytes", repository.Summary{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromSummary(tt.in)
			if got.EfficiencyPercentage != tt.want {
				t.Errorf("efficiency = %v, want %v", got.EfficiencyPercentage, tt.want)
			}
			if got.ActualStorageBytes != tt.in.CanonicalBytes {
				t.Errorf("actual = %d, want %d", got.ActualStorageBytes, tt.in.CanonicalBytes)
			}
			if got.SavedStorageBytes != tt.in.TotalBytes-tt.in.CanonicalBytes {
				t.Errorf("saved = %d", got.SavedStorageBytes)
			}
		})
	}
}

func TestComputePropagatesStoreError(t *testing.T) {
	_, err := NewAggregator(failingSource{err: repository.ErrStoreUnavailable}).Compute(context.Background())
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		t.Errorf("got %v, want ErrStoreUnavailable", err)
	}
}
