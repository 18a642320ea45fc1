// Package stats reports how much storage deduplication saves.
package stats

import (
	"context"
	"math"

	"github.com/shantanudwvd/File-Vault/internal/repository"
)

// Source supplies a consistent snapshot of record counts and sizes.
type Source interface {
	Summarize(ctx context.Context) (repository.Summary, error)
}

// StorageStats describes logical versus physical storage.
type StorageStats struct {
	TotalFiles           int64
	UniqueFiles          int64
	DuplicateFiles       int64
	TotalSizeBytes       int64 // as if nothing had been deduplicated
	ActualStorageBytes   int64 // canonical records only
	SavedStorageBytes    int64
	EfficiencyPercentage float64 // saved / total * 100, two decimals
}

// Aggregator computes StorageStats. It never writes.
type Aggregator struct {
	src Source
}

// NewAggregator returns an Aggregator reading from src.
func NewAggregator(src Source) *Aggregator {
	return &Aggregator{src: src}
}

// Compute returns the current statistics. Store errors are returned
// unchanged.
func (a *Aggregator) Compute(ctx context.Context) (StorageStats, error) {
	sum, err := a.src.Summarize(ctx)
	if err != nil {
		return StorageStats{}, err
	}
	return FromSummary(sum), nil
}

// FromSummary derives StorageStats from raw counts.
func FromSummary(s repository.Summary) StorageStats {
	st := StorageStats{
		TotalFiles:         s.TotalFiles,
		UniqueFiles:        s.CanonicalFiles,
		DuplicateFiles:     s.DuplicateFiles,
		TotalSizeBytes:     s.TotalBytes,
		ActualStorageBytes: s.CanonicalBytes,
		SavedStorageBytes:  s.TotalBytes - s.CanonicalBytes,
	}
	if st.TotalSizeBytes > 0 {
		pct := float64(st.SavedStorageBytes) / float64(st.TotalSizeBytes) * 100
		st.EfficiencyPercentage = math.Round(pct*100) / 100
	}
	return st
}
