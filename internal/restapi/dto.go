package restapi

import (
	"time"

	"github.com/shantanudwvd/File-Vault/internal/repository"
	"github.com/shantanudwvd/File-Vault/internal/stats"
)

// fileResponse is a record as clients see it. File locates the payload.
type fileResponse struct {
	ID               string    `json:"id"`
	File             string    `json:"file"`
	OriginalFilename string    `json:"original_filename"`
	FileType         string    `json:"file_type"`
	Size             int64     `json:"size"`
	ContentHash      string    `json:"content_hash"`
	IsDuplicate      bool      `json:"is_duplicate"`
	ReferenceFile    *string   `json:"reference_file"`
	UploadedAt       time.Time `json:"uploaded_at"`
	StorageSaved     int64     `json:"storage_saved"`
}

func toFileResponse(rec *repository.FileRecord) fileResponse {
	return fileResponse{
		ID:               rec.ID,
		File:             "/files/" + rec.ID + "/content",
		OriginalFilename: rec.OriginalName,
		FileType:         rec.MediaType,
		Size:             rec.SizeBytes,
		ContentHash:      rec.ContentFingerprint,
		IsDuplicate:      rec.IsDuplicate,
		ReferenceFile:    rec.CanonicalRef,
		UploadedAt:       rec.CreatedAt,
		StorageSaved:     rec.StorageSaved(),
	}
}

type statsResponse struct {
	TotalFiles           int64   `json:"total_files"`
	UniqueFiles          int64   `json:"unique_files"`
	DuplicateFiles       int64   `json:"duplicate_files"`
	TotalSizeBytes       int64   `json:"total_size_bytes"`
	ActualStorageBytes   int64   `json:"actual_storage_bytes"`
	SavedStorageBytes    int64   `json:"saved_storage_bytes"`
	EfficiencyPercentage float64 `json:"efficiency_percentage"`
}

func toStatsResponse(s stats.StorageStats) statsResponse {
	return statsResponse{
		TotalFiles:           s.TotalFiles,
		UniqueFiles:          s.UniqueFiles,
		DuplicateFiles:       s.DuplicateFiles,
		TotalSizeBytes:       s.TotalSizeBytes,
		ActualStorageBytes:   s.ActualStorageBytes,
		SavedStorageBytes:    s.SavedStorageBytes,
		EfficiencyPercentage: s.EfficiencyPercentage,
	}
}

// batchItem is one entry of a batch upload response.
type batchItem struct {
	Filename string        `json:"filename"`
	Status   int           `json:"status"`
	File     *fileResponse `json:"file,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}
