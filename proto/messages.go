package proto

// File is the wire form of a file record. Times are RFC 3339 with
// microseconds, in UTC.
type File struct {
	ID            string `cbor:"id"`
	OriginalName  string `cbor:"original_filename"`
	MediaType     string `cbor:"file_type"`
	Size          int64  `cbor:"size"`
	ContentHash   string `cbor:"content_hash"`
	IsDuplicate   bool   `cbor:"is_duplicate"`
	ReferenceFile string `cbor:"reference_file,omitempty"`
	UploadedAt    string `cbor:"uploaded_at"`
	StorageSaved  int64  `cbor:"storage_saved"`
}

type IngestFileRequest struct {
	Name      string `cbor:"name"`
	MediaType string `cbor:"media_type,omitempty"`
	Content   []byte `cbor:"content"`
}

type IngestFileResponse struct {
	File *File `cbor:"file"`
}

type GetFileRequest struct {
	ID string `cbor:"id"`
}

type GetFileResponse struct {
	File *File `cbor:"file"`
}

type DeleteFileRequest struct {
	ID string `cbor:"id"`
}

type DeleteFileResponse struct {
	ID string `cbor:"id"`
}

type GetStatsRequest struct{}

type GetStatsResponse struct {
	TotalFiles           int64   `cbor:"total_files"`
	UniqueFiles          int64   `cbor:"unique_files"`
	DuplicateFiles       int64   `cbor:"duplicate_files"`
	TotalSizeBytes       int64   `cbor:"total_size_bytes"`
	ActualStorageBytes   int64   `cbor:"actual_storage_bytes"`
	SavedStorageBytes    int64   `cbor:"saved_storage_bytes"`
	EfficiencyPercentage float64 `cbor:"efficiency_percentage"`
}

type ListMediaTypesRequest struct{}

type ListMediaTypesResponse struct {
	MediaTypes []string `cbor:"media_types"`
}
