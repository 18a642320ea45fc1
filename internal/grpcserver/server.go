// Package grpcserver implements the File Vault gRPC service.
package grpcserver

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shantanudwvd/File-Vault/internal/hasher"
	"github.com/shantanudwvd/File-Vault/internal/ingest"
	"github.com/shantanudwvd/File-Vault/internal/repository"
	"github.com/shantanudwvd/File-Vault/internal/stats"
	pb "github.com/shantanudwvd/File-Vault/proto"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Files is the ingestion surface the service exposes.
type Files interface {
	Ingest(ctx context.Context, up ingest.Upload) (*repository.FileRecord, error)
	Get(ctx context.Context, id string) (*repository.FileRecord, error)
	Delete(ctx context.Context, id string) (*repository.FileRecord, error)
	MediaTypes(ctx context.Context) ([]string, error)
}

// Stats computes storage statistics.
type Stats interface {
	Compute(ctx context.Context) (stats.StorageStats, error)
}

// Server implements the FileServiceServer gRPC interface.
type Server struct {
	files  Files
	stats  Stats
	logger *slog.Logger
}

// NewServer creates a gRPC server backed by the given pipeline and stats.
func NewServer(files Files, st Stats, logger *slog.Logger) *Server {
	return &Server{files: files, stats: st, logger: logger.With(slog.String("component", "grpc"))}
}

// IngestFile stores the uploaded content and returns its record.
func (s *Server) IngestFile(ctx context.Context, req *pb.IngestFileRequest) (*pb.IngestFileResponse, error) {
	s.logger.Info("grpc IngestFile",
		slog.String("name", req.Name),
		slog.Int("bytes", len(req.Content)),
	)

	rec, err := s.files.Ingest(ctx, ingest.Upload{
		Body:      bytes.NewReader(req.Content),
		Name:      req.Name,
		MediaType: req.MediaType,
	})
	if err != nil {
		return nil, s.mapError(err, "IngestFile")
	}
	return &pb.IngestFileResponse{File: toProto(rec)}, nil
}

// GetFile returns one record.
func (s *Server) GetFile(ctx context.Context, req *pb.GetFileRequest) (*pb.GetFileResponse, error) {
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "GetFile: id is required")
	}
	rec, err := s.files.Get(ctx, req.ID)
	if err != nil {
		return nil, s.mapError(err, "GetFile")
	}
	return &pb.GetFileResponse{File: toProto(rec)}, nil
}

// DeleteFile removes a record.
func (s *Server) DeleteFile(ctx context.Context, req *pb.DeleteFileRequest) (*pb.DeleteFileResponse, error) {
	s.logger.Info("grpc DeleteFile", slog.String("file_id", req.ID))

	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "DeleteFile: id is required")
	}
	if _, err := s.files.Delete(ctx, req.ID); err != nil {
		return nil, s.mapError(err, "DeleteFile")
	}
	return &pb.DeleteFileResponse{ID: req.ID}, nil
}

// GetStats returns storage statistics.
func (s *Server) GetStats(ctx context.Context, _ *pb.GetStatsRequest) (*pb.GetStatsResponse, error) {
	st, err := s.stats.Compute(ctx)
	if err != nil {
		return nil, s.mapError(err, "GetStats")
	}
	return &pb.GetStatsResponse{
		TotalFiles:           st.TotalFiles,
		UniqueFiles:          st.UniqueFiles,
		DuplicateFiles:       st.DuplicateFiles,
		TotalSizeBytes:       st.TotalSizeBytes,
		ActualStorageBytes:   st.ActualStorageBytes,
		SavedStorageBytes:    st.SavedStorageBytes,
		EfficiencyPercentage: st.EfficiencyPercentage,
	}, nil
}

// ListMediaTypes returns the distinct media types on record.
func (s *Server) ListMediaTypes(ctx context.Context, _ *pb.ListMediaTypesRequest) (*pb.ListMediaTypesResponse, error) {
	types, err := s.files.MediaTypes(ctx)
	if err != nil {
		return nil, s.mapError(err, "ListMediaTypes")
	}
	return &pb.ListMediaTypesResponse{MediaTypes: types}, nil
}

// mapError converts pipeline and store errors to gRPC status codes.
func (s *Server) mapError(err error, method string) error {
	var readErr *hasher.ReadError
	switch {
	case errors.Is(err, ingest.ErrEmptyUpload):
		return status.Errorf(codes.InvalidArgument, "%s: upload is empty", method)
	case errors.As(err, &readErr):
		return status.Errorf(codes.InvalidArgument, "%s: upload stream interrupted", method)
	case errors.Is(err, repository.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s: file not found", method)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s: deadline exceeded", method)
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s: request cancelled", method)
	case errors.Is(err, repository.ErrStoreUnavailable):
		s.logger.Error("store unavailable", slog.String("method", method), slog.String("error", err.Error()))
		return status.Errorf(codes.Unavailable, "%s: storage unavailable", method)
	}
	s.logger.Error("internal error", slog.String("method", method), slog.String("error", err.Error()))
	return status.Errorf(codes.Internal, "%s: internal error", method)
}

func toProto(rec *repository.FileRecord) *pb.File {
	f := &pb.File{
		ID:           rec.ID,
		OriginalName: rec.OriginalName,
		MediaType:    rec.MediaType,
		Size:         rec.SizeBytes,
		ContentHash:  rec.ContentFingerprint,
		IsDuplicate:  rec.IsDuplicate,
		UploadedAt:   rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		StorageSaved: rec.StorageSaved(),
	}
	if rec.CanonicalRef != nil {
		f.ReferenceFile = *rec.CanonicalRef
	}
	return f
}
