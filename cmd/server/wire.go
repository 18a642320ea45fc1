package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shantanudwvd/File-Vault/internal/blobstore"
	"github.com/shantanudwvd/File-Vault/internal/config"
	"github.com/shantanudwvd/File-Vault/internal/db"
	"github.com/shantanudwvd/File-Vault/internal/repository"
)

// openRecords connects the configured record store and brings its schema
// up to date. The returned func releases it.
func openRecords(cfg *config.Config, log *slog.Logger) (repository.Repository, func(), error) {
	if cfg.DBDriver == config.DriverMemory {
		log.Warn("using in-memory record store; records are lost on exit")
		return repository.NewMemoryRepo(), func() {}, nil
	}

	conn, err := db.Open(cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(conn.DB, cfg.DBDriver, log); err != nil {
		conn.Close()
		return nil, nil, err
	}

	repo, err := repository.NewSQLRepo(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("init repository: %w", err)
	}
	return repo, func() {
		repo.Close()
		conn.Close()
	}, nil
}

// rollbackRecords reverts the most recent schema migration.
func rollbackRecords(cfg *config.Config, log *slog.Logger) error {
	if cfg.DBDriver == config.DriverMemory {
		return fmt.Errorf("nothing to roll back for the %s record store", cfg.DBDriver)
	}
	conn, err := db.Open(cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	return db.MigrateDown(conn.DB, cfg.DBDriver, log)
}

// openPayloads builds the configured payload store.
func openPayloads(ctx context.Context, cfg *config.Config, log *slog.Logger) (blobstore.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		s, err := blobstore.NewS3(ctx, s3Config(cfg), log)
		if err != nil {
			return nil, err
		}
		log.Info("payload store ready", slog.String("backend", "s3"), slog.String("bucket", cfg.S3Bucket))
		return s, nil
	default:
		l, err := blobstore.NewLocal(cfg.UploadDir)
		if err != nil {
			return nil, err
		}
		log.Info("payload store ready", slog.String("backend", "local"), slog.String("dir", cfg.UploadDir))
		return l, nil
	}
}

func s3Config(cfg *config.Config) blobstore.S3Config {
	return blobstore.S3Config{
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Endpoint:  cfg.S3Endpoint,
		Prefix:    cfg.S3Prefix,
		SpoolDir:  cfg.S3SpoolDir,
	}
}
