// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/shantanudwvd/File-Vault/internal/hasher"
)

// Record store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverPgx    = "pgx"
)

// Payload store backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

type Config struct {
	// Application
	AppEnv          string
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration

	// Record store
	DBDriver string
	DBDSN    string

	// Payload store
	StorageBackend string
	UploadDir      string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3Endpoint     string // optional, for MinIO and other S3-compatible services
	S3Prefix       string
	S3SpoolDir     string // local staging for uploads before they are sent to the bucket

	// Ingestion
	HashAlgorithm     string
	Workers           int
	MaxUploadBytes    int64
	ResolverCacheSize int

	// Observability
	SentryDSN string
}

// Load reads envFile (when present) and the process environment. A missing
// envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config: load %s: %w", envFile, err)
			}
			slog.Info("no .env file found, using environment variables", slog.String("path", envFile))
		}
	}

	cfg := &Config{
		AppEnv:          envString("APP_ENV", "development"),
		HTTPAddr:        envString("HTTP_ADDR", ":8080"),
		GRPCAddr:        envString("GRPC_ADDR", ":9090"),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		DBDriver: envString("DB_DRIVER", DriverSQLite),
		DBDSN:    envString("DB_DSN", "./data/filevault.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"),

		StorageBackend: envString("STORAGE_BACKEND", StorageLocal),
		UploadDir:      envString("UPLOAD_DIR", "./data/payloads"),
		S3Region:       envString("S3_REGION", "us-east-1"),
		S3Bucket:       envString("S3_BUCKET", ""),
		S3AccessKey:    envString("S3_ACCESS_KEY", ""),
		S3SecretKey:    envString("S3_SECRET_KEY", ""),
		S3Endpoint:     envString("S3_ENDPOINT", ""),
		S3Prefix:       envString("S3_PREFIX", ""),
		S3SpoolDir:     envString("S3_SPOOL_DIR", ""),

		HashAlgorithm:     envString("HASH_ALGORITHM", hasher.SHA256),
		Workers:           envInt("WORKERS", 4),
		MaxUploadBytes:    envInt64("MAX_UPLOAD_BYTES", 100<<20),
		ResolverCacheSize: envInt("RESOLVER_CACHE_SIZE", 10_000),

		SentryDSN: envString("SENTRY_DSN", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether APP_ENV is development.
func (c *Config) IsDevelopment() bool { return c.AppEnv == "development" }

func (c *Config) validate() error {
	var errs []error

	switch c.DBDriver {
	case DriverMemory, DriverSQLite, DriverMySQL, DriverPgx:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not one of memory, sqlite, mysql, pgx", c.DBDriver))
	}
	if c.DBDriver != DriverMemory && c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}

	switch c.StorageBackend {
	case StorageLocal:
		if c.UploadDir == "" {
			errs = append(errs, errors.New("UPLOAD_DIR is required for local storage"))
		}
	case StorageS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND %q is not one of local, s3", c.StorageBackend))
	}

	if _, err := hasher.New(c.HashAlgorithm); err != nil {
		errs = append(errs, fmt.Errorf("HASH_ALGORITHM: %w", err))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("WORKERS must be at least 1"))
	}
	if c.MaxUploadBytes < 1 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
