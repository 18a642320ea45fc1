package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const s3Timeout = 30 * time.Second

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds configuration for S3-compatible storage.
type S3Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Endpoint  string // optional, for MinIO and other S3-compatible services
	Prefix    string // prepended to every object key
	SpoolDir  string // local directory for staging uploads; os.TempDir() if empty
}

// S3 stores payloads as objects in an S3-compatible bucket. Uploads are
// spooled to a local temp file until they are committed.
type S3 struct {
	client   s3API
	bucket   string
	prefix   string
	spoolDir string
	logger   *slog.Logger
}

// NewS3 creates the client and makes sure the bucket exists.
func NewS3(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load AWS config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	if cfg.SpoolDir != "" {
		if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
			return nil, fmt.Errorf("blobstore: create spool dir: %w", err)
		}
	}

	s := newS3(client, cfg, logger)
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newS3(client s3API, cfg S3Config, logger *slog.Logger) *S3 {
	spool := cfg.SpoolDir
	if spool == "" {
		spool = os.TempDir()
	}
	return &S3{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		spoolDir: spool,
		logger:   logger.With(slog.String("component", "s3_store")),
	}
}

func (s *S3) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s3Timeout)
	defer cancel()

	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("blobstore: bucket %q does not exist and could not be created: %w", s.bucket, err)
	}
	s.logger.Info("created S3 bucket", slog.String("bucket", s.bucket))
	return nil
}

// Begin spools the upload to a local temp file.
func (s *S3) Begin(context.Context) (Upload, error) {
	f, err := os.CreateTemp(s.spoolDir, "upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("blobstore: create spool file: %w", err)
	}
	return &s3Upload{store: s, f: f}, nil
}

// Open streams an object.
func (s *S3) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + ref),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return nil, fmt.Errorf("blobstore: open %s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("blobstore: open %s: %w", ref, err)
	}
	return out.Body, nil
}

// Delete removes an object.
func (s *S3) Delete(ctx context.Context, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, s3Timeout)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + ref),
	})
	if err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", ref, err)
	}
	return nil
}

// Check verifies the bucket is reachable.
func (s *S3) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s3Timeout)
	defer cancel()

	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("blobstore: bucket %q unreachable: %w", s.bucket, err)
	}
	return nil
}

func (s *S3) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, err
}

type s3Upload struct {
	store *S3
	f     *os.File
	size  int64
	done  bool
}

func (u *s3Upload) Write(p []byte) (int, error) {
	n, err := u.f.Write(p)
	u.size += int64(n)
	return n, err
}

// Commit uploads the spooled file unless the object already exists.
func (u *s3Upload) Commit(ctx context.Context, key string) (string, bool, error) {
	if u.done {
		return "", false, errors.New("blobstore: upload already finished")
	}
	defer u.Discard()

	ctx, cancel := context.WithTimeout(ctx, s3Timeout)
	defer cancel()

	objectKey := u.store.prefix + key
	found, err := u.store.exists(ctx, objectKey)
	if err != nil {
		return "", false, fmt.Errorf("blobstore: head %s: %w", key, err)
	}
	if found {
		return key, false, nil
	}

	if _, err := u.f.Seek(0, io.SeekStart); err != nil {
		return "", false, fmt.Errorf("blobstore: rewind spool file: %w", err)
	}
	_, err = u.store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.store.bucket),
		Key:           aws.String(objectKey),
		Body:          u.f,
		ContentLength: aws.Int64(u.size),
	})
	if err != nil {
		return "", false, fmt.Errorf("blobstore: put %s: %w", key, err)
	}
	return key, true, nil
}

// Discard removes the spool file.
func (u *s3Upload) Discard() error {
	if u.done {
		return nil
	}
	u.done = true
	u.f.Close()
	if err := os.Remove(u.f.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: remove spool file: %w", err)
	}
	return nil
}
