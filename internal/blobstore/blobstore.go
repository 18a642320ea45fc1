// Package blobstore keeps the physical payload bytes of canonical uploads.
//
// Payloads are staged while they are hashed and only committed once the
// caller knows the upload is canonical. Committed payloads are addressed by
// content, so committing the same key twice is a no-op.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned when a payload reference does not exist.
var ErrNotFound = errors.New("payload not found")

// Store is the payload storage backend.
type Store interface {
	// Begin opens a staging area for one upload.
	Begin(ctx context.Context) (Upload, error)

	// Open streams a committed payload.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// Delete removes a committed payload. Missing payloads are not an error.
	Delete(ctx context.Context, ref string) error

	// Check reports whether the backend is usable.
	Check(ctx context.Context) error
}

// Upload is a staged payload. Exactly one of Commit or Discard takes effect;
// calling Discard after Commit is a no-op.
type Upload interface {
	io.Writer

	// Commit stores the staged bytes under key and returns the payload
	// reference. created is false when key already held a payload.
	Commit(ctx context.Context, key string) (ref string, created bool, err error)

	// Discard drops the staged bytes.
	Discard() error
}

// Key returns the content-addressed key for a fingerprint: ab/cd/abcd....
func Key(fingerprint string) (string, error) {
	if len(fingerprint) < 4 {
		return "", fmt.Errorf("blobstore: fingerprint %q too short", fingerprint)
	}
	return fingerprint[:2] + "/" + fingerprint[2:4] + "/" + fingerprint, nil
}
