package blobstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const stagingDir = ".staging"

// Local stores payloads under a directory on the local filesystem.
type Local struct {
	dir string
}

// NewLocal creates the payload and staging directories if needed.
func NewLocal(dir string) (*Local, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(filepath.Join(dir, stagingDir), 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create dirs: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Begin creates a temp file in the staging directory.
func (l *Local) Begin(context.Context) (Upload, error) {
	f, err := os.CreateTemp(filepath.Join(l.dir, stagingDir), "upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("blobstore: create temp file: %w", err)
	}
	return &localUpload{store: l, f: f, bw: bufio.NewWriter(f)}, nil
}

// Open opens a committed payload.
func (l *Local) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	path, err := l.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blobstore: open %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: open %s: %w", ref, err)
	}
	return f, nil
}

// Delete removes a committed payload.
func (l *Local) Delete(_ context.Context, ref string) error {
	path, err := l.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blobstore: delete %s: %w", ref, err)
	}
	return nil
}

// Check verifies the payload directory is accessible.
func (l *Local) Check(context.Context) error {
	if _, err := os.Stat(l.dir); err != nil {
		return fmt.Errorf("blobstore: payload dir inaccessible: %w", err)
	}
	return nil
}

// path resolves ref inside the payload directory and rejects traversal.
func (l *Local) path(ref string) (string, error) {
	p := filepath.Clean(filepath.Join(l.dir, filepath.FromSlash(ref)))
	if !strings.HasPrefix(p, l.dir+string(os.PathSeparator)) || strings.HasPrefix(ref, stagingDir) {
		return "", fmt.Errorf("blobstore: invalid payload ref %q", ref)
	}
	return p, nil
}

type localUpload struct {
	store *Local
	f     *os.File
	bw    *bufio.Writer
	done  bool
}

func (u *localUpload) Write(p []byte) (int, error) {
	return u.bw.Write(p)
}

// Commit flushes, syncs and atomically renames the temp file into place.
func (u *localUpload) Commit(_ context.Context, key string) (string, bool, error) {
	if u.done {
		return "", false, errors.New("blobstore: upload already finished")
	}
	dest, err := u.store.path(key)
	if err != nil {
		u.Discard()
		return "", false, err
	}

	if err := u.bw.Flush(); err != nil {
		u.Discard()
		return "", false, fmt.Errorf("blobstore: flush: %w", err)
	}
	if err := u.f.Sync(); err != nil {
		u.Discard()
		return "", false, fmt.Errorf("blobstore: fsync: %w", err)
	}
	if err := u.f.Close(); err != nil {
		u.Discard()
		return "", false, fmt.Errorf("blobstore: close: %w", err)
	}

	if _, err := os.Stat(dest); err == nil {
		u.done = true
		os.Remove(u.f.Name())
		return key, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		u.Discard()
		return "", false, fmt.Errorf("blobstore: create dir: %w", err)
	}
	if err := os.Rename(u.f.Name(), dest); err != nil {
		u.Discard()
		return "", false, fmt.Errorf("blobstore: atomic rename: %w", err)
	}
	u.done = true
	return key, true, nil
}

// Discard closes and removes the temp file.
func (u *localUpload) Discard() error {
	if u.done {
		return nil
	}
	u.done = true
	u.f.Close()
	if err := os.Remove(u.f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blobstore: remove temp file: %w", err)
	}
	return nil
}
