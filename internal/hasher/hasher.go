// Package hasher provides streaming content fingerprints for uploaded payloads.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"

	"github.com/zeebo/blake3"
)

// Supported fingerprint algorithms. Both produce 32-byte digests, so a
// fingerprint is always 64 hex characters.
const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// FingerprintLen is the length of a hex-encoded fingerprint.
const FingerprintLen = 64

// sniffLen is how many leading bytes are kept for content type detection.
const sniffLen = 512

const chunkSize = 32 << 10

// Sum is the result of hashing one payload.
type Sum struct {
	Fingerprint string // hex-encoded digest
	Size        int64  // bytes actually consumed from the stream
	ContentType string // sniffed from the first 512 bytes
}

// ReadError reports that the upload stream failed before it was fully
// consumed. No partial Sum accompanies it.
type ReadError struct {
	Read int64 // bytes consumed before the failure
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("hasher: read after %d bytes: %v", e.Read, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Hasher computes fingerprints with a fixed algorithm.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns a Hasher for the named algorithm. An empty name selects SHA256.
func New(algorithm string) (*Hasher, error) {
	switch algorithm {
	case "", SHA256:
		return &Hasher{algorithm: SHA256, newHash: sha256.New}, nil
	case BLAKE3:
		return &Hasher{algorithm: BLAKE3, newHash: func() hash.Hash { return blake3.New() }}, nil
	default:
		return nil, fmt.Errorf("hasher: unsupported algorithm %q", algorithm)
	}
}

// Algorithm returns the algorithm name.
func (h *Hasher) Algorithm() string { return h.algorithm }

// Digest streams r through the hash and returns its Sum.
func (h *Hasher) Digest(r io.Reader) (Sum, error) {
	return h.Copy(io.Discard, r)
}

// Copy streams src into dst while hashing it. The payload is processed in
// fixed-size chunks and is never held in memory as a whole. A failure reading
// src is returned as *ReadError; a failure writing dst is returned as a plain
// wrapped error.
func (h *Hasher) Copy(dst io.Writer, src io.Reader) (Sum, error) {
	digest := h.newHash()
	head := make([]byte, 0, sniffLen)
	buf := make([]byte, chunkSize)

	var size int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if len(head) < sniffLen {
				head = append(head, chunk[:min(n, sniffLen-len(head))]...)
			}
			digest.Write(chunk)
			if _, werr := dst.Write(chunk); werr != nil {
				return Sum{}, fmt.Errorf("hasher: write: %w", werr)
			}
			size += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return Sum{}, &ReadError{Read: size, Err: rerr}
		}
	}

	return Sum{
		Fingerprint: hex.EncodeToString(digest.Sum(nil)),
		Size:        size,
		ContentType: http.DetectContentType(head),
	}, nil
}
