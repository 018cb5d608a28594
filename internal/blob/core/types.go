// Package core defines the object store contract shared by the raw upload
// area and the chunk area, plus the content hash both sides agree on.
package core

import (
	"context"
	"encoding/base64"
	"hash"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem represents the local filesystem implementation.
	DriverFilesystem Driver = "fs" // local filesystem (default, dev)
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3" // S3 / MinIO compatible
	// DriverMemory represents an in-memory implementation typically used in tests.
	DriverMemory Driver = "memory" // in-memory (tests)
)

// MetaContentHash is the user metadata key under which backends without a
// native content hash persist ContentHash.
const MetaContentHash = "content-hash"

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // User metadata (small, flat key-value)
}

// SignedURLOptions holds options for generating a pre-signed URL.
type SignedURLOptions struct {
	Method  string        // GET only
	Expiry  time.Duration // default 15m
	Headers map[string]string
}

// Info describes a stored blob.
type Info struct {
	Key         string `json:"key"`
	Size        int64  `json:"size_bytes"`
	ContentType string `json:"content_type,omitempty"`
	ETag        string `json:"etag,omitempty"`
	// ContentHash is the ledger hash of the object bytes, empty when the
	// object was written by something other than a Store.
	ContentHash  string            `json:"content_hash,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store provides a thin S3-like abstraction used by higher layers.
// Put replaces any existing object at key; object stores used for chunks
// have no append or partial write, so every merge rewrites the whole object.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// ErrUnsupported is returned when an optional capability is not available.
var ErrUnsupported = errors.New("blobstore: unsupported operation")

// ErrNotFound is returned (wrapped) by Get and Head when no object exists at key.
var ErrNotFound = errors.New("blobstore: object not found")

// NewContentHasher returns a streaming hasher for ContentHash.
func NewContentHasher() hash.Hash { return blake3.New() }

// EncodeContentHash renders a digest from NewContentHasher.
func EncodeContentHash(sum []byte) string { return base64.StdEncoding.EncodeToString(sum) }

// ContentHash is base64 of the BLAKE3-256 digest of data.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return EncodeContentHash(sum[:])
}
