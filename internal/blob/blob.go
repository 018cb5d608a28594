// Package blob is the object store facade used for raw uploads and chunks.
// Callers depend on Store; the backends live under internal/infra/blob and
// are only constructed here.
package blob

import (
	"context"

	"chunkledger/internal/blob/core"
	"chunkledger/internal/infra/blob/fs"
	memorystore "chunkledger/internal/infra/blob/memory"
	infraS3 "chunkledger/internal/infra/blob/s3"
)

type (
	Store            = core.Store
	Driver           = core.Driver
	Info             = core.Info
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	S3Config         = infraS3.Config

	// MemoryStore is the in-memory backend. FailOn makes single operations
	// fail for tests.
	MemoryStore = memorystore.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// Operations accepted by MemoryStore.FailOn.
const (
	OpPut    = memorystore.OpPut
	OpGet    = memorystore.OpGet
	OpHead   = memorystore.OpHead
	OpDelete = memorystore.OpDelete
	OpList   = memorystore.OpList
)

var (
	ErrNotFound    = core.ErrNotFound
	ErrUnsupported = core.ErrUnsupported
)

// NewFilesystem stores objects as files under root, each with a JSON sidecar
// holding its content type and content hash.
func NewFilesystem(root string) (Store, error) { return fs.New(root) }

// NewS3 connects to an S3 compatible bucket.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return infraS3.New(ctx, cfg) }

// NewMockS3ForTests returns an S3 store backed by an in-process fake bucket.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }

// NewMemory returns an empty in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewMemoryStore returns the concrete in-memory backend.
func NewMemoryStore() *MemoryStore { return memorystore.New() }
