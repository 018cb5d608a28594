package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"chunkledger/internal/datatype"
)

var (
	// ErrChunkExists is returned when a chunk path is already registered.
	ErrChunkExists = errors.New("chunk path already registered")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("ledger record not found")
	// ErrLockNotHeld is returned when renewing or releasing a lease held by someone else.
	ErrLockNotHeld = errors.New("run lock not held")
)

// ProcessingOverlapError means another pass holds the run lock.
type ProcessingOverlapError struct {
	Holder    string
	ExpiresAt time.Time
}

func (e *ProcessingOverlapError) Error() string {
	if e.Holder == "" {
		return "processing overlap: run lock is held"
	}
	return fmt.Sprintf("processing overlap: run lock held by %s until %s", e.Holder, e.ExpiresAt.UTC().Format(time.RFC3339))
}

// Queue is the work queue of raw uploads.
type Queue interface {
	// Enqueue adds key to the queue and the upload history. Re-enqueueing a
	// queued key is a no-op; it reports whether a row was added.
	Enqueue(ctx context.Context, key, studyID, participantID string, dt datatype.Type) (bool, error)
	ListPending(ctx context.Context, participantID string, pageSize, offset int) ([]WorkItem, error)
	CountPending(ctx context.Context, participantID string) (int, error)
	ParticipantsWithPending(ctx context.Context) ([]Participant, error)
	// RemoveWorkItems hard-deletes ids in batches.
	RemoveWorkItems(ctx context.Context, ids []int64) error
	IsQueued(ctx context.Context, key string) (bool, error)
}

// Chunks is the chunk registry.
type Chunks interface {
	GetChunk(ctx context.Context, path string) (Chunk, error)
	// CreateChunk fails with ErrChunkExists when the path is registered.
	CreateChunk(ctx context.Context, c Chunk) error
	UpdateChunk(ctx context.Context, path, hash string, size int64) error
	DeleteChunk(ctx context.Context, id int64) error
	ListChunks(ctx context.Context, f ChunkFilter) ([]Chunk, error)
	// DuplicateChunkPaths returns paths registered more than once.
	DuplicateChunkPaths(ctx context.Context) ([]string, error)
	ChunksByPath(ctx context.Context, path string) ([]Chunk, error)
}

// RunLock is the lease that serializes pipeline passes.
type RunLock interface {
	// AcquireLock takes the lease, reclaiming an expired one. It fails with
	// *ProcessingOverlapError when a live lease exists.
	AcquireLock(ctx context.Context, holder string, ttl time.Duration) (LockInfo, error)
	RenewLock(ctx context.Context, holder string, ttl time.Duration) (LockInfo, error)
	ReleaseLock(ctx context.Context, holder string) error
	// ForceReleaseLock removes any lease. Operator use only.
	ForceReleaseLock(ctx context.Context) (bool, error)
	LockStatus(ctx context.Context) (LockInfo, bool, error)
}

// History is the upload history used to rebuild chunks.
type History interface {
	ListHistory(ctx context.Context, participantID string, dt datatype.Type) ([]UploadRecord, error)
}

// Surveys resolves survey references.
type Surveys interface {
	SurveyByObjectID(ctx context.Context, objectID string) (Survey, error)
	UpsertSurvey(ctx context.Context, s Survey) (Survey, error)
}

// Store is a complete ledger backend.
type Store interface {
	Queue
	Chunks
	RunLock
	History
	Surveys
	Migrate(ctx context.Context) error
	MigrateTo(ctx context.Context, version int) error
	Close() error
}

// ErrObjectMissing marks a ledger row whose object is gone from the object store.
var ErrObjectMissing = errors.New("chunk object missing from object store")
