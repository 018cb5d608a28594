// Package ledger defines the relational records of the ingestion pipeline
// and the storage contract every backend implements.
package ledger

import (
	"time"

	"chunkledger/internal/datatype"
)

// WorkItem is one raw upload waiting to be merged into chunks.
type WorkItem struct {
	ID            int64
	Key           string
	StudyID       string
	ParticipantID string
	Deleted       bool
	CreatedAt     time.Time
}

// Chunk is the ledger row of one stored object. For chunkable data types the
// object is the merged hourly chunk; otherwise it is the raw upload itself.
type Chunk struct {
	ID            int64
	Path          string
	Hash          string
	FileSize      int64
	Chunkable     bool
	DataType      datatype.Type
	TimeBin       int64
	StudyID       string
	ParticipantID string
	// SurveyID references Survey.ID; zero when the chunk has no survey.
	SurveyID int64
	// SurveyObjectID is filled by ListChunks from the referenced survey.
	SurveyObjectID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UploadRecord remembers every enqueued raw key so chunks can be rebuilt.
type UploadRecord struct {
	ID            int64
	Key           string
	StudyID       string
	ParticipantID string
	DataType      datatype.Type
	CreatedAt     time.Time
}

// Survey is the subset of survey metadata chunks reference.
type Survey struct {
	ID         int64
	ObjectID   string
	StudyID    string
	SurveyType string
	CreatedAt  time.Time
}

// Participant identifies a participant with queued uploads.
type Participant struct {
	StudyID       string
	ParticipantID string
}

// ChunkFilter selects chunks for downstream readers. Zero fields match everything.
// TimeStart and TimeEnd bound the bucket start, inclusive.
type ChunkFilter struct {
	StudyID        string
	ParticipantIDs []string
	DataTypes      []datatype.Type
	TimeStart      time.Time
	TimeEnd        time.Time
	Limit          int
}

// LockInfo describes the current run lock lease.
type LockInfo struct {
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lease had lapsed at now.
func (l LockInfo) Expired(now time.Time) bool { return !now.Before(l.ExpiresAt) }
