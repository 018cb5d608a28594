// Package maintenance holds operator tooling around the ledger: coalescing
// duplicate chunk rows, rebuilding the queue from upload history and
// enqueueing raw objects that were never queued.
package maintenance

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"chunkledger/internal/blob"
	"chunkledger/internal/chunk"
	"chunkledger/internal/datatype"
	"chunkledger/internal/logging"
	"chunkledger/pkg/ledger"
)

// Maintainer runs maintenance jobs against one ledger and object store.
type Maintainer struct {
	store     ledger.Store
	blobs     blob.Store
	rawPrefix string
	log       zerolog.Logger
}

// New returns a Maintainer. rawPrefix is the root of raw upload keys.
func New(store ledger.Store, blobs blob.Store, rawPrefix string) *Maintainer {
	return &Maintainer{
		store:     store,
		blobs:     blobs,
		rawPrefix: rawPrefix,
		log:       logging.With().Str("component", "maintenance").Logger(),
	}
}

// RequeueHistory re-enqueues every recorded upload of a participant and data
// type whose raw object still exists. It returns the number of keys added.
func (m *Maintainer) RequeueHistory(ctx context.Context, participantID string, dt datatype.Type) (int, error) {
	records, err := m.store.ListHistory(ctx, participantID, dt)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, rec := range records {
		if _, err := m.blobs.Head(ctx, rec.Key); err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				m.log.Warn().Str("key", rec.Key).Msg("raw upload gone, not requeued")
				continue
			}
			return added, errors.Wrapf(err, "head %s", rec.Key)
		}
		ok, err := m.store.Enqueue(ctx, rec.Key, rec.StudyID, rec.ParticipantID, rec.DataType)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	m.log.Info().
		Str("participant", participantID).
		Str("data_type", string(dt)).
		Int("history", len(records)).
		Int("requeued", added).
		Msg("requeued upload history")
	return added, nil
}

// BackfillReport summarizes a Backfill run.
type BackfillReport struct {
	Listed  int
	Added   int
	Skipped int
}

// Backfill lists raw objects under prefix and enqueues those not yet queued.
// Keys that do not parse as raw upload keys are skipped.
func (m *Maintainer) Backfill(ctx context.Context, prefix string) (BackfillReport, error) {
	var rep BackfillReport
	infos, err := m.blobs.List(ctx, prefix)
	if err != nil {
		return rep, errors.Wrapf(err, "list %s", prefix)
	}
	rep.Listed = len(infos)
	for _, info := range infos {
		key, err := datatype.ParseRawKey(m.rawPrefix, info.Key)
		if err != nil {
			m.log.Debug().Err(err).Str("key", info.Key).Msg("skipping object")
			rep.Skipped++
			continue
		}
		ok, err := m.store.Enqueue(ctx, key.Key, key.Study, key.Participant, key.Type)
		if err != nil {
			return rep, err
		}
		if ok {
			rep.Added++
		}
	}
	m.log.Info().Int("listed", rep.Listed).Int("added", rep.Added).Int("skipped", rep.Skipped).Msg("backfill finished")
	return rep, nil
}

// DedupeReport summarizes a DedupeChunks run.
type DedupeReport struct {
	Paths    int
	Deleted  int
	Purged   int
	Requeued int
}

// DedupeChunks coalesces ledger rows sharing one chunk path. The survivor is
// the row whose hash matches the stored object, else the largest file_size,
// else the oldest; its hash and size are then re-derived from the object.
// Paths whose object is missing lose every row and have their history requeued.
func (m *Maintainer) DedupeChunks(ctx context.Context) (DedupeReport, error) {
	var rep DedupeReport
	paths, err := m.store.DuplicateChunkPaths(ctx)
	if err != nil {
		return rep, err
	}
	for _, path := range paths {
		rep.Paths++
		rows, err := m.store.ChunksByPath(ctx, path)
		if err != nil {
			return rep, err
		}
		if len(rows) == 0 {
			continue
		}
		hash, size, err := m.objectDigest(ctx, path)
		if errors.Is(err, blob.ErrNotFound) {
			for _, r := range rows {
				if err := m.store.DeleteChunk(ctx, r.ID); err != nil {
					return rep, err
				}
			}
			rep.Purged++
			n, err := m.RequeueHistory(ctx, rows[0].ParticipantID, rows[0].DataType)
			if err != nil {
				return rep, err
			}
			rep.Requeued += n
			continue
		}
		if err != nil {
			return rep, errors.Wrapf(err, "read %s", path)
		}

		keep := Survivor(rows, hash)
		for _, r := range rows {
			if r.ID == keep.ID {
				continue
			}
			if err := m.store.DeleteChunk(ctx, r.ID); err != nil {
				return rep, err
			}
			rep.Deleted++
		}
		if err := m.store.UpdateChunk(ctx, path, hash, size); err != nil {
			return rep, err
		}
		m.log.Info().Str("path", path).Int("rows", len(rows)).Int64("kept", keep.ID).Msg("coalesced duplicate chunk rows")
	}
	return rep, nil
}

// objectDigest returns the content hash and size of the object at path,
// reading the object only when the backend did not record its hash.
func (m *Maintainer) objectDigest(ctx context.Context, path string) (string, int64, error) {
	info, err := m.blobs.Head(ctx, path)
	if err != nil {
		return "", 0, err
	}
	if info.ContentHash != "" {
		return info.ContentHash, info.Size, nil
	}
	data, err := blob.GetBytes(ctx, m.blobs, path)
	if err != nil {
		return "", 0, err
	}
	return chunk.Hash(data), int64(len(data)), nil
}

// Survivor picks the row to keep among rows sharing a path.
func Survivor(rows []ledger.Chunk, objectHash string) ledger.Chunk {
	for _, r := range rows {
		if r.Hash == objectHash {
			return r
		}
	}
	best := rows[0]
	for _, r := range rows[1:] {
		if r.FileSize > best.FileSize {
			best = r
		}
	}
	return best
}
