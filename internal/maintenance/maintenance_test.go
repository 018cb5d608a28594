package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkledger/internal/blob"
	"chunkledger/internal/chunk"
	"chunkledger/internal/datatype"
	"chunkledger/internal/infra/persistence/sqlite"
	"chunkledger/internal/infra/persistence/sqlstore"
	"chunkledger/pkg/ledger"
)

func newLegacyLedger(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.MigrateTo(context.Background(), 1))
	return store
}

func putObject(t *testing.T, s blob.Store, key, body string) {
	t.Helper()
	_, err := blob.PutBytes(context.Background(), s, key, []byte(body), "text/csv")
	require.NoError(t, err)
}

func gpsChunk(path, hash string, size int64) ledger.Chunk {
	return ledger.Chunk{
		Path: path, Hash: hash, FileSize: size, Chunkable: true,
		DataType: datatype.GPS, TimeBin: 1, StudyID: "s1", ParticipantID: "p1",
	}
}

func TestDedupeChunksKeepsHashMatchAndAllowsUniqueIndex(t *testing.T) {
	ctx := context.Background()
	store := newLegacyLedger(t)
	blobs := blob.NewMemory()
	const path = "CHUNKED_DATA/s1/p1/gps/1970-01-01T01:00:00.csv"
	body := "timestamp,UTC time,lat\n3600000,1970-01-01T01:00:00.000,1"
	putObject(t, blobs, path, body)

	require.NoError(t, store.CreateChunk(ctx, gpsChunk(path, "stale", 999)))
	require.NoError(t, store.CreateChunk(ctx, gpsChunk(path, chunk.Hash([]byte(body)), 1)))
	require.NoError(t, store.CreateChunk(ctx, gpsChunk(path, "other", 5)))

	rep, err := New(store, blobs, "RAW_DATA").DedupeChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, DedupeReport{Paths: 1, Deleted: 2}, rep)

	rows, err := store.ChunksByPath(ctx, path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].ID)
	assert.Equal(t, chunk.Hash([]byte(body)), rows[0].Hash)
	assert.Equal(t, int64(len(body)), rows[0].FileSize)

	require.NoError(t, store.Migrate(ctx))
}

func TestDedupeChunksPurgesMissingObjectAndRequeues(t *testing.T) {
	ctx := context.Background()
	store := newLegacyLedger(t)
	blobs := blob.NewMemory()
	const path = "CHUNKED_DATA/s1/p1/gps/1970-01-01T01:00:00.csv"
	raw := "RAW_DATA/s1/p1/gps/1.csv"
	putObject(t, blobs, raw, "timestamp,lat\n3600000,1")

	_, err := store.Enqueue(ctx, raw, "s1", "p1", datatype.GPS)
	require.NoError(t, err)
	items, err := store.ListPending(ctx, "p1", 10, 0)
	require.NoError(t, err)
	require.NoError(t, store.RemoveWorkItems(ctx, []int64{items[0].ID}))

	require.NoError(t, store.CreateChunk(ctx, gpsChunk(path, "a", 1)))
	require.NoError(t, store.CreateChunk(ctx, gpsChunk(path, "b", 2)))

	rep, err := New(store, blobs, "RAW_DATA").DedupeChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Purged)
	assert.Equal(t, 1, rep.Requeued)

	rows, err := store.ChunksByPath(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, rows)
	queued, err := store.IsQueued(ctx, raw)
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestSurvivorFallsBackToLargestFile(t *testing.T) {
	rows := []ledger.Chunk{{ID: 1, Hash: "x", FileSize: 10}, {ID: 2, Hash: "y", FileSize: 30}, {ID: 3, Hash: "z", FileSize: 30}}
	assert.Equal(t, int64(2), Survivor(rows, "nomatch").ID)
	assert.Equal(t, int64(3), Survivor(rows, "z").ID)
}

func TestRequeueHistorySkipsMissingObjects(t *testing.T) {
	ctx := context.Background()
	store := newLegacyLedger(t)
	blobs := blob.NewMemory()
	putObject(t, blobs, "RAW_DATA/s1/p1/accel/1.csv", "timestamp,x\n1,2")

	for _, key := range []string{"RAW_DATA/s1/p1/accel/1.csv", "RAW_DATA/s1/p1/accel/2.csv"} {
		_, err := store.Enqueue(ctx, key, "s1", "p1", datatype.Accelerometer)
		require.NoError(t, err)
	}
	items, err := store.ListPending(ctx, "p1", 10, 0)
	require.NoError(t, err)
	require.NoError(t, store.RemoveWorkItems(ctx, []int64{items[0].ID, items[1].ID}))

	n, err := New(store, blobs, "RAW_DATA").RequeueHistory(ctx, "p1", datatype.Accelerometer)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := store.ListPending(ctx, "p1", 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "RAW_DATA/s1/p1/accel/1.csv", pending[0].Key)
}

func TestBackfillEnqueuesParseableKeys(t *testing.T) {
	ctx := context.Background()
	store := newLegacyLedger(t)
	blobs := blob.NewMemory()
	putObject(t, blobs, "RAW_DATA/s1/p1/gps/1.csv", "timestamp\n1")
	putObject(t, blobs, "RAW_DATA/s1/p2/callLog/2.csv", "a,b,date\nx,y,1")
	putObject(t, blobs, "RAW_DATA/s1/p2/unknownThing/3.csv", "x")
	putObject(t, blobs, "RAW_DATA/s1/short.csv", "x")

	_, err := store.Enqueue(ctx, "RAW_DATA/s1/p1/gps/1.csv", "s1", "p1", datatype.GPS)
	require.NoError(t, err)

	rep, err := New(store, blobs, "RAW_DATA").Backfill(ctx, "RAW_DATA/s1/")
	require.NoError(t, err)
	assert.Equal(t, BackfillReport{Listed: 4, Added: 1, Skipped: 2}, rep)

	queued, err := store.IsQueued(ctx, "RAW_DATA/s1/p2/callLog/2.csv")
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestDedupeChunksHashesObjectsWrittenOutsideTheStore(t *testing.T) {
	ctx := context.Background()
	store := newLegacyLedger(t)
	root := t.TempDir()
	blobs, err := blob.NewFilesystem(root)
	require.NoError(t, err)
	const path = "CHUNKED_DATA/s1/p1/gps/1970-01-01T01:00:00.csv"
	body := "timestamp,UTC time,lat\n3600000,1970-01-01T01:00:00.000,1"
	require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.Dir(path)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, path), []byte(body), 0o644))

	require.NoError(t, store.CreateChunk(ctx, gpsChunk(path, "a", 1)))
	require.NoError(t, store.CreateChunk(ctx, gpsChunk(path, "b", 2)))

	rep, err := New(store, blobs, "RAW_DATA").DedupeChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, DedupeReport{Paths: 1, Deleted: 1}, rep)

	rows, err := store.ChunksByPath(ctx, path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].ID)
	assert.Equal(t, chunk.Hash([]byte(body)), rows[0].Hash)
	assert.Equal(t, int64(len(body)), rows[0].FileSize)
}
