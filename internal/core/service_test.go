package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkledger/internal/blob"
	"chunkledger/internal/config"
	"chunkledger/internal/datatype"
	"chunkledger/internal/infra/persistence/sqlite"
	"chunkledger/pkg/ledger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := sqlite.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	svc := NewService(store, blob.NewMemory(), config.Default().Pipeline)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func putRaw(t *testing.T, svc *Service, key, body string) {
	t.Helper()
	_, err := blob.PutBytes(context.Background(), svc.Blobs(), key, []byte(body), "text/csv")
	require.NoError(t, err)
}

func TestService_EnqueueParsesKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	added, err := svc.Enqueue(ctx, "RAW_DATA/s1/p1/gps/1.csv")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = svc.Enqueue(ctx, "RAW_DATA/s1/p1/gps/1.csv")
	require.NoError(t, err)
	assert.False(t, added)

	items, err := svc.Store().ListPending(ctx, "p1", 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "s1", items[0].StudyID)
	assert.Equal(t, "p1", items[0].ParticipantID)

	_, err = svc.Enqueue(ctx, "RAW_DATA/s1/p1/nope/1.csv")
	assert.True(t, errors.Is(err, datatype.ErrUnknownDataType))
}

func TestService_EnqueueAllCollectsErrors(t *testing.T) {
	svc := newTestService(t)
	added, err := svc.EnqueueAll(context.Background(), []string{
		"RAW_DATA/s1/p1/gps/1.csv",
		"elsewhere/s1/p1/gps/2.csv",
		"RAW_DATA/s1/p1/accel/3.csv",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elsewhere/s1/p1/gps/2.csv")
	assert.Equal(t, 2, added)
}

func TestService_ProcessAndListChunks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	putRaw(t, svc, "RAW_DATA/s1/p1/gps/1.csv", "timestamp,lat\n1609459200000,1\n")
	putRaw(t, svc, "RAW_DATA/s1/p2/gps/1.csv", "timestamp,lat\n1609459200000,2\n")
	rep, err := svc.Backfill(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Added)

	pr, err := svc.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pr.ChunksCreated)
	assert.Equal(t, 2, pr.Participants)

	chunks, err := svc.Chunks(ctx, ledger.ChunkFilter{ParticipantIDs: []string{"p2"}})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "CHUNKED_DATA/s1/p2/gps/2021-01-01T00:00:00.csv", chunks[0].Path)

	families, err := svc.Metrics().Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestService_ChunkURL(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.ChunkURL(ctx, "CHUNKED_DATA/s1/p1/gps/2021-01-01T00:00:00.csv", 0)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	putRaw(t, svc, "RAW_DATA/s1/p1/gps/1.csv", "timestamp,lat\n1609459200000,1\n")
	_, err = svc.Enqueue(ctx, "RAW_DATA/s1/p1/gps/1.csv")
	require.NoError(t, err)
	_, err = svc.Process(ctx)
	require.NoError(t, err)

	_, err = svc.ChunkURL(ctx, "CHUNKED_DATA/s1/p1/gps/2021-01-01T00:00:00.csv", 0)
	assert.True(t, errors.Is(err, blob.ErrUnsupported), "the memory store cannot sign URLs")
}

func TestService_LockOperations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, held, err := svc.LockStatus(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	_, err = svc.Store().AcquireLock(ctx, "stuck-pass", config.Default().Pipeline.LockTTL)
	require.NoError(t, err)
	info, held, err := svc.LockStatus(ctx)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, "stuck-pass", info.Holder)

	_, err = svc.Process(ctx)
	var overlap *ledger.ProcessingOverlapError
	assert.True(t, errors.As(err, &overlap))

	released, err := svc.ForceReleaseLock(ctx)
	require.NoError(t, err)
	assert.True(t, released)
	released, err = svc.ForceReleaseLock(ctx)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestService_RegisterSurvey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterSurvey(ctx, ledger.Survey{StudyID: "s1"})
	require.Error(t, err)

	sv, err := svc.RegisterSurvey(ctx, ledger.Survey{ObjectID: "sv1", StudyID: "s1", SurveyType: "audio_survey"})
	require.NoError(t, err)
	assert.NotZero(t, sv.ID)
	again, err := svc.RegisterSurvey(ctx, ledger.Survey{ObjectID: "sv1", StudyID: "s1", SurveyType: "tracking_survey"})
	require.NoError(t, err)
	assert.Equal(t, sv.ID, again.ID)
	assert.Equal(t, "tracking_survey", again.SurveyType)
}

func TestService_DedupeOnCleanLedger(t *testing.T) {
	svc := newTestService(t)
	rep, err := svc.DedupeChunks(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Paths)
}

func TestOpen_FromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.Driver = "memory"
	cfg.Blob.Driver = "memory"

	svc, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()
	assert.Equal(t, blob.DriverMemory, svc.Blobs().Driver())

	cfg.Blob.Driver = "nope"
	_, err = Open(context.Background(), cfg)
	require.Error(t, err)
}
