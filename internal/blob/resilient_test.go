package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkledger/internal/config"
)

// flakyStore fails the first n calls of every operation with a transient error.
type flakyStore struct {
	Store
	failures atomic.Int32
	calls    atomic.Int32
}

var errTransient = errors.New("connection reset")

func (f *flakyStore) fail() error {
	f.calls.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errTransient
	}
	return nil
}

func (f *flakyStore) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	if err := f.fail(); err != nil {
		_, _ = io.ReadAll(r)
		return Info{}, err
	}
	return f.Store.Put(ctx, key, r, opts)
}

func (f *flakyStore) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	if err := f.fail(); err != nil {
		return Info{}, nil, err
	}
	return f.Store.Get(ctx, key)
}

func (f *flakyStore) Head(ctx context.Context, key string) (Info, error) {
	if err := f.fail(); err != nil {
		return Info{}, err
	}
	return f.Store.Head(ctx, key)
}

func resilienceConfig(attempts uint, breakerFailures uint32) config.ResilienceConfig {
	return config.ResilienceConfig{
		RetryAttempts:   attempts,
		RetryDelay:      time.Millisecond,
		BreakerFailures: breakerFailures,
		BreakerTimeout:  time.Hour,
	}
}

func TestResilient_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{Store: NewMemory()}
	inner.failures.Store(2)
	store := NewResilient(inner, resilienceConfig(3, 10))

	_, err := store.Put(ctx, "k.csv", bytes.NewReader([]byte("payload")), PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.calls.Load())

	_, rc, err := store.Get(ctx, "k.csv")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))
}

func TestResilient_NotFoundIsNotRetried(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{Store: NewMemory()}
	store := NewResilient(inner, resilienceConfig(5, 1))

	_, err := store.Head(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = store.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, "closed", store.State())
}

func TestResilient_BreakerOpens(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{Store: NewMemory()}
	inner.failures.Store(100)
	store := NewResilient(inner, resilienceConfig(1, 2))

	for i := 0; i < 2; i++ {
		_, err := store.Head(ctx, "k")
		assert.ErrorIs(t, err, errTransient)
	}
	assert.Equal(t, "open", store.State())
	calls := inner.calls.Load()
	_, err := store.Head(ctx, "k")
	assert.Error(t, err)
	assert.Equal(t, calls, inner.calls.Load())
	assert.Equal(t, DriverMemory, store.Driver())
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.BlobConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, s.Driver())

	s, err = Open(ctx, config.BlobConfig{FSRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, s.Driver())

	_, err = Open(ctx, config.BlobConfig{Driver: "s3"})
	assert.Error(t, err)

	_, err = Open(ctx, config.BlobConfig{Driver: "gcs"})
	assert.Error(t, err)
}
