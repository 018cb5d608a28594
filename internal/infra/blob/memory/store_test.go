package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkledger/internal/blob/core"
)

func TestStore_RoundTripAndOverwrite(t *testing.T) {
	ctx := context.Background()
	store := New()
	require.Equal(t, core.DriverMemory, store.Driver())

	_, err := store.Put(ctx, "RAW_DATA/s/p/gps/1.csv", bytes.NewReader([]byte("a")), core.PutOptions{Metadata: map[string]string{"a": "1"}})
	require.NoError(t, err)
	info, err := store.Put(ctx, "RAW_DATA/s/p/gps/1.csv", bytes.NewReader([]byte("bb")), core.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size)
	assert.Equal(t, core.ContentHash([]byte("bb")), info.ContentHash)

	_, rc, err := store.Get(ctx, "RAW_DATA/s/p/gps/1.csv")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "bb", string(b))

	list, err := store.List(ctx, "RAW_DATA/s/")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = store.List(ctx, "CHUNKED_DATA/")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_MissingAndUnsupported(t *testing.T) {
	ctx := context.Background()
	store := New()
	_, _, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.Head(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	ok, err := store.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = store.PresignURL(ctx, "k", core.SignedURLOptions{})
	assert.ErrorIs(t, err, core.ErrUnsupported)
	_, err = store.Put(ctx, " ", bytes.NewReader(nil), core.PutOptions{})
	assert.Error(t, err)
}

func TestStore_FailOn(t *testing.T) {
	ctx := context.Background()
	store := New()
	boom := errors.New("boom")
	_, err := store.Put(ctx, "CHUNKED_DATA/a.csv", bytes.NewReader([]byte("a")), core.PutOptions{})
	require.NoError(t, err)

	store.FailOn(OpPut, "CHUNKED_DATA/", boom)
	store.FailOn(OpGet, "CHUNKED_DATA/", boom)
	_, err = store.Put(ctx, "CHUNKED_DATA/a.csv", bytes.NewReader([]byte("b")), core.PutOptions{})
	assert.ErrorIs(t, err, boom)
	_, _, err = store.Get(ctx, "CHUNKED_DATA/a.csv")
	assert.ErrorIs(t, err, boom)
	_, err = store.Put(ctx, "RAW_DATA/a.csv", bytes.NewReader([]byte("b")), core.PutOptions{})
	assert.NoError(t, err, "faults only apply under their prefix")

	store.FailOn(OpPut, "CHUNKED_DATA/", nil)
	_, err = store.Put(ctx, "CHUNKED_DATA/a.csv", bytes.NewReader([]byte("c")), core.PutOptions{})
	require.NoError(t, err)
	_, _, err = store.Get(ctx, "CHUNKED_DATA/a.csv")
	assert.ErrorIs(t, err, boom, "clearing one op keeps the others")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("fail") }

func TestStore_PutReadError(t *testing.T) {
	_, err := New().Put(context.Background(), "bad", failingReader{}, core.PutOptions{})
	assert.Error(t, err)
}
