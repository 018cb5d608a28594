package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkledger/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	return store
}

func readAll(t *testing.T, store *Store, key string) []byte {
	t.Helper()
	_, rc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

func TestStore_PutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)

	info, err := store.Put(ctx, "chunks/s1/p1/gps/2021-01-01T00:00:00.csv", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)

	assert.Equal(t, core.ContentHash([]byte("hello")), info.ContentHash)

	head, err := store.Head(ctx, info.Key)
	require.NoError(t, err)
	assert.Equal(t, info.ContentHash, head.ContentHash)
	assert.Equal(t, info.ContentHash, head.ETag)
	assert.Equal(t, "text/csv", head.ContentType)
	assert.Equal(t, []byte("hello"), readAll(t, store, info.Key))

	list, err := store.List(ctx, "chunks/s1/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, info.Key, list[0].Key)

	url, err := store.PresignURL(ctx, info.Key, core.SignedURLOptions{})
	require.NoError(t, err)
	assert.Contains(t, url, "local.blob")
	_, err = store.PresignURL(ctx, info.Key, core.SignedURLOptions{Method: "PUT"})
	assert.ErrorIs(t, err, core.ErrUnsupported)

	ok, err := store.Delete(ctx, info.Key)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Delete(ctx, info.Key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PutOverwritesAndKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	_, err := store.Put(ctx, "k.csv", bytes.NewReader([]byte("one")), core.PutOptions{})
	require.NoError(t, err)
	_, metaPath, err := store.pathFor("k.csv")
	require.NoError(t, err)
	first, err := readMeta(metaPath)
	require.NoError(t, err)

	info, err := store.Put(ctx, "k.csv", bytes.NewReader([]byte("two-two")), core.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size)
	assert.Equal(t, []byte("two-two"), readAll(t, store, "k.csv"))

	second, err := readMeta(metaPath)
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.NotEqual(t, first.ContentHash, second.ContentHash)
}

func TestStore_MissingObjectsReportNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	_, _, err := store.Get(ctx, "missing.csv")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.Head(ctx, "missing.csv")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_RejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"../escape.txt", "/abs.txt", "", "a/b.meta", "a/.tmp-1"} {
		_, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{})
		assert.Error(t, err, key)
	}
}

type errorReader struct{}

func (errorReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStore_PutReaderFailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	_, err := store.Put(ctx, "bad.bin", errorReader{}, core.PutOptions{})
	require.Error(t, err)
	dataPath, _, _ := store.pathFor("bad.bin")
	_, statErr := os.Stat(dataPath)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, core.DriverFilesystem, store.Driver())
}

func TestStore_ServesFilesWithoutSidecar(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := New(root)
	require.NoError(t, err)
	dir := filepath.Join(root, "RAW_DATA", "s1", "p1", "gps")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.csv"), []byte("timestamp,lat\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("partial"), 0o600))

	head, err := store.Head(ctx, "RAW_DATA/s1/p1/gps/1.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(14), head.Size)
	assert.Empty(t, head.ContentHash)
	assert.Equal(t, []byte("timestamp,lat\n"), readAll(t, store, "RAW_DATA/s1/p1/gps/1.csv"))

	_, err = store.Put(ctx, "RAW_DATA/s1/p1/gps/2.csv", bytes.NewReader([]byte("x")), core.PutOptions{})
	require.NoError(t, err)
	list, err := store.List(ctx, "RAW_DATA")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "RAW_DATA/s1/p1/gps/1.csv", list[0].Key)
	assert.Empty(t, list[0].ContentHash)
	assert.Equal(t, "RAW_DATA/s1/p1/gps/2.csv", list[1].Key)
	assert.NotEmpty(t, list[1].ContentHash)

	_, err = store.Head(ctx, "RAW_DATA/s1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStore_ListPrefixes(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"a/b/c.csv", "a/bc.csv", "ab.csv"} {
		_, err := store.Put(ctx, key, bytes.NewReader([]byte(key)), core.PutOptions{})
		require.NoError(t, err)
	}
	keys := func(prefix string) []string {
		list, err := store.List(ctx, prefix)
		require.NoError(t, err)
		out := make([]string, len(list))
		for i, inf := range list {
			out[i] = inf.Key
		}
		return out
	}
	assert.Equal(t, []string{"a/b/c.csv", "a/bc.csv", "ab.csv"}, keys(""))
	assert.Equal(t, []string{"a/b/c.csv", "a/bc.csv"}, keys("a/b"))
	assert.Equal(t, []string{"a/b/c.csv"}, keys("a/b/"))
	assert.Empty(t, keys("zzz/"))
}
