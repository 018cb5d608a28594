package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkledger/internal/blob/core"
)

func TestMockStore_PutOverwritesAndGets(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	require.Equal(t, core.DriverS3, store.Driver())

	key := "CHUNKED_DATA/s1/p1/gps/2021-01-01T00:00:00.csv"
	_, err := store.Put(ctx, key, bytes.NewReader([]byte("timestamp,a\n1,x")), core.PutOptions{ContentType: "text/csv"})
	require.NoError(t, err)
	info, err := store.Put(ctx, key, bytes.NewReader([]byte("timestamp,a\n1,y")), core.PutOptions{ContentType: "text/csv"})
	require.NoError(t, err)
	assert.Equal(t, key, info.Key)
	assert.Equal(t, core.ContentHash([]byte("timestamp,a\n1,y")), info.ContentHash)

	got, rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "timestamp,a\n1,y", string(b))
	assert.Equal(t, "text/csv", got.ContentType)
	assert.Equal(t, info.ContentHash, got.ContentHash)
}

func TestMockStore_HeadCarriesContentHashAndMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	key := "RAW_DATA/s1/p1/gps/1.csv"
	_, err := store.Put(ctx, key, bytes.NewReader([]byte("abc")), core.PutOptions{Metadata: map[string]string{"Source": "app"}})
	require.NoError(t, err)

	info, err := store.Head(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size)
	assert.Equal(t, core.ContentHash([]byte("abc")), info.ContentHash)
	assert.Equal(t, "app", info.Metadata["source"])
	assert.Len(t, info.ETag, 32)
}

func TestMockStore_MissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	_, _, err := store.Get(ctx, "missing.csv")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = store.Head(ctx, "missing.csv")
	assert.ErrorIs(t, err, core.ErrNotFound)
	ok, err := store.Delete(ctx, "missing.csv")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMockStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	for _, k := range []string{"RAW_DATA/s/p/gps/2.csv", "RAW_DATA/s/p/gps/1.csv", "OTHER/x.csv"} {
		_, err := store.Put(ctx, k, bytes.NewReader([]byte("a")), core.PutOptions{})
		require.NoError(t, err)
	}
	list, err := store.List(ctx, "RAW_DATA/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "RAW_DATA/s/p/gps/1.csv", list[0].Key)
	assert.Equal(t, "RAW_DATA/s/p/gps/2.csv", list[1].Key)

	ok, err := store.Delete(ctx, "OTHER/x.csv")
	require.NoError(t, err)
	assert.True(t, ok)
	list, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMockStore_ListFollowsContinuation(t *testing.T) {
	ctx := context.Background()
	store := newMock(2, "")
	for i := 0; i < 5; i++ {
		_, err := store.Put(ctx, fmt.Sprintf("RAW_DATA/s/p/gps/%d.csv", i), bytes.NewReader([]byte("a")), core.PutOptions{})
		require.NoError(t, err)
	}
	list, err := store.List(ctx, "RAW_DATA/")
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, "RAW_DATA/s/p/gps/4.csv", list[4].Key)
}

func TestMockStore_KeyPrefix(t *testing.T) {
	ctx := context.Background()
	store := newMock(1000, "tenant-a")
	_, err := store.Put(ctx, "RAW_DATA/s/p/gps/1.csv", bytes.NewReader([]byte("a")), core.PutOptions{})
	require.NoError(t, err)

	list, err := store.List(ctx, "RAW_DATA/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "RAW_DATA/s/p/gps/1.csv", list[0].Key)

	url, err := store.PresignURL(ctx, "RAW_DATA/s/p/gps/1.csv", core.SignedURLOptions{})
	require.NoError(t, err)
	assert.Contains(t, url, "tenant-a/RAW_DATA")
}

func TestMockStore_Presign(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests()
	url, err := store.PresignURL(ctx, "RAW_DATA/a.csv", core.SignedURLOptions{})
	require.NoError(t, err)
	assert.Contains(t, url, "RAW_DATA/a.csv")
	_, err = store.PresignURL(ctx, "RAW_DATA/a.csv", core.SignedURLOptions{Method: "PUT"})
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
	s, err := New(context.Background(), Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true, AccessKeyID: "a", SecretAccessKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, core.DriverS3, s.Driver())
}

func TestDecodeAWSChunked(t *testing.T) {
	out, err := decodeAWSChunked([]byte("5\r\nhello\r\n4;chunk-signature=ab\r\n a\nb\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "hello a\nb", string(out))

	_, err = decodeAWSChunked([]byte("plain body"))
	assert.Error(t, err)
	_, err = decodeAWSChunked([]byte("zz\r\nbody\r\n"))
	assert.Error(t, err)
	_, err = decodeAWSChunked([]byte("9\r\nhi\r\n"))
	assert.Error(t, err)
}
