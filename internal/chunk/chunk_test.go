package chunk

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkledger/internal/datatype"
)

func TestBinify_SameWindowSameBucket(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		a := rng.Int63n(4_000_000_000_000)
		b := rng.Int63n(4_000_000_000_000)
		sameWindow := a/1000/QuantumSeconds == b/1000/QuantumSeconds
		assert.Equal(t, sameWindow, Binify(a) == Binify(b), "a=%d b=%d", a, b)
		if a < b {
			assert.LessOrEqual(t, Binify(a), Binify(b))
		}
	}
	assert.Equal(t, int64(447072), Binify(1609459200000))
	assert.Equal(t, int64(447072), Binify(1609462799999))
	assert.Equal(t, int64(447073), Binify(1609462800000))
}

func TestBinify_BeforeEpoch(t *testing.T) {
	assert.Equal(t, int64(0), Binify(0))
	assert.Equal(t, int64(-1), Binify(-1))
	assert.Equal(t, int64(-1), Binify(-3_600_000))
	assert.Equal(t, int64(-2), Binify(-3_600_001))
	assert.Equal(t, "1969-12-31T23:00:00", BucketStart(Binify(-1)).Format("2006-01-02T15:04:05"))

	k := BinKey{Study: "s1", Participant: "p1", DataType: datatype.GPS, Bin: Binify(-1)}
	assert.Equal(t, "CHUNKED_DATA/s1/p1/gps/1969-12-31T23:00:00.csv", k.Path("CHUNKED_DATA"))
}

func TestBinKeyPath(t *testing.T) {
	k := BinKey{Study: "s1", Participant: "p1", DataType: datatype.GPS, Bin: Binify(1609459200000)}
	assert.Equal(t, "CHUNKED_DATA/s1/p1/gps/2021-01-01T00:00:00.csv", k.Path("/CHUNKED_DATA/"))
}

func TestGroupRows_RoutesAndInsertsUTCTime(t *testing.T) {
	rows := [][]string{
		{"1609459200000", "a"},
		{"1609462800500", "b"},
		{"not-a-time", "c"},
		{"1609459300000", "d"},
	}
	g := GroupRows("s1", "p1", datatype.GPS, []string{"timestamp", " value"}, rows)
	assert.Equal(t, 1, g.Dropped)
	require.Len(t, g.Buckets, 2)

	first := BinKey{Study: "s1", Participant: "p1", DataType: datatype.GPS, Bin: 447072, Header: "timestamp,UTC time,value"}
	assert.Equal(t, [][]string{
		{"1609459200000", "2021-01-01T00:00:00.000", "a"},
		{"1609459300000", "2021-01-01T00:01:40.000", "d"},
	}, g.Buckets[first])
	second := first
	second.Bin = 447073
	assert.Equal(t, [][]string{{"1609462800500", "2021-01-01T01:00:00.500", "b"}}, g.Buckets[second])
}

func TestGroupRows_KeepsExistingUTCTimeColumn(t *testing.T) {
	g := GroupRows("s", "p", datatype.SurveyTimings, []string{"timestamp", "UTC time", "survey id"}, [][]string{{"1000", "x", "sv"}})
	for k, rows := range g.Buckets {
		assert.Equal(t, "timestamp,UTC time,survey id", k.Header)
		assert.Equal(t, [][]string{{"1000", "x", "sv"}}, rows)
	}
}

func TestMerge_NewChunkSortsAndDedupes(t *testing.T) {
	out, err := Merge("p", nil, "timestamp,v", [][]string{{"3", "c"}, {"1", "a"}, {"3", "c"}, {"2", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "timestamp,v\n1,a\n2,b\n3,c", string(out))
}

func TestMerge_ReplayIsIdempotent(t *testing.T) {
	rows := [][]string{{"5", "x"}, {"1", "y"}, {"5", "w"}}
	first, err := Merge("p", nil, "timestamp,v", rows)
	require.NoError(t, err)
	second, err := Merge("p", first, "timestamp,v", rows)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMerge_DisjointUnionSorted(t *testing.T) {
	existing, err := Merge("p", nil, "timestamp,v", [][]string{{"10", "a"}, {"30", "c"}})
	require.NoError(t, err)
	out, err := Merge("p", existing, "timestamp,v", [][]string{{"20", "b"}, {"40", "d"}})
	require.NoError(t, err)
	assert.Equal(t, "timestamp,v\n10,a\n20,b\n30,c\n40,d", string(out))
	assertSorted(t, out)
}

func TestMerge_RandomInputsStaySorted(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var existing []byte
	for round := 0; round < 20; round++ {
		var rows [][]string
		for i := 0; i < 50; i++ {
			rows = append(rows, []string{strconv.Itoa(rng.Intn(500)), strconv.Itoa(rng.Intn(3))})
		}
		out, err := Merge("p", existing, "timestamp,v", rows)
		require.NoError(t, err)
		assertSorted(t, out)
		existing = out
	}
}

func TestMerge_HeaderMismatch(t *testing.T) {
	existing := []byte("timestamp,v\n1,a")
	_, err := Merge("CHUNKED_DATA/x.csv", existing, "timestamp,w", [][]string{{"2", "b"}})
	var mismatch *HeaderMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "timestamp,v", mismatch.Stored)
	assert.Equal(t, "timestamp,w", mismatch.Incoming)
	assert.Contains(t, err.Error(), "CHUNKED_DATA/x.csv")
	assert.Equal(t, "timestamp,v\n1,a", string(existing))
}

func TestSortRows_UnparseableLast(t *testing.T) {
	out := SortRows([][]string{{"x"}, {"2"}, {}, {"1"}})
	assert.Equal(t, [][]string{{"1"}, {"2"}, {"x"}, {}}, out)
}

func TestHash(t *testing.T) {
	a := Hash([]byte("timestamp\n1"))
	assert.Equal(t, a, Hash([]byte("timestamp\n1")))
	assert.NotEqual(t, a, Hash([]byte("timestamp\n2")))
	assert.Len(t, a, 44)
}

func assertSorted(t *testing.T, data []byte) {
	t.Helper()
	lines := strings.Split(string(data), "\n")[1:]
	prev := int64(-1)
	for _, l := range lines {
		ts, err := ParseTimestamp(strings.SplitN(l, ",", 2)[0])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ts, prev)
		prev = ts
	}
}
