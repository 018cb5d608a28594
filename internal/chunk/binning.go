// Package chunk bins normalized rows into hourly buckets and merges them
// with the stored chunk for each bucket.
package chunk

import (
	"strconv"
	"strings"
	"time"

	"chunkledger/internal/datatype"
	"chunkledger/internal/normalize"
)

// QuantumSeconds is the width of one bucket.
const QuantumSeconds = 3600

// UTCTimeColumn is the human-readable time column inserted at index 1.
const UTCTimeColumn = "UTC time"

const (
	bucketLayout  = "2006-01-02T15:04:05"
	utcTimeLayout = "2006-01-02T15:04:05.000"
)

// Binify maps a millisecond epoch timestamp to its bucket index. Timestamps
// before the epoch fall into negative buckets.
func Binify(ms int64) int64 {
	return floorDiv(floorDiv(ms, 1000), QuantumSeconds)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

// BucketStart is the UTC start of bucket bin.
func BucketStart(bin int64) time.Time {
	return time.Unix(bin*QuantumSeconds, 0).UTC()
}

// ParseTimestamp parses a millisecond epoch field.
func ParseTimestamp(field string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(field), 10, 64)
}

// BinKey identifies the rows of one upload that land in one bucket.
type BinKey struct {
	Study       string
	Participant string
	DataType    datatype.Type
	Bin         int64
	// Header is the canonical header, including the UTC time column.
	Header string
}

// Path is the object key of the chunk for k under root:
// {root}/{study}/{participant}/{dataType}/{bucketStart}.csv.
func (k BinKey) Path(root string) string {
	return strings.Join([]string{
		strings.Trim(root, "/"),
		k.Study,
		k.Participant,
		string(k.DataType),
		BucketStart(k.Bin).Format(bucketLayout) + ".csv",
	}, "/")
}

// Grouped is the result of routing one upload's rows to buckets.
type Grouped struct {
	Buckets map[BinKey][][]string
	// Dropped counts rows whose timestamp did not parse.
	Dropped int
}

// GroupRows routes every row to the bucket of its column-0 timestamp and
// inserts the UTC time column. Rows with an unparseable timestamp are dropped.
func GroupRows(study, participant string, dt datatype.Type, header []string, rows [][]string) Grouped {
	withTime := header
	insert := len(header) < 2 || strings.TrimSpace(header[1]) != UTCTimeColumn
	if insert {
		withTime = insertColumn(header, UTCTimeColumn)
	}
	canonical := normalize.CanonicalHeader(withTime)

	g := Grouped{Buckets: make(map[BinKey][][]string)}
	for _, row := range rows {
		if len(row) == 0 {
			g.Dropped++
			continue
		}
		ms, err := ParseTimestamp(row[0])
		if err != nil {
			g.Dropped++
			continue
		}
		if insert {
			row = insertColumn(row, time.UnixMilli(ms).UTC().Format(utcTimeLayout))
		}
		key := BinKey{Study: study, Participant: participant, DataType: dt, Bin: Binify(ms), Header: canonical}
		g.Buckets[key] = append(g.Buckets[key], row)
	}
	return g
}

func insertColumn(fields []string, v string) []string {
	out := make([]string, 0, len(fields)+1)
	out = append(out, fields[:1]...)
	out = append(out, v)
	return append(out, fields[1:]...)
}
