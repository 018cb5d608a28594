// Package normalize repairs the per-stream quirks of raw uploads so that
// column 0 of every row is a millisecond epoch timestamp.
//
// Rows are split on bare commas and joined back the same way, so a row that
// survives normalization is written to a chunk byte for byte.
package normalize

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"

	"chunkledger/internal/datatype"
)

// ErrEmptyFile marks an upload with no content. Such uploads contribute
// nothing and are removed from the queue.
var ErrEmptyFile = errors.New("empty file")

// ErrNotChunkable is returned for streams stored as whole files.
var ErrNotChunkable = errors.New("data type is not chunkable")

// Table is a parsed upload: a header and its rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Result is a normalized upload.
type Result struct {
	Table
	// SurveyID is set for survey streams.
	SurveyID string
	// Dropped counts source lines discarded while normalizing.
	Dropped int
}

// Fixup is a pure transform from a parsed upload to canonical column order.
type Fixup func(t Table, key datatype.RawKey) (Table, error)

// fixups is keyed by data type; types without an entry pass through.
var fixups = map[datatype.Type]Fixup{
	datatype.Calls:         fixCallLog,
	datatype.Wifi:          fixWifi,
	datatype.Identifiers:   fixIdentifiers,
	datatype.SurveyTimings: fixSurveyTimings,
}

// Normalize parses data uploaded at key and applies the fixup for its type.
func Normalize(key datatype.RawKey, data []byte) (Result, error) {
	if !key.Type.Chunkable() {
		return Result{}, errors.Wrapf(ErrNotChunkable, "%s", key.Type)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Result{}, ErrEmptyFile
	}
	res := Result{SurveyID: SurveyID(key)}
	if key.Type == datatype.AppLog {
		table, dropped := parseAppLog(data)
		res.Table = table
		res.Dropped = dropped
		return res, nil
	}

	table := ParseCSV(data)
	if fix, ok := fixups[key.Type]; ok {
		fixed, err := fix(table, key)
		if err != nil {
			return Result{}, errors.Wrapf(err, "normalize %s", key.Key)
		}
		table = fixed
	}
	res.Table = table
	return res, nil
}

// ParseCSV splits data into a trimmed header and raw rows. A single trailing
// newline does not produce a row; other blank lines are kept as empty rows.
func ParseCSV(data []byte) Table {
	text := strings.TrimSuffix(string(data), "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	t := Table{Header: SplitHeader(lines[0])}
	for _, l := range lines[1:] {
		t.Rows = append(t.Rows, strings.Split(l, ","))
	}
	return t
}

// SplitHeader splits a header line into whitespace-trimmed field names.
func SplitHeader(line string) []string {
	fields := strings.Split(line, ",")
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}

// CanonicalHeader is the comma-joined trimmed header used to key buckets.
func CanonicalHeader(header []string) string {
	trimmed := make([]string, len(header))
	for i, f := range header {
		trimmed[i] = strings.TrimSpace(f)
	}
	return strings.Join(trimmed, ",")
}

// SurveyID returns the survey identifier embedded in a survey stream key
// (the second-to-last segment), or "" for other streams.
func SurveyID(key datatype.RawKey) string {
	if !key.Type.IsSurvey() || len(key.Segments) < 5 {
		return ""
	}
	return key.Segments[len(key.Segments)-2]
}
