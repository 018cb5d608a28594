package chunk

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"chunkledger/internal/normalize"
)

// HeaderMismatchError means new rows cannot be merged into a stored chunk
// because the column layout differs. Nothing is written.
type HeaderMismatchError struct {
	Path     string
	Stored   string
	Incoming string
}

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("chunk %s: stored header %q does not match incoming header %q", e.Path, e.Stored, e.Incoming)
}

// Merge unions incoming rows with the stored chunk content, drops exact
// duplicates and sorts by timestamp. existing may be nil for a new chunk.
func Merge(path string, existing []byte, header string, incoming [][]string) ([]byte, error) {
	var rows [][]string
	if existing != nil {
		stored := normalize.ParseCSV(existing)
		storedHeader := normalize.CanonicalHeader(stored.Header)
		if storedHeader != header {
			return nil, &HeaderMismatchError{Path: path, Stored: storedHeader, Incoming: header}
		}
		rows = append(rows, stored.Rows...)
	}
	rows = append(rows, incoming...)
	return Render(header, SortRows(Dedupe(rows))), nil
}

// Dedupe removes byte-identical rows, keeping the first occurrence.
func Dedupe(rows [][]string) [][]string {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, row := range rows {
		k := strings.Join(row, ",")
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out
}

// SortRows stable-sorts rows ascending by their column-0 timestamp.
// Unparseable timestamps sort last.
func SortRows(rows [][]string) [][]string {
	keys := make([]int64, len(rows))
	for i, row := range rows {
		keys[i] = math.MaxInt64
		if len(row) > 0 {
			if ms, err := ParseTimestamp(row[0]); err == nil {
				keys[i] = ms
			}
		}
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })
	out := make([][]string, len(rows))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}

// Render writes a chunk: header line then one line per row, no trailing newline.
func Render(header string, rows [][]string) []byte {
	var b strings.Builder
	b.WriteString(header)
	for _, row := range rows {
		b.WriteByte('\n')
		b.WriteString(strings.Join(row, ","))
	}
	return []byte(b.String())
}
