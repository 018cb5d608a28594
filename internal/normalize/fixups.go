package normalize

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"chunkledger/internal/datatype"
)

// ErrBadFileName is returned when a timestamp must come from the file name and cannot.
var ErrBadFileName = errors.New("file name carries no timestamp")

// fixCallLog moves the call time from column 2 to column 0.
func fixCallLog(t Table, _ datatype.RawKey) (Table, error) {
	t.Header = moveToFront(t.Header, 2)
	for i, row := range t.Rows {
		t.Rows[i] = moveToFront(row, 2)
	}
	return t, nil
}

// fixWifi prepends the scan time, taken from the file name, to every row.
func fixWifi(t Table, key datatype.RawKey) (Table, error) {
	ts := strings.TrimSuffix(key.FileName(), path.Ext(key.FileName()))
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		return Table{}, errors.Wrapf(ErrBadFileName, "%s", key.FileName())
	}
	for len(t.Rows) > 0 && isBlank(t.Rows[len(t.Rows)-1]) {
		t.Rows = t.Rows[:len(t.Rows)-1]
	}
	t.Header = insertAt(t.Header, 0, "timestamp")
	for i, row := range t.Rows {
		t.Rows[i] = insertAt(row, 0, ts)
	}
	return t, nil
}

// fixIdentifiers prepends the seconds timestamp after the last "_" of the
// file name, padded to milliseconds.
func fixIdentifiers(t Table, key datatype.RawKey) (Table, error) {
	name := key.FileName()
	base := strings.TrimSuffix(name, path.Ext(name))
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return Table{}, errors.Wrapf(ErrBadFileName, "%s", name)
	}
	secs := base[idx+1:]
	if _, err := strconv.ParseInt(secs, 10, 64); err != nil {
		return Table{}, errors.Wrapf(ErrBadFileName, "%s", name)
	}
	ts := secs + "000"
	t.Header = insertAt(t.Header, 0, "timestamp")
	for i, row := range t.Rows {
		t.Rows[i] = insertAt(row, 0, ts)
	}
	return t, nil
}

// fixSurveyTimings inserts the survey id as column 2 so several surveys can share a bucket.
func fixSurveyTimings(t Table, key datatype.RawKey) (Table, error) {
	id := SurveyID(key)
	if id == "" {
		return Table{}, errors.Errorf("survey timings key %q has no survey segment", key.Key)
	}
	t.Header = insertAt(t.Header, 2, "survey id")
	for i, row := range t.Rows {
		if isBlank(row) {
			continue
		}
		t.Rows[i] = insertAt(row, 2, id)
	}
	return t, nil
}

func moveToFront(fields []string, idx int) []string {
	if idx >= len(fields) {
		return fields
	}
	out := make([]string, 0, len(fields))
	out = append(out, fields[idx])
	out = append(out, fields[:idx]...)
	return append(out, fields[idx+1:]...)
}

// insertAt inserts v at idx, or appends when the slice is shorter.
func insertAt(fields []string, idx int, v string) []string {
	if idx > len(fields) {
		idx = len(fields)
	}
	out := make([]string, 0, len(fields)+1)
	out = append(out, fields[:idx]...)
	out = append(out, v)
	return append(out, fields[idx:]...)
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// fileNameLayouts are the non-numeric file name timestamps devices produce.
var fileNameLayouts = []string{"2006-01-02 15_04_05", "2006-01-02T15_04_05", "2006-01-02 15:04:05"}

// FileTimestamp reads the millisecond timestamp an upload's file name carries,
// either as epoch millis or as a UTC date and time.
func FileTimestamp(key datatype.RawKey) (int64, error) {
	name := key.FileName()
	base := strings.TrimSuffix(name, path.Ext(name))
	if ms, err := strconv.ParseInt(base, 10, 64); err == nil {
		return ms, nil
	}
	for _, layout := range fileNameLayouts {
		if ts, err := time.Parse(layout, base); err == nil {
			return ts.UnixMilli(), nil
		}
	}
	return 0, errors.Wrapf(ErrBadFileName, "%s", name)
}
