package normalize

import (
	"strconv"
	"strings"
)

var appLogHeader = []string{"timestamp", "event"}

// appLogNoise lists line prefixes that carry no event.
var appLogNoise = []string{
	"THIS LINE IS A LOG FILE HEADER",
}

// parseAppLog turns "<millis> <message>" lines into two-column rows. Lines
// without a leading timecode inherit the previous one; noise, and anything
// before the first timecode, is dropped.
func parseAppLog(data []byte) (Table, int) {
	t := Table{Header: append([]string(nil), appLogHeader...)}
	dropped := 0
	last := ""
	for _, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if isAppLogNoise(line) {
			dropped++
			continue
		}
		ts, msg, ok := splitTimecode(line)
		if ok {
			last = ts
			t.Rows = append(t.Rows, []string{ts, msg})
			continue
		}
		if last == "" {
			dropped++
			continue
		}
		t.Rows = append(t.Rows, []string{last, line})
	}
	return t, dropped
}

func isAppLogNoise(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	for _, p := range appLogNoise {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func splitTimecode(line string) (ts, msg string, ok bool) {
	ts, msg, _ = strings.Cut(line, " ")
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		return "", "", false
	}
	return ts, msg, true
}
