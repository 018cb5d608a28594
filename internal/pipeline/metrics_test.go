package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the value of every counter and gauge sample by family
// name, with labels folded into the name as name{value}.
func gathered(t *testing.T, m *Metrics) map[string]float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	out := make(map[string]float64)
	for _, f := range families {
		for _, s := range f.GetMetric() {
			name := f.GetName()
			for _, l := range s.GetLabel() {
				name += "{" + l.GetValue() + "}"
			}
			switch {
			case s.GetCounter() != nil:
				out[name] = s.GetCounter().GetValue()
			case s.GetGauge() != nil:
				out[name] = s.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestMetrics_RecordedByRun(t *testing.T) {
	h := newHarness(t)
	h.upload("RAW_DATA/s1/p1/gps/1.csv", "timestamp,lat\n"+newYear+",1\nbad,2\n")
	m := NewMetrics()
	p := New(h.store, h.blobs, h.cfg, WithMetrics(m))
	_, err := p.Run(h.ctx)
	require.NoError(t, err)

	got := gathered(t, m)
	assert.Equal(t, float64(1), got["chunkledger_files_processed_total"])
	assert.Equal(t, float64(1), got["chunkledger_files_removed_total"])
	assert.Equal(t, float64(1), got["chunkledger_rows_dropped_total"])
	assert.Equal(t, float64(1), got["chunkledger_chunks_written_total{created}"])
	assert.NotZero(t, got["chunkledger_last_success_timestamp_seconds"])
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.FilesProcessed.Add(3)
	require.NoError(t, m.WriteTextfile(""))

	path := filepath.Join(t.TempDir(), "chunkledger.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chunkledger_files_processed_total 3")
}
