package pipeline

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters of one process. A pass is short-lived, so they are
// flushed to a node-exporter textfile instead of being scraped.
type Metrics struct {
	registry *prometheus.Registry

	FilesProcessed   prometheus.Counter
	FilesRemoved     prometheus.Counter
	BadFiles         *prometheus.CounterVec
	Chunks           *prometheus.CounterVec
	HeaderMismatches prometheus.Counter
	StaleChunks      prometheus.Counter
	RowsDropped      prometheus.Counter
	PassDuration     prometheus.Histogram
	LastSuccess      prometheus.Gauge
}

// NewMetrics registers every pipeline collector on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FilesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkledger",
			Name:      "files_processed_total",
			Help:      "Raw uploads read from the work queue",
		}),
		FilesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkledger",
			Name:      "files_removed_total",
			Help:      "Work items removed after their rows were merged or found empty",
		}),
		BadFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chunkledger",
			Name:      "bad_files_total",
			Help:      "Work items left queued, by reason",
		}, []string{"reason"}),
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chunkledger",
			Name:      "chunks_written_total",
			Help:      "Chunk objects written, by outcome",
		}, []string{"outcome"}), // created, updated, unchanged, registered
		HeaderMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkledger",
			Name:      "header_mismatches_total",
			Help:      "Buckets aborted because the stored chunk header differs",
		}),
		StaleChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkledger",
			Name:      "stale_chunks_total",
			Help:      "Ledger rows purged because their object was missing",
		}),
		RowsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chunkledger",
			Name:      "rows_dropped_total",
			Help:      "Source rows discarded during normalization or binning",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chunkledger",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of one pipeline pass",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chunkledger",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last pass that finished without errors",
		}),
	}
	m.registry.MustRegister(
		m.FilesProcessed, m.FilesRemoved, m.BadFiles, m.Chunks,
		m.HeaderMismatches, m.StaleChunks, m.RowsDropped, m.PassDuration, m.LastSuccess,
	)
	return m
}

// Registry exposes the registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return errors.Wrapf(prometheus.WriteToTextfile(path, m.registry), "write metrics to %s", path)
}
