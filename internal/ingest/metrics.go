package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics owned by the ingestion pipeline.
// A single instance is created at startup and shared between the CLI and the
// HTTP server so that tests can inject a fresh prometheus.Registry without
// polluting the default one.
type Metrics struct {
	// DocumentsIndexed counts documents whose chunks were (re)written.
	DocumentsIndexed prometheus.Counter

	// DocumentsSkipped counts documents skipped as unchanged, empty, or
	// already in flight.
	DocumentsSkipped prometheus.Counter

	// DocumentsFailed counts documents that could not be ingested.
	DocumentsFailed prometheus.Counter

	// ChunksIndexed counts individual chunks written to the vector store.
	ChunksIndexed prometheus.Counter

	// SyncDuration records the wall-clock duration of sync runs.
	SyncDuration prometheus.Histogram
}

// NewMetrics registers all ingestion metrics against reg and returns the
// populated Metrics. promauto.With(reg) is used so that each call registers
// into the provided registry rather than the global default — this keeps
// unit tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DocumentsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "documents_indexed_total",
			Help:      "Total number of documents whose chunks were written to the vector store.",
		}),

		DocumentsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "documents_skipped_total",
			Help:      "Total number of documents skipped (unchanged, empty, or already in flight).",
		}),

		DocumentsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "documents_failed_total",
			Help:      "Total number of documents that could not be ingested.",
		}),

		ChunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunks written to the vector store.",
		}),

		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "sync_duration_seconds",
			Help:      "Wall-clock duration of sync runs.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		}),
	}
}
