package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestion Prometheus metrics.
var (
	IngestDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpus",
			Name:      "ingest_documents_total",
			Help:      "Total documents processed by the ingestion pipeline",
		},
		[]string{"status"}, // "completed" / "failed"
	)

	IngestChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpus",
			Name:      "ingest_chunks_total",
			Help:      "Total chunks produced and indexed",
		},
	)

	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpus",
			Name:      "ingest_duration_seconds",
			Help:      "Per-document ingestion duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	IngestStaleSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpus",
			Name:      "ingest_stale_swept_total",
			Help:      "Documents force-failed by the stale processing sweep",
		},
	)
)

var ingestMetricsRegistered bool

// RegisterIngestMetrics registers Prometheus ingestion metrics. Must be called once from main.
func RegisterIngestMetrics() {
	if ingestMetricsRegistered {
		return
	}
	prometheus.MustRegister(IngestDocumentsTotal)
	prometheus.MustRegister(IngestChunksTotal)
	prometheus.MustRegister(IngestDuration)
	prometheus.MustRegister(IngestStaleSweptTotal)
	ingestMetricsRegistered = true
}
