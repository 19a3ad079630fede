// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meeting_scribe"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Capture metrics
	FramesCaptured *prometheus.CounterVec
	FramesMerged   prometheus.Counter

	// Segmentation metrics
	SegmentsEmitted   *prometheus.CounterVec
	SegmentsSplit     prometheus.Counter
	SegmentDuration   prometheus.Histogram
	SpeechProbability prometheus.Histogram

	// Dispatch metrics
	DispatchQueued   *prometheus.GaugeVec
	DispatchInFlight *prometheus.GaugeVec
	BackendLatency   *prometheus.HistogramVec
	BackendErrors    *prometheus.CounterVec
	BackendRetries   *prometheus.CounterVec
	ResultsReordered prometheus.Counter
	ResultsFailed    *prometheus.CounterVec

	// Transcript metrics
	EntriesAppended  prometheus.Counter
	SummariesCreated prometheus.Counter
	SummariesSkipped *prometheus.CounterVec
	SummaryLatency   prometheus.Histogram

	// Clustering metrics
	EmbeddingsIngested prometheus.Counter
	FastPathAssigned   prometheus.Counter
	ReclusterRuns      prometheus.Counter
	ReclusterDuration  prometheus.Histogram
	SpeakersKnown      prometheus.Gauge
	NoiseEmbeddings    prometheus.Gauge

	// Event publish metrics
	PublishTotal   *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
}

// Default is the global metrics instance.
var Default = New()

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		FramesCaptured: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Total PCM frames captured per input device",
		}, []string{"device"}),
		FramesMerged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_merged_total",
			Help:      "Total frames emitted by the time-ordered merger",
		}),

		SegmentsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_emitted_total",
			Help:      "Total utterance segments emitted per device",
		}, []string{"device"}),
		SegmentsSplit: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_split_total",
			Help:      "Total segments force-split at the duration cap",
		}),
		SegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segment_duration_seconds",
			Help:      "Duration of emitted segments in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		SpeechProbability: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speech_probability",
			Help:      "Per-frame speech probability from the local detector",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),

		DispatchQueued: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queued",
			Help:      "Segments waiting for backend admission",
		}, []string{"backend"}),
		DispatchInFlight: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_in_flight",
			Help:      "Segments currently in flight per backend",
		}, []string{"backend"}),
		BackendLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Inference backend call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"backend", "provider"}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Total inference backend call errors",
		}, []string{"backend", "provider"}),
		BackendRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Total inference backend call retries",
		}, []string{"backend"}),
		ResultsReordered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_reordered_total",
			Help:      "Results buffered because an earlier segment was still pending",
		}),
		ResultsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_failed_total",
			Help:      "Segments surfaced as failed placeholders",
		}, []string{"backend"}),

		EntriesAppended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Total transcript entries appended",
		}),
		SummariesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_created_total",
			Help:      "Total summaries generated",
		}),
		SummariesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_skipped_total",
			Help:      "Summary generations skipped",
		}, []string{"reason"}),
		SummaryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summary_latency_seconds",
			Help:      "Summarization collaborator latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 60},
		}),

		EmbeddingsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embeddings_ingested_total",
			Help:      "Total voice embeddings ingested by the clusterer",
		}),
		FastPathAssigned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_fast_path_total",
			Help:      "Embeddings assigned by the incremental fast path",
		}),
		ReclusterRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recluster_runs_total",
			Help:      "Total batch re-cluster passes",
		}),
		ReclusterDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recluster_duration_seconds",
			Help:      "Batch re-cluster pass duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		SpeakersKnown: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speakers_known",
			Help:      "Number of known speaker identities",
		}),
		NoiseEmbeddings: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "noise_embeddings",
			Help:      "Embeddings currently unassigned (noise) pending more data",
		}),

		PublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Total events published",
		}, []string{"topic"}),
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Total event publish errors",
		}, []string{"topic"}),
		PublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_latency_seconds",
			Help:      "Event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordBackendCall records one backend call outcome.
func (m *Metrics) RecordBackendCall(backend, provider string, err error, latencySeconds float64) {
	m.BackendLatency.WithLabelValues(backend, provider).Observe(latencySeconds)
	if err != nil {
		m.BackendErrors.WithLabelValues(backend, provider).Inc()
	}
}

// RecordPublish records one event publish attempt.
func (m *Metrics) RecordPublish(topic string, err error, latencySeconds float64) {
	m.PublishTotal.WithLabelValues(topic).Inc()
	m.PublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.PublishErrors.WithLabelValues(topic).Inc()
	}
}
