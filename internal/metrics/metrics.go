// Package metrics exposes the engine's Prometheus instrumentation:
// dropped/failed record counters, back-pressure and topic-depth gauges,
// and per-record/per-batch latency histograms — promauto-registered
// package-level vectors plus small helper functions, no metrics.Registry
// type to thread through call sites.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gauss_records_dropped_total",
			Help: "Total number of records discarded under back-pressure or a failed encoding step",
		},
		[]string{"topic", "reason"},
	)

	recordsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gauss_records_failed_total",
			Help: "Total number of records a processor failed to handle",
		},
		[]string{"processor", "stage"},
	)

	pipelineRestartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gauss_pipeline_restarts_total",
			Help: "Total number of times the supervisor restarted a failed processor",
		},
		[]string{"processor"},
	)

	topicDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gauss_topic_depth",
			Help: "Number of records currently buffered in a topic's storage",
		},
		[]string{"topic"},
	)

	backpressureActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gauss_backpressure_active",
			Help: "1 when a topic's storage is at capacity under its declared overflow policy, else 0",
		},
		[]string{"topic", "policy"},
	)

	recordLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gauss_record_processing_seconds",
			Help:    "Per-record processing latency through the data-pipeline executor",
			Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"topic"},
	)

	batchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gauss_batch_flush_seconds",
			Help:    "Time to drain and write one storage batch buffer",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"topic"},
	)
)

// Handler exposes the registered metrics on the conventional /metrics
// endpoint; gaussd run mounts it when [metrics] is enabled.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDropped increments the dropped-record counter for topic, tagged
// with reason ("drop", "overwrite", "malformed_frame", "invalid_value",
// "missing_key_field").
func RecordDropped(topicName, reason string) {
	recordsDroppedTotal.WithLabelValues(topicName, reason).Inc()
}

// RecordFailed increments the failed-record counter for processor at the
// given pipeline stage ("decode", "convert", "encode", "write").
func RecordFailed(processorName, stage string) {
	recordsFailedTotal.WithLabelValues(processorName, stage).Inc()
}

// RecordRestart increments the restart counter for a processor the
// supervisor has just relaunched after a fatal runtime error.
func RecordRestart(processorName string) {
	pipelineRestartsTotal.WithLabelValues(processorName).Inc()
}

// SetTopicDepth reports topic's current buffered record count.
func SetTopicDepth(topicName string, depth int) {
	topicDepth.WithLabelValues(topicName).Set(float64(depth))
}

// SetBackpressureActive reports whether topic is currently at capacity
// under policy.
func SetBackpressureActive(topicName, policy string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	backpressureActive.WithLabelValues(topicName, policy).Set(v)
}

// ObserveRecordLatency records how long one record took to pass through
// the data-pipeline executor for topicName.
func ObserveRecordLatency(topicName string, d time.Duration) {
	recordLatency.WithLabelValues(topicName).Observe(d.Seconds())
}

// ObserveBatchLatency records how long a batch flush took for topicName.
func ObserveBatchLatency(topicName string, d time.Duration) {
	batchLatency.WithLabelValues(topicName).Observe(d.Seconds())
}
