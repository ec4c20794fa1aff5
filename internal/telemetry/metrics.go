package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsStarted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "qa_runs_started_total", Help: "Processing runs started"})
	BatchesOK       = prometheus.NewCounter(prometheus.CounterOpts{Name: "qa_batches_succeeded_total", Help: "Batches whose inference call succeeded"})
	BatchesFailed   = prometheus.NewCounter(prometheus.CounterOpts{Name: "qa_batches_failed_total", Help: "Batches whose inference call failed"})
	RowsCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "qa_rows_completed_total", Help: "Rows persisted as completed"})
	RowsFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "qa_rows_failed_total", Help: "Rows persisted as error"})
	RowsUnrecorded  = prometheus.NewCounter(prometheus.CounterOpts{Name: "qa_rows_unrecorded_total", Help: "Row outcomes that could not be persisted and need manual reconciliation"})
	JobsReconciled  = prometheus.NewCounter(prometheus.CounterOpts{Name: "qa_jobs_reconciled_total", Help: "Orphaned jobs reset by the reconciliation sweep"})
	JobsProcessing  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "qa_jobs_processing", Help: "Jobs currently in a batch pass"})
	InferenceTokens = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "qa_inference_tokens_total", Help: "Tokens consumed by inference calls"}, []string{"direction"})
	InferenceCalls  = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "qa_inference_call_seconds",
		Help:    "Inference service call latency",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RunsStarted,
			BatchesOK,
			BatchesFailed,
			RowsCompleted,
			RowsFailed,
			RowsUnrecorded,
			JobsReconciled,
			JobsProcessing,
			InferenceTokens,
			InferenceCalls,
		)
	})
	return promhttp.Handler()
}

// RecordUsage adds one call's token usage to the counters.
func RecordUsage(inputTokens, outputTokens int) {
	if inputTokens > 0 {
		InferenceTokens.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		InferenceTokens.WithLabelValues("output").Add(float64(outputTokens))
	}
}
