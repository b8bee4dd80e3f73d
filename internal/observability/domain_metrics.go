package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckask_pipeline_runs_total",
			Help: "Total number of question runs by terminal result kind.",
		},
		[]string{"kind"},
	)
	modelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckask_model_requests_total",
			Help: "Total number of completion requests by model and status.",
		},
		[]string{"model", "status"},
	)
	modelRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckask_model_request_duration_seconds",
			Help:    "Completion request latency by model.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
		},
		[]string{"model"},
	)
	modelFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckask_model_fallbacks_total",
			Help: "Total number of fallback attempts after a deprecated model failed.",
		},
		[]string{"status"},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckask_query_executions_total",
			Help: "Total number of SQL executions by status.",
		},
		[]string{"status"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckask_query_duration_seconds",
			Help:    "SQL execution latency including dataset registration.",
			Buckets: prometheus.DefBuckets,
		},
	)
	datasetsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckask_datasets_loaded_total",
			Help: "Total number of datasets loaded by source format.",
		},
		[]string{"format"},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRunsTotal,
		modelRequestsTotal,
		modelRequestDurationSeconds,
		modelFallbacksTotal,
		queryExecutionsTotal,
		queryDurationSeconds,
		datasetsLoadedTotal,
	)
}

func ObservePipelineRun(kind string) {
	pipelineRunsTotal.WithLabelValues(kind).Inc()
}

func ObserveModelRequest(model string, elapsed time.Duration, err error) {
	modelRequestsTotal.WithLabelValues(model, statusLabel(err)).Inc()
	modelRequestDurationSeconds.WithLabelValues(model).Observe(elapsed.Seconds())
}

func ObserveModelFallback(err error) {
	modelFallbacksTotal.WithLabelValues(statusLabel(err)).Inc()
}

func ObserveQueryExecution(elapsed time.Duration, failed bool) {
	status := "success"
	if failed {
		status = "failure"
	}
	queryExecutionsTotal.WithLabelValues(status).Inc()
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveDatasetLoaded(format string) {
	datasetsLoadedTotal.WithLabelValues(format).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
