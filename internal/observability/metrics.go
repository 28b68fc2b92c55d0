package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	requestsTotal      *prometheus.CounterVec
	latencySeconds     *prometheus.HistogramVec
	errorsTotal        *prometheus.CounterVec
	syncRunsTotal      *prometheus.CounterVec
	syncLatencySeconds *prometheus.HistogramVec
	submissionsTotal   *prometheus.CounterVec
	gradingTotal       *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors for the API and the
// grading engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aula_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aula_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aula_errors_total",
			Help: "Total number of error responses returned by API endpoints.",
		}, []string{"method", "route", "status"})

		syncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aula_curriculum_sync_runs_total",
			Help: "Total number of curriculum snapshot sync runs.",
		}, []string{"class", "status"})

		syncLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aula_curriculum_sync_latency_seconds",
			Help:    "Latency distribution for curriculum sync runs.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"class"})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aula_submissions_total",
			Help: "Total number of submission attempts accepted.",
		}, []string{"class"})

		gradingTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aula_grading_mutations_total",
			Help: "Total number of grading mutations, by outcome.",
		}, []string{"class", "status"})

		prometheus.MustRegister(
			requestsTotal, latencySeconds, errorsTotal,
			syncRunsTotal, syncLatencySeconds, submissionsTotal, gradingTotal,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// Errors exposes the counter for API error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

// SyncRuns exposes the counter for curriculum sync runs.
func SyncRuns() *prometheus.CounterVec {
	RegisterMetrics()
	return syncRunsTotal
}

// SyncLatency exposes the latency histogram for curriculum sync runs.
func SyncLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return syncLatencySeconds
}

// Submissions exposes the counter for accepted submission attempts.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// GradingMutations exposes the counter for grading mutations.
func GradingMutations() *prometheus.CounterVec {
	RegisterMetrics()
	return gradingTotal
}
