package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	jobsTotal             *prometheus.CounterVec
	submissionsTotal      *prometheus.CounterVec
	jobDurationSeconds    prometheus.Histogram
	breakerTripsTotal     prometheus.Counter
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the grading service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradeflow_jobs_total",
			Help: "Grading jobs finished, by terminal outcome.",
		}, []string{"outcome"})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradeflow_submissions_total",
			Help: "Submissions reaching a terminal status.",
		}, []string{"status"})

		jobDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gradeflow_job_duration_seconds",
			Help:    "Wall-clock duration of grading jobs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		})

		breakerTripsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gradeflow_breaker_trips_total",
			Help: "Times the provider circuit breaker tripped.",
		})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradeflow_http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gradeflow_http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradeflow_http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		prometheus.MustRegister(jobsTotal, submissionsTotal, jobDurationSeconds,
			breakerTripsTotal, httpRequestsTotal, httpLatencySeconds, httpErrorsTotal)
	})
}

// Jobs exposes the counter for finished jobs.
func Jobs() *prometheus.CounterVec {
	RegisterMetrics()
	return jobsTotal
}

// Submissions exposes the counter for terminal submissions.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// JobDuration exposes the job duration histogram.
func JobDuration() prometheus.Histogram {
	RegisterMetrics()
	return jobDurationSeconds
}

// BreakerTrips exposes the breaker trip counter.
func BreakerTrips() prometheus.Counter {
	RegisterMetrics()
	return breakerTripsTotal
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}
