// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	/* Statement metrics */
	statementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlsql_statements_total",
			Help: "Statements submitted to the executor, by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	statementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlsql_statement_duration_seconds",
			Help:    "Time spent executing statements, including lock wait",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"category"},
	)

	lockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nlsql_executor_lock_wait_seconds",
			Help:    "Time spent waiting for the executor lock",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 5},
		},
	)

	/* Request metrics */
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlsql_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlsql_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	/* Feature metrics */
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlsql_llm_calls_total",
			Help: "Total number of SQL generation calls",
		},
		[]string{"model", "status"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlsql_uploads_total",
			Help: "Uploaded files, by kind and status",
		},
		[]string{"kind", "status"},
	)

	uploadedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nlsql_uploaded_rows_total",
			Help: "Rows loaded from uploaded data files",
		},
	)
)

// RecordStatement records one executor call.
func RecordStatement(category, outcome string, duration time.Duration) {
	statementsTotal.WithLabelValues(category, outcome).Inc()
	statementDuration.WithLabelValues(category).Observe(duration.Seconds())
}

// RecordLockWait records how long a caller waited for the executor lock.
func RecordLockWait(d time.Duration) {
	lockWait.Observe(d.Seconds())
}

// RecordHTTPRequest records a served request, bucketing status by class.
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	statusClass := "unknown"
	switch {
	case status >= 500:
		statusClass = "5xx"
	case status >= 400:
		statusClass = "4xx"
	case status >= 300:
		statusClass = "3xx"
	case status >= 200:
		statusClass = "2xx"
	}

	httpRequestsTotal.WithLabelValues(method, endpoint, statusClass).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordLLMCall records a SQL generation attempt.
func RecordLLMCall(model, status string) {
	llmCallsTotal.WithLabelValues(model, status).Inc()
}

// RecordUpload records an uploaded data file or image.
func RecordUpload(kind, status string, rows int) {
	uploadsTotal.WithLabelValues(kind, status).Inc()
	if rows > 0 {
		uploadedRows.Add(float64(rows))
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
