// Package metrics provides Prometheus instrumentation for the sync service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RefreshOutcomes counts planning refresh runs by region and outcome.
	RefreshOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbasync_refresh_outcomes_total",
		Help: "Planning refresh runs by outcome",
	}, []string{"region", "outcome"})

	// PollAttempts observes how many status polls a report job needed.
	PollAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fbasync_report_poll_attempts",
		Help:    "Status polls per report job",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 10, 12},
	}, []string{"region"})

	// PlanningRecords tracks the size of each region's planning cache.
	PlanningRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fbasync_planning_records",
		Help: "Records in the current planning cache entry",
	}, []string{"region"})

	// CooldownUntil exposes the active cooldown deadline as a unix timestamp.
	CooldownUntil = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fbasync_cooldown_until_seconds",
		Help: "Unix time before which report creation is not retried",
	}, []string{"region"})

	// UpstreamRequests counts upstream API calls by region, api and status.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbasync_upstream_requests_total",
		Help: "Upstream API requests",
	}, []string{"region", "api", "status"})

	// SweepDuration observes the wall time of scheduled sweeps.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fbasync_sweep_duration_seconds",
		Help:    "Duration of a full refresh sweep",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})

	// SweepsSkipped counts sweeps that found another sweep still running.
	SweepsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fbasync_sweeps_skipped_total",
		Help: "Sweeps skipped because one was already running",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbasync_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fbasync_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "route"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
