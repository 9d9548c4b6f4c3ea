package handler

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"fba-sync-api/pkg/response"
)

// Check verifies one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Handler serves health, readiness and status probes.
type Handler struct {
	service   string
	version   string
	startTime time.Time
	checks    map[string]Check
}

// New creates a new health handler. checks are run by the readiness probe.
func New(service, version string, checks map[string]Check) *Handler {
	return &Handler{
		service:   service,
		version:   version,
		startTime: time.Now(),
		checks:    checks,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Result  `json:"checks"`
}

// Result is the outcome of one readiness check.
type Result struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) runChecks(ctx context.Context) ([]Result, bool) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := []Result{{Name: "api", Status: "ok"}}
	ready := true
	for _, name := range names {
		res := Result{Name: name, Status: "ok"}
		if err := h.checks[name](ctx); err != nil {
			res.Status = "error"
			res.Error = err.Error()
			ready = false
		}
		results = append(results, res)
	}
	return results, ready
}

// Ready handles GET /api/v1/ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks, ready := h.runChecks(r.Context())

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, ReadyResponse{
		Ready:     ready,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// StatusResponse represents the unified status response for monitoring.
type StatusResponse struct {
	Service       string   `json:"service"`
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Timestamp     string   `json:"timestamp"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Goroutines    int      `json:"goroutines"`
	MemoryMB      float64  `json:"memory_mb"`
	GoVersion     string   `json:"go_version"`
	Checks        []Result `json:"checks"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryMB := float64(memStats.Alloc) / 1024 / 1024

	checks, ready := h.runChecks(r.Context())
	status := "ok"
	if !ready {
		status = "degraded"
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	response.OK(w, StatusResponse{
		Service:       h.service,
		Status:        status,
		Version:       h.version,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		MemoryMB:      float64(int(memoryMB*100)) / 100,
		GoVersion:     runtime.Version(),
		Checks:        checks,
	})
}
