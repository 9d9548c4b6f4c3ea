package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"fba-sync-api/internal/model"
	"fba-sync-api/internal/service"
	"fba-sync-api/pkg/apierror"
	"fba-sync-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// RefreshController starts refreshes and reports per-region state.
type RefreshController interface {
	Trigger(ctx context.Context, code string) (model.Region, *service.Task, error)
	Status(ctx context.Context) []model.RegionStatus
	Runs(ctx context.Context, code string, limit int) ([]model.RefreshRun, error)
}

// RegionHandler handles refresh and status requests.
type RegionHandler struct {
	refresh RefreshController
}

// NewRegionHandler creates a new region handler.
func NewRegionHandler(refresh RefreshController) *RegionHandler {
	return &RegionHandler{refresh: refresh}
}

// Refresh handles POST /api/v1/regions/{region}/refresh
func (h *RegionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "region")

	region, _, err := h.refresh.Trigger(r.Context(), code)
	if err != nil {
		writeError(w, err, strings.ToUpper(code))
		return
	}

	w.Header().Set("Location", "/api/v1/regions/"+string(region)+"/runs")
	response.Accepted(w, map[string]any{
		"region": region,
		"status": "queued",
	})
}

// GetStatus handles GET /api/v1/regions/status
func (h *RegionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.refresh.Status(r.Context()))
}

// GetRuns handles GET /api/v1/regions/{region}/runs?limit=N
func (h *RegionHandler) GetRuns(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "region")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.Error(w, apierror.BadRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs, err := h.refresh.Runs(r.Context(), code, limit)
	if err != nil {
		writeError(w, err, strings.ToUpper(code))
		return
	}

	response.JSONWithMeta(w, http.StatusOK, runs, map[string]any{
		"region": strings.ToUpper(code),
		"limit":  limit,
	})
}
