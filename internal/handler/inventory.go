package handler

import (
	"context"
	"net/http"
	"strings"

	"fba-sync-api/internal/model"
	"fba-sync-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

// SnapshotReader builds merged inventory snapshots.
type SnapshotReader interface {
	Snapshots(ctx context.Context, codes []string) ([]*model.Snapshot, error)
	Snapshot(ctx context.Context, code string) (*model.Snapshot, error)
}

// InventoryHandler handles inventory-related HTTP requests.
type InventoryHandler struct {
	snapshots SnapshotReader
	regions   []model.Region
}

// NewInventoryHandler creates a new inventory handler. defaultRegions are
// served when a request names none.
func NewInventoryHandler(snapshots SnapshotReader, defaultRegions []model.Region) *InventoryHandler {
	return &InventoryHandler{
		snapshots: snapshots,
		regions:   defaultRegions,
	}
}

// GetInventory handles GET /api/v1/inventory?regions=US,UK
func (h *InventoryHandler) GetInventory(w http.ResponseWriter, r *http.Request) {
	var codes []string
	if raw := r.URL.Query().Get("regions"); raw != "" {
		codes = strings.Split(raw, ",")
	} else {
		for _, region := range h.regions {
			codes = append(codes, string(region))
		}
	}

	snaps, err := h.snapshots.Snapshots(r.Context(), codes)
	if err != nil {
		writeError(w, err, "")
		return
	}

	meta := map[string]any{"regions": len(snaps)}
	failed := make(map[model.Region]string)
	for _, snap := range snaps {
		if snap.Error != "" {
			failed[snap.Region] = snap.Error
		}
	}
	if len(failed) > 0 {
		meta["failed"] = failed
	}
	response.JSONWithMeta(w, http.StatusOK, snaps, meta)
}

// GetRegionInventory handles GET /api/v1/inventory/{region}
func (h *InventoryHandler) GetRegionInventory(w http.ResponseWriter, r *http.Request) {
	region := chi.URLParam(r, "region")

	snap, err := h.snapshots.Snapshot(r.Context(), region)
	if err != nil {
		writeError(w, err, strings.ToUpper(region))
		return
	}

	response.OK(w, snap)
}
