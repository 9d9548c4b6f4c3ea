package repository

import (
	"context"
	"time"

	"fba-sync-api/internal/model"
)

// RunRepository stores the history of planning refresh runs.
type RunRepository interface {
	// Record inserts a finished run.
	Record(ctx context.Context, run *model.RefreshRun) error

	// LatestByRegion returns the most recent run per region.
	LatestByRegion(ctx context.Context) (map[model.Region]*model.RefreshRun, error)

	// List returns up to limit runs for a region, newest first.
	List(ctx context.Context, region model.Region, limit int) ([]model.RefreshRun, error)

	// Prune deletes runs that started before cutoff and returns how many went.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// Close closes the repository connection.
	Close() error
}

// CredentialRepository resolves SP-API credentials per region.
type CredentialRepository interface {
	// Credentials returns the active credential set for region.
	Credentials(ctx context.Context, region model.Region) (model.Credentials, error)
}

// clampLimit bounds a caller-supplied page size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 200 {
		return 200
	}
	return limit
}
