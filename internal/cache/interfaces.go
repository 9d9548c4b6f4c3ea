package cache

import (
	"context"
	"time"

	"fba-sync-api/internal/model"
)

// PlanningStore persists planning cache entries outside the process so a
// restart does not have to wait for a fresh bulk report.
type PlanningStore interface {
	// Save stores the entry for a region, expiring it after ttl.
	Save(ctx context.Context, region model.Region, entry *model.PlanningCacheEntry, ttl time.Duration) error

	// Load returns the stored entry. Returns ErrCacheMiss if absent.
	Load(ctx context.Context, region model.Region) (*model.PlanningCacheEntry, error)

	// Close releases the underlying connection.
	Close() error
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)

// NopPlanningStore keeps nothing; planning data lives only in memory.
type NopPlanningStore struct{}

func (NopPlanningStore) Save(context.Context, model.Region, *model.PlanningCacheEntry, time.Duration) error {
	return nil
}

func (NopPlanningStore) Load(context.Context, model.Region) (*model.PlanningCacheEntry, error) {
	return nil, ErrCacheMiss
}

func (NopPlanningStore) Close() error { return nil }
