package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fba-sync-api/internal/model"
)

// TokenKey identifies a cached access token by its credential pair.
type TokenKey struct {
	ClientID     string
	RefreshToken string
}

// StoreConfig holds lifetimes for the caches owned by Store.
type StoreConfig struct {
	PlanningTTL time.Duration
	ShipmentTTL time.Duration
	Now         func() time.Time
	Snapshots   PlanningStore
	Logger      *slog.Logger
}

// Store owns every cache the sync service relies on. It is built once at
// startup and handed to the components that need it.
type Store struct {
	Tokens    *TTLCache[TokenKey, model.AccessToken]
	Planning  *TTLCache[model.Region, *model.PlanningCacheEntry]
	Shipments *TTLCache[model.Region, []model.Shipment]
	Cooldowns *Cooldown[model.Region]

	snapshots PlanningStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore creates the cache service.
func NewStore(cfg StoreConfig) *Store {
	if cfg.PlanningTTL == 0 {
		cfg.PlanningTTL = 6 * time.Hour
	}
	if cfg.ShipmentTTL == 0 {
		cfg.ShipmentTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Snapshots == nil {
		cfg.Snapshots = NopPlanningStore{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Store{
		Tokens:    NewTTLCache[TokenKey, model.AccessToken](0, cfg.Now),
		Planning:  NewTTLCache[model.Region, *model.PlanningCacheEntry](cfg.PlanningTTL, cfg.Now),
		Shipments: NewTTLCache[model.Region, []model.Shipment](cfg.ShipmentTTL, cfg.Now),
		Cooldowns: NewCooldown[model.Region](cfg.Now),
		snapshots: cfg.Snapshots,
		logger:    cfg.Logger.With("component", "cache"),
		now:       cfg.Now,
	}
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}

// PutPlanning replaces the region's planning entry and mirrors it to the
// snapshot store. A mirror failure is logged; the in-memory entry stands.
func (s *Store) PutPlanning(ctx context.Context, region model.Region, entry *model.PlanningCacheEntry) {
	ttl := s.Planning.TTL()
	s.Planning.Restore(region, entry, entry.FetchedAt, ttl)

	remaining := ttl - s.now().Sub(entry.FetchedAt)
	if remaining <= 0 {
		return
	}
	if err := s.snapshots.Save(ctx, region, entry, remaining); err != nil {
		s.logger.Warn("planning snapshot save failed", "region", region, "error", err)
	}
}

// Warm restores persisted planning entries that are still within TTL.
// It returns the number of regions restored.
func (s *Store) Warm(ctx context.Context, regions []model.Region) int {
	restored := 0
	for _, region := range regions {
		entry, err := s.snapshots.Load(ctx, region)
		if err != nil {
			if !errors.Is(err, ErrCacheMiss) {
				s.logger.Warn("planning snapshot load failed", "region", region, "error", err)
			}
			continue
		}
		if s.now().Sub(entry.FetchedAt) >= s.Planning.TTL() {
			continue
		}
		s.Planning.Restore(region, entry, entry.FetchedAt, s.Planning.TTL())
		restored++
		s.logger.Info("planning cache restored", "region", region, "items", len(entry.Items), "fetched_at", entry.FetchedAt)
	}
	return restored
}

// Close releases the snapshot store.
func (s *Store) Close() error {
	return s.snapshots.Close()
}
