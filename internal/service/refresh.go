package service

import (
	"context"
	"errors"
	"log/slog"

	"fba-sync-api/internal/cache"
	"fba-sync-api/internal/model"
	"fba-sync-api/internal/repository"
)

// ErrRefreshInProgress is returned when a manual refresh targets a region that is already refreshing.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// RefreshService exposes manual refresh, per-region status and run history.
type RefreshService struct {
	orch      *Orchestrator
	validator Validator
	runner    *TaskRunner
	store     *cache.Store
	runs      repository.RunRepository
	regions   []model.Region
	logger    *slog.Logger
}

// NewRefreshService creates a refresh service for the tracked regions. runs may be nil.
func NewRefreshService(orch *Orchestrator, validator Validator, runner *TaskRunner, store *cache.Store, runs repository.RunRepository, regions []model.Region, logger *slog.Logger) *RefreshService {
	return &RefreshService{
		orch:      orch,
		validator: validator,
		runner:    runner,
		store:     store,
		runs:      runs,
		regions:   regions,
		logger:    logger.With("component", "refresh"),
	}
}

// Regions returns the tracked regions.
func (s *RefreshService) Regions() []model.Region {
	return s.regions
}

// Trigger validates the region and starts a refresh in the background.
// It returns as soon as the task is submitted.
func (s *RefreshService) Trigger(ctx context.Context, code string) (model.Region, *Task, error) {
	info, err := model.LookupRegion(code)
	if err != nil {
		return "", nil, err
	}
	if err := s.validator.Validate(ctx, info.Code); err != nil {
		return "", nil, err
	}
	if s.orch.IsRefreshing(info.Code) {
		return info.Code, nil, ErrRefreshInProgress
	}

	region := info.Code
	task := s.runner.Go("refresh:"+string(region), func(ctx context.Context) error {
		return s.orch.Refresh(ctx, region, model.TriggerManual).Err
	})
	s.logger.Info("manual refresh queued", "region", region)
	return region, task, nil
}

// Status returns the cache, cooldown and last-run state of every tracked region.
func (s *RefreshService) Status(ctx context.Context) []model.RegionStatus {
	var latest map[model.Region]*model.RefreshRun
	if s.runs != nil {
		var err error
		if latest, err = s.runs.LatestByRegion(ctx); err != nil {
			s.logger.Warn("failed to load latest runs", "error", err)
		}
	}

	now := s.store.Now()
	out := make([]model.RegionStatus, 0, len(s.regions))
	for _, region := range s.regions {
		st := model.RegionStatus{
			Region:     region,
			Refreshing: s.orch.IsRefreshing(region),
			LastRun:    latest[region],
		}

		if entry, ok := s.store.Planning.Peek(region); ok {
			fetched := entry.FetchedAt
			age := int64(now.Sub(fetched).Seconds())
			st.HasPlanningCache = true
			st.PlanningFetchedAt = &fetched
			st.PlanningAgeSeconds = &age
			_, st.PlanningFresh = s.store.Planning.Entry(region)
			if entry.Value != nil {
				st.PlanningItems = len(entry.Value.Items)
			}
		}
		if until, ok := s.store.Cooldowns.Until(region); ok {
			st.CooldownUntil = &until
		}
		out = append(out, st)
	}
	return out
}

// Runs returns recent runs for a region, newest first.
func (s *RefreshService) Runs(ctx context.Context, code string, limit int) ([]model.RefreshRun, error) {
	info, err := model.LookupRegion(code)
	if err != nil {
		return nil, err
	}
	if s.runs == nil {
		return []model.RefreshRun{}, nil
	}
	return s.runs.List(ctx, info.Code, limit)
}
