package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fba-sync-api/internal/metrics"
	"fba-sync-api/internal/model"
	"fba-sync-api/internal/repository"
)

// Refresher runs one planning refresh for a region.
type Refresher interface {
	Refresh(ctx context.Context, region model.Region, trigger model.Trigger) RefreshResult
}

// SchedulerConfig holds configuration for the refresh scheduler.
type SchedulerConfig struct {
	Regions []model.Region

	// Interval is how often a sweep starts. Default: 15 minutes
	Interval time.Duration

	// InitialDelay is the wait before the first sweep after Start. Default: 30 seconds
	InitialDelay time.Duration

	// RegionDelay separates consecutive regions inside one sweep. Default: 15 seconds
	RegionDelay time.Duration

	// HistoryRetention prunes older runs after each sweep. Zero keeps everything.
	HistoryRetention time.Duration

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:     15 * time.Minute,
		InitialDelay: 30 * time.Second,
		RegionDelay:  15 * time.Second,
	}
}

// Scheduler sweeps the tracked regions sequentially on a fixed interval.
// A sweep that finds another still running exits immediately.
type Scheduler struct {
	refresher Refresher
	runs      repository.RunRepository
	config    SchedulerConfig
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
	sweeping  atomic.Bool
	wg        sync.WaitGroup
}

// NewScheduler creates a new refresh scheduler. runs may be nil.
func NewScheduler(refresher Refresher, runs repository.RunRepository, config SchedulerConfig, logger *slog.Logger) *Scheduler {
	def := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.RegionDelay < 0 {
		config.RegionDelay = def.RegionDelay
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		refresher: refresher,
		runs:      runs,
		config:    config,
		logger:    logger.With("component", "scheduler"),
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		"interval", s.config.Interval, "initial_delay", s.config.InitialDelay, "regions", s.config.Regions)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.config.Sleep(s.ctx, s.config.InitialDelay); err != nil {
			return
		}
		s.Sweep(s.ctx)
	}()
	go s.run()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.Sweep(s.ctx)
		case <-s.stopCh:
			s.logger.Info("scheduler stopped")
			return
		}
	}
}

// Sweep refreshes every tracked region in order. It returns false if another
// sweep was already in progress.
func (s *Scheduler) Sweep(ctx context.Context) bool {
	if !s.sweeping.CompareAndSwap(false, true) {
		metrics.SweepsSkipped.Inc()
		s.logger.Info("sweep already running, skipping")
		return false
	}
	defer s.sweeping.Store(false)

	start := time.Now()
	counts := make(map[model.Outcome]int)

	for i, region := range s.config.Regions {
		if i > 0 && s.config.RegionDelay > 0 {
			if err := s.config.Sleep(ctx, s.config.RegionDelay); err != nil {
				s.logger.Info("sweep interrupted", "error", err)
				break
			}
		}
		res := s.refresher.Refresh(ctx, region, model.TriggerScheduled)
		counts[res.Outcome]++
	}

	s.prune(ctx)

	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("sweep finished", "duration", time.Since(start), "outcomes", counts)
	return true
}

func (s *Scheduler) prune(ctx context.Context) {
	if s.runs == nil || s.config.HistoryRetention <= 0 {
		return
	}
	deleted, err := s.runs.Prune(ctx, s.config.Now().Add(-s.config.HistoryRetention))
	if err != nil {
		s.logger.Warn("failed to prune run history", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("pruned run history", "deleted", deleted, "retention", s.config.HistoryRetention)
	}
}

// Stop stops the scheduler and waits for the loop to exit. A sweep in
// progress is cancelled.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
	})
}
