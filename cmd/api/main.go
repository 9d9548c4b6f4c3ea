package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fba-sync-api/internal/cache"
	"fba-sync-api/internal/config"
	"fba-sync-api/internal/handler"
	"fba-sync-api/internal/logging"
	"fba-sync-api/internal/model"
	"fba-sync-api/internal/repository"
	"fba-sync-api/internal/router"
	"fba-sync-api/internal/service"
	"fba-sync-api/internal/spapi"

	_ "github.com/go-sql-driver/mysql"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		Level:       cfg.App.LogLevel,
		JSON:        !cfg.App.IsDevelopment(),
		Service:     cfg.App.Name,
		Environment: cfg.App.Environment,
		Version:     cfg.App.Version,
	})
	slog.SetDefault(logger)
	logger.Info("starting")

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	regions, err := cfg.Sync.TrackedRegions()
	if err != nil {
		return err
	}
	checks := make(map[string]handler.Check)

	// Run history
	runs, err := openHistory(cfg.History, logger)
	if err != nil {
		return err
	}
	if runs != nil {
		defer runs.Close()
		if p, ok := runs.(pinger); ok {
			checks["history"] = p.Ping
		}
	}

	// Credentials
	var credentials spapi.CredentialProvider = spapi.StaticCredentials{
		ClientID:      cfg.SPAPI.ClientID,
		ClientSecret:  cfg.SPAPI.ClientSecret,
		RefreshTokens: cfg.SPAPI.RefreshTokens,
	}
	if cfg.SPAPI.CredentialSource == "mysql" {
		db, err := openMySQL(cfg.Database.DSN())
		if err != nil {
			return err
		}
		defer db.Close()
		credentials = repository.NewMySQLCredentialRepository(db, cfg.Database.CacheTTL)
		checks["credentials"] = db.PingContext
		logger.Info("mysql credential repository initialized")
	}

	// Planning snapshot store (warm restart)
	var snapshots cache.PlanningStore = cache.NopPlanningStore{}
	if cfg.Cache.SnapshotStore == "redis" {
		redisStore, err := cache.NewRedisPlanningStore(cache.RedisStoreConfig{
			Addr:      cfg.Cache.RedisAddress(),
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.KeyPrefix,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, planning cache will not survive restarts", "error", err)
		} else {
			snapshots = redisStore
			checks["snapshots"] = redisStore.Ping
		}
	}

	store := cache.NewStore(cache.StoreConfig{
		PlanningTTL: cfg.Sync.PlanningTTL,
		ShipmentTTL: cfg.Sync.ShipmentTTL,
		Snapshots:   snapshots,
		Logger:      logger,
	})
	defer store.Close()

	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 10*time.Second)
	restored := store.Warm(warmCtx, model.AllRegions())
	cancelWarm()
	logger.Info("planning cache warmed", "regions", restored)

	// Upstream
	httpClient := &http.Client{Timeout: cfg.SPAPI.RequestTimeout}
	auth := spapi.NewAuthenticator(httpClient, cfg.SPAPI.AuthURL)
	tokens := service.NewTokenService(auth, store, cfg.Sync.TokenMargin, logger)
	client := spapi.NewClient(spapi.ClientConfig{
		Endpoints:   cfg.SPAPI.Endpoints(),
		HTTPClient:  httpClient,
		Credentials: credentials,
		Tokens:      tokens,
		Breaker:     spapi.DefaultBreakerConfig(),
		Logger:      logger,
	})

	// Services
	orch := service.NewOrchestrator(client, store, runs, service.OrchestratorConfig{
		ReportType:      cfg.Sync.ReportType,
		ReuseWindow:     cfg.Sync.ReuseWindow,
		PollAttempts:    cfg.Sync.PollAttempts,
		PollInterval:    cfg.Sync.PollInterval,
		DefaultCooldown: cfg.Sync.DefaultCooldown,
	}, logger)
	runner := service.NewTaskRunner(cfg.Sync.RefreshTimeout, logger)
	refreshService := service.NewRefreshService(orch, client, runner, store, runs, regions, logger)
	snapshotService := service.NewSnapshotService(client, client, store, logger)

	scheduler := service.NewScheduler(orch, runs, service.SchedulerConfig{
		Regions:          regions,
		Interval:         cfg.Sync.SweepInterval,
		InitialDelay:     cfg.Sync.InitialDelay,
		RegionDelay:      cfg.Sync.RegionDelay,
		HistoryRetention: cfg.History.Retention,
	}, logger)

	// HTTP
	r := router.New(router.Config{
		Handler:          handler.New(cfg.App.Name, cfg.App.Version, checks),
		InventoryHandler: handler.NewInventoryHandler(snapshotService, regions),
		RegionHandler:    handler.NewRegionHandler(refreshService),
		APIKeys:          cfg.App.APIKeys,
		Logger:           logger,
	})
	if len(cfg.App.APIKeys) == 0 {
		logger.Warn("API_KEYS is empty, authentication disabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	scheduler.Start()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		scheduler.Stop()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	scheduler.Stop()
	if err := runner.Shutdown(ctx); err != nil {
		logger.Warn("background refreshes cancelled", "error", err)
	}
	return nil
}

// openHistory returns the configured run-history repository, or nil when history is disabled.
func openHistory(cfg config.HistoryConfig, logger *slog.Logger) (repository.RunRepository, error) {
	switch cfg.Type {
	case "mongodb":
		repo, err := repository.NewMongoDBRunRepository(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "postgres":
		repo, err := repository.NewPostgresRunRepository(cfg.PostgresDSN(), logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "none":
		logger.Info("run history disabled")
		return nil, nil
	default:
		repo, err := repository.NewSQLiteRunRepository(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
}

func openMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
