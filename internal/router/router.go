package router

import (
	"log/slog"

	"fba-sync-api/internal/handler"
	"fba-sync-api/internal/metrics"
	"fba-sync-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler          *handler.Handler
	InventoryHandler *handler.InventoryHandler
	RegionHandler    *handler.RegionHandler
	APIKeys          []string
	Logger           *slog.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.NewRecovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLogging(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID", "Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	r.Handle("/metrics", metrics.Handler())
	if cfg.Handler != nil {
		r.Get("/api/v1/health", cfg.Handler.Health)
		r.Get("/api/v1/ready", cfg.Handler.Ready)
	}

	// AUTHENTICATED routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAPIKeyAuth(cfg.APIKeys))

		if cfg.Handler != nil {
			r.Get("/api/status", cfg.Handler.Status)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.InventoryHandler != nil {
				r.Get("/inventory", cfg.InventoryHandler.GetInventory)
				r.Get("/inventory/{region}", cfg.InventoryHandler.GetRegionInventory)
			}

			if cfg.RegionHandler != nil {
				r.Route("/regions", func(r chi.Router) {
					r.Get("/status", cfg.RegionHandler.GetStatus)
					r.Post("/{region}/refresh", cfg.RegionHandler.Refresh)
					r.Get("/{region}/runs", cfg.RegionHandler.GetRuns)
				})
			}
		})
	})

	return r
}
