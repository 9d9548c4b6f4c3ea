package spapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"fba-sync-api/internal/model"

	"github.com/sony/gobreaker"
)

// BreakerConfig controls the per-region circuit breakers.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig trips after five consecutive failures and probes again after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         5 * time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 5,
	}
}

// breakers hands out one gobreaker per region, created on first use.
type breakers struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	byKey  map[model.Region]*gobreaker.CircuitBreaker
	logger *slog.Logger
}

func newBreakers(cfg BreakerConfig, logger *slog.Logger) *breakers {
	if cfg.FailureThreshold == 0 {
		cfg = DefaultBreakerConfig()
	}
	return &breakers{cfg: cfg, byKey: make(map[model.Region]*gobreaker.CircuitBreaker), logger: logger}
}

func (b *breakers) get(region model.Region) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.byKey[region]; ok {
		return cb
	}

	threshold := b.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "spapi-" + string(region),
		MaxRequests: b.cfg.MaxRequests,
		Interval:    b.cfg.Interval,
		Timeout:     b.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	b.byKey[region] = cb
	return cb
}

// countsAsSuccess keeps client errors, rate limits included, from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode < http.StatusInternalServerError
	}
	return false
}

// execute runs fn through the region's breaker.
func (b *breakers) execute(region model.Region, fn func() error) error {
	_, err := b.get(region).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w for region %s", ErrCircuitOpen, region)
	}
	return err
}
