package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fba-sync-api/internal/model"

	"github.com/redis/go-redis/v9"
)

// RedisPlanningStore mirrors planning cache entries into Redis.
type RedisPlanningStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

// RedisStoreConfig holds configuration for the Redis planning store.
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisPlanningStore connects to Redis and verifies the connection.
func NewRedisPlanningStore(cfg RedisStoreConfig, logger *slog.Logger) (*RedisPlanningStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("redis planning store connected", "db", cfg.DB)
	return NewRedisPlanningStoreFromClient(client, cfg.KeyPrefix, logger), nil
}

// NewRedisPlanningStoreFromClient wraps an existing client. A trailing colon on
// keyPrefix is dropped.
func NewRedisPlanningStoreFromClient(client *redis.Client, keyPrefix string, logger *slog.Logger) *RedisPlanningStore {
	keyPrefix = strings.TrimSuffix(keyPrefix, ":")
	if keyPrefix == "" {
		keyPrefix = "fbasync:planning"
	}
	return &RedisPlanningStore{client: client, keyPrefix: keyPrefix, logger: logger}
}

func (s *RedisPlanningStore) key(region model.Region) string {
	return s.keyPrefix + ":" + string(region)
}

// Save writes the entry as JSON with the given expiry.
func (s *RedisPlanningStore) Save(ctx context.Context, region model.Region, entry *model.PlanningCacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode planning entry: %w", err)
	}
	if err := s.client.Set(ctx, s.key(region), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store planning entry: %w", err)
	}
	return nil
}

// Load reads the entry back.
func (s *RedisPlanningStore) Load(ctx context.Context, region model.Region) (*model.PlanningCacheEntry, error) {
	data, err := s.client.Get(ctx, s.key(region)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load planning entry: %w", err)
	}

	var entry model.PlanningCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt snapshot is as good as none.
		s.logger.Warn("dropping corrupt planning entry", "region", region, "error", err)
		s.client.Del(ctx, s.key(region))
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// Close closes the Redis client.
func (s *RedisPlanningStore) Close() error {
	return s.client.Close()
}

var _ PlanningStore = (*RedisPlanningStore)(nil)

// Ping checks the Redis connection.
func (s *RedisPlanningStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
