package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"fba-sync-api/internal/model"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	App      AppConfig
	SPAPI    SPAPIConfig
	Sync     SyncConfig
	Cache    CacheConfig
	Database DatabaseConfig
	History  HistoryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string   `envconfig:"APP_NAME" default:"fba-sync-api"`
	Environment string   `envconfig:"APP_ENV" default:"development"`
	Version     string   `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	APIKeys     []string `envconfig:"API_KEYS" default:""` // empty disables auth
}

// SPAPIConfig holds upstream API settings.
type SPAPIConfig struct {
	ClientID         string            `envconfig:"SPAPI_CLIENT_ID" default:""`
	ClientSecret     string            `envconfig:"SPAPI_CLIENT_SECRET" default:""`
	RefreshTokens    map[string]string `envconfig:"SPAPI_REFRESH_TOKENS" default:""` // US:token,UK:token
	AuthURL          string            `envconfig:"SPAPI_AUTH_URL" default:"https://api.amazon.com/auth/o2/token"`
	NAEndpoint       string            `envconfig:"SPAPI_NA_ENDPOINT" default:""`
	EUEndpoint       string            `envconfig:"SPAPI_EU_ENDPOINT" default:""`
	FEEndpoint       string            `envconfig:"SPAPI_FE_ENDPOINT" default:""`
	RequestTimeout   time.Duration     `envconfig:"SPAPI_REQUEST_TIMEOUT" default:"30s"`
	CredentialSource string            `envconfig:"SPAPI_CREDENTIAL_SOURCE" default:"env"` // env or mysql
}

// Endpoints returns the non-empty host overrides keyed by endpoint group.
func (s *SPAPIConfig) Endpoints() map[model.EndpointGroup]string {
	out := make(map[model.EndpointGroup]string)
	for group, host := range map[model.EndpointGroup]string{
		model.EndpointNA: s.NAEndpoint,
		model.EndpointEU: s.EUEndpoint,
		model.EndpointFE: s.FEEndpoint,
	} {
		if host = strings.TrimRight(strings.TrimSpace(host), "/"); host != "" {
			out[group] = host
		}
	}
	return out
}

// SyncConfig holds refresh scheduling and report job settings.
type SyncConfig struct {
	Regions         []string      `envconfig:"SYNC_REGIONS" default:"US"`
	SweepInterval   time.Duration `envconfig:"SYNC_SWEEP_INTERVAL" default:"15m"`
	InitialDelay    time.Duration `envconfig:"SYNC_INITIAL_DELAY" default:"30s"`
	RegionDelay     time.Duration `envconfig:"SYNC_REGION_DELAY" default:"15s"`
	PlanningTTL     time.Duration `envconfig:"SYNC_PLANNING_TTL" default:"6h"`
	ShipmentTTL     time.Duration `envconfig:"SYNC_SHIPMENT_TTL" default:"5m"`
	TokenMargin     time.Duration `envconfig:"SYNC_TOKEN_MARGIN" default:"60s"`
	ReuseWindow     time.Duration `envconfig:"SYNC_REUSE_WINDOW" default:"24h"`
	PollAttempts    int           `envconfig:"SYNC_POLL_ATTEMPTS" default:"12"`
	PollInterval    time.Duration `envconfig:"SYNC_POLL_INTERVAL" default:"10s"`
	DefaultCooldown time.Duration `envconfig:"SYNC_DEFAULT_COOLDOWN" default:"15m"`
	ReportType      string        `envconfig:"SYNC_REPORT_TYPE" default:"GET_FBA_INVENTORY_PLANNING_DATA"`
	RefreshTimeout  time.Duration `envconfig:"SYNC_REFRESH_TIMEOUT" default:"10m"`
}

// TrackedRegions resolves the configured region codes.
func (s *SyncConfig) TrackedRegions() ([]model.Region, error) {
	regions, err := model.ParseRegions(s.Regions)
	if err != nil {
		return nil, fmt.Errorf("SYNC_REGIONS: %w", err)
	}
	return regions, nil
}

// CacheConfig holds the planning snapshot store settings.
type CacheConfig struct {
	SnapshotStore string `envconfig:"SNAPSHOT_STORE" default:"memory"` // memory or redis
	KeyPrefix     string `envconfig:"SNAPSHOT_KEY_PREFIX" default:"fba:planning:"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// DatabaseConfig holds MySQL connection settings (for spapi_credentials).
type DatabaseConfig struct {
	Host     string        `envconfig:"DB_HOST" default:"localhost"`
	Port     int           `envconfig:"DB_PORT" default:"3306"`
	Name     string        `envconfig:"DB_NAME" default:"fba_sync"`
	User     string        `envconfig:"DB_USER" default:"root"`
	Password string        `envconfig:"DB_PASS" default:""`
	CacheTTL time.Duration `envconfig:"DB_CREDENTIAL_CACHE_TTL" default:"1m"`
}

// HistoryConfig holds refresh-run history database settings.
type HistoryConfig struct {
	Type      string        `envconfig:"HISTORY_DB_TYPE" default:"sqlite"` // sqlite, postgres, or mongodb
	Path      string        `envconfig:"HISTORY_DB_PATH" default:"./data/history.db"`
	Retention time.Duration `envconfig:"HISTORY_RETENTION" default:"720h"`
	// PostgreSQL settings
	Host     string `envconfig:"HISTORY_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"HISTORY_DB_PORT" default:"5432"`
	Name     string `envconfig:"HISTORY_DB_NAME" default:"fba_sync"`
	User     string `envconfig:"HISTORY_DB_USER" default:"postgres"`
	Password string `envconfig:"HISTORY_DB_PASS" default:""`
	SSLMode  string `envconfig:"HISTORY_DB_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI        string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"fba_sync"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"refresh_runs"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (h *HistoryConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		h.User, h.Password, h.Host, h.Port, h.Name, h.SSLMode)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the MySQL data source name.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.History.Type {
	case "sqlite", "postgres", "mongodb", "none":
	default:
		return fmt.Errorf("HISTORY_DB_TYPE %q: want sqlite, postgres, mongodb or none", c.History.Type)
	}
	switch c.SPAPI.CredentialSource {
	case "env", "mysql":
	default:
		return fmt.Errorf("SPAPI_CREDENTIAL_SOURCE %q: want env or mysql", c.SPAPI.CredentialSource)
	}
	switch c.Cache.SnapshotStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("SNAPSHOT_STORE %q: want memory or redis", c.Cache.SnapshotStore)
	}
	if c.History.Type == "mongodb" && c.History.MongoURI == "" {
		return fmt.Errorf("MONGODB_URI is required when HISTORY_DB_TYPE=mongodb")
	}
	if c.Sync.PollAttempts <= 0 {
		return fmt.Errorf("SYNC_POLL_ATTEMPTS must be positive")
	}
	if _, err := c.Sync.TrackedRegions(); err != nil {
		return err
	}
	return nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
