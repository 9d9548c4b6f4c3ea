package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fba-sync-api/internal/cache"
	"fba-sync-api/internal/model"
	"fba-sync-api/internal/spapi"
)

// MySQLCredentialRepository reads per-region SP-API credentials from MySQL.
// Rows are cached briefly so every upstream call does not cost a query.
type MySQLCredentialRepository struct {
	db    *sql.DB
	cache *cache.TTLCache[model.Region, model.Credentials]
}

// NewMySQLCredentialRepository creates a new MySQL credential repository.
func NewMySQLCredentialRepository(db *sql.DB, cacheTTL time.Duration) *MySQLCredentialRepository {
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &MySQLCredentialRepository{
		db:    db,
		cache: cache.NewTTLCache[model.Region, model.Credentials](cacheTTL, nil),
	}
}

// Credentials returns the active credential set for region.
func (r *MySQLCredentialRepository) Credentials(ctx context.Context, region model.Region) (model.Credentials, error) {
	if creds, ok := r.cache.Get(region); ok {
		return creds, nil
	}

	query := `
		SELECT client_id, client_secret, refresh_token
		FROM spapi_credentials
		WHERE region = ? AND is_active = 1
		ORDER BY updated_at DESC
		LIMIT 1`

	var creds model.Credentials
	err := r.db.QueryRowContext(ctx, query, string(region)).Scan(&creds.ClientID, &creds.ClientSecret, &creds.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Credentials{}, fmt.Errorf("%w for region %s", spapi.ErrMissingCredentials, region)
		}
		return model.Credentials{}, fmt.Errorf("failed to load credentials: %w", err)
	}
	if !creds.Complete() {
		return model.Credentials{}, fmt.Errorf("%w for region %s", spapi.ErrMissingCredentials, region)
	}

	r.cache.Set(region, creds)
	return creds, nil
}

// Ensure MySQLCredentialRepository implements CredentialRepository
var (
	_ CredentialRepository     = (*MySQLCredentialRepository)(nil)
	_ spapi.CredentialProvider = (*MySQLCredentialRepository)(nil)
)
