package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fba-sync-api/internal/cache"
	"fba-sync-api/internal/model"
)

// DefaultTokenMargin is how long before expiry a cached token stops being handed out.
const DefaultTokenMargin = 60 * time.Second

// ErrTokenExpired is returned when the exchange hands back a token that has already expired.
var ErrTokenExpired = errors.New("access token already expired")

// Authenticator performs the refresh-token exchange.
type Authenticator interface {
	Authenticate(ctx context.Context, creds model.Credentials) (model.AccessToken, error)
}

// TokenService caches access tokens per credential pair.
// Two callers racing on the same expired token may both exchange; the later write wins.
type TokenService struct {
	auth   Authenticator
	tokens *cache.TTLCache[cache.TokenKey, model.AccessToken]
	margin time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewTokenService creates a token service backed by the store's token cache.
func NewTokenService(auth Authenticator, store *cache.Store, margin time.Duration, logger *slog.Logger) *TokenService {
	if margin <= 0 {
		margin = DefaultTokenMargin
	}
	return &TokenService{
		auth:   auth,
		tokens: store.Tokens,
		margin: margin,
		now:    store.Now,
		logger: logger.With("component", "token"),
	}
}

// AccessToken returns a cached token or exchanges the refresh token for a new one.
func (s *TokenService) AccessToken(ctx context.Context, creds model.Credentials) (string, error) {
	key := cache.TokenKey{ClientID: creds.ClientID, RefreshToken: creds.RefreshToken}
	if tok, ok := s.tokens.Get(key); ok {
		return tok.Token, nil
	}

	tok, err := s.auth.Authenticate(ctx, creds)
	if err != nil {
		return "", err
	}

	remaining := tok.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return "", ErrTokenExpired
	}
	// The entry disappears margin before the real expiry. A token that lives
	// less than the margin is still valid upstream, so it is used for this call
	// and exchanged again on the next one.
	if ttl := remaining - s.margin; ttl > 0 {
		s.tokens.SetWithTTL(key, tok, ttl)
	} else {
		s.logger.Warn("access token expires inside refresh margin, not caching",
			"client_id", creds.ClientID, "remaining", remaining, "margin", s.margin)
	}
	s.logger.Debug("access token refreshed", "client_id", creds.ClientID, "expires_at", tok.ExpiresAt)
	return tok.Token, nil
}
