package spapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fba-sync-api/internal/model"
)

// DefaultAuthURL is the Login with Amazon token endpoint.
const DefaultAuthURL = "https://api.amazon.com/auth/o2/token"

// Authenticator exchanges a refresh token for a short-lived access token.
type Authenticator struct {
	httpClient *http.Client
	authURL    string
	now        func() time.Time
}

// NewAuthenticator creates an LWA authenticator. An empty authURL uses DefaultAuthURL.
func NewAuthenticator(httpClient *http.Client, authURL string) *Authenticator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	return &Authenticator{httpClient: httpClient, authURL: authURL, now: time.Now}
}

// Authenticate performs the refresh_token grant.
func (a *Authenticator) Authenticate(ctx context.Context, creds model.Credentials) (model.AccessToken, error) {
	if !creds.Complete() {
		return model.AccessToken{}, ErrMissingCredentials
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", creds.RefreshToken)
	data.Set("client_id", creds.ClientID)
	data.Set("client_secret", creds.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.authURL, strings.NewReader(data.Encode()))
	if err != nil {
		return model.AccessToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return model.AccessToken{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return model.AccessToken{}, &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), a.now()),
			Body:       string(body),
			Path:       "auth",
		}
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return model.AccessToken{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return model.AccessToken{}, fmt.Errorf("token response has no access_token")
	}

	return model.AccessToken{
		Token:     tokenResp.AccessToken,
		ExpiresAt: a.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}, nil
}
