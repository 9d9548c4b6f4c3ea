package model

import "time"

// Credentials are the LWA app credentials plus the seller refresh token for a region.
type Credentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"`
	RefreshToken string `json:"-"`
}

// Complete reports whether every field needed for a token exchange is set.
func (c Credentials) Complete() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// AccessToken is a bearer token returned by the token exchange.
type AccessToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
