package spapi

import (
	"context"
	"fmt"
	"strings"

	"fba-sync-api/internal/model"
)

// StaticCredentials serves one LWA app with a refresh token per region.
type StaticCredentials struct {
	ClientID      string
	ClientSecret  string
	RefreshTokens map[string]string
}

// Credentials returns the region's credential set or ErrMissingCredentials.
func (s StaticCredentials) Credentials(_ context.Context, region model.Region) (model.Credentials, error) {
	token := ""
	for code, t := range s.RefreshTokens {
		if strings.EqualFold(code, string(region)) {
			token = strings.TrimSpace(t)
			break
		}
	}
	creds := model.Credentials{ClientID: s.ClientID, ClientSecret: s.ClientSecret, RefreshToken: token}
	if !creds.Complete() {
		return model.Credentials{}, fmt.Errorf("%w for region %s", ErrMissingCredentials, region)
	}
	return creds, nil
}

var _ CredentialProvider = StaticCredentials{}
