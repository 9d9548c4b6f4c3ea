// Package spapi is a region-routed client for the selling partner API.
package spapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fba-sync-api/internal/metrics"
	"fba-sync-api/internal/model"
)

// Default regional API hosts.
var DefaultEndpoints = map[model.EndpointGroup]string{
	model.EndpointNA: "https://sellingpartnerapi-na.amazon.com",
	model.EndpointEU: "https://sellingpartnerapi-eu.amazon.com",
	model.EndpointFE: "https://sellingpartnerapi-fe.amazon.com",
}

// CredentialProvider resolves the credential set for a region.
type CredentialProvider interface {
	Credentials(ctx context.Context, region model.Region) (model.Credentials, error)
}

// TokenSource returns a bearer token for a credential set.
type TokenSource interface {
	AccessToken(ctx context.Context, creds model.Credentials) (string, error)
}

// Upstream is the capability the sync services consume.
type Upstream interface {
	Get(ctx context.Context, region model.Region, path string, params url.Values, out any) error
	Post(ctx context.Context, region model.Region, path string, body any, out any) error
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// ClientConfig holds the dependencies of Client.
type ClientConfig struct {
	Endpoints   map[model.EndpointGroup]string
	HTTPClient  *http.Client
	Credentials CredentialProvider
	Tokens      TokenSource
	Breaker     BreakerConfig
	Logger      *slog.Logger
}

// Client signs and routes upstream requests by region.
type Client struct {
	endpoints   map[model.EndpointGroup]string
	httpClient  *http.Client
	credentials CredentialProvider
	tokens      TokenSource
	breakers    *breakers
	logger      *slog.Logger
	now         func() time.Time
}

// NewClient creates a Client. Missing endpoint overrides fall back to DefaultEndpoints.
func NewClient(cfg ClientConfig) *Client {
	endpoints := make(map[model.EndpointGroup]string, len(DefaultEndpoints))
	for group, host := range DefaultEndpoints {
		endpoints[group] = host
	}
	for group, host := range cfg.Endpoints {
		if host != "" {
			endpoints[group] = strings.TrimRight(host, "/")
		}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "spapi")

	return &Client{
		endpoints:   endpoints,
		httpClient:  cfg.HTTPClient,
		credentials: cfg.Credentials,
		tokens:      cfg.Tokens,
		breakers:    newBreakers(cfg.Breaker, logger),
		logger:      logger,
		now:         time.Now,
	}
}

// Validate checks that region is known and has a complete credential set.
func (c *Client) Validate(ctx context.Context, region model.Region) error {
	info, err := model.LookupRegion(string(region))
	if err != nil {
		return err
	}
	_, err = c.credentials.Credentials(ctx, info.Code)
	return err
}

// Get issues a GET and decodes the JSON response into out (which may be nil).
func (c *Client) Get(ctx context.Context, region model.Region, path string, params url.Values, out any) error {
	return c.call(ctx, region, http.MethodGet, path, params, nil, out)
}

// Post sends body as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, region model.Region, path string, body any, out any) error {
	return c.call(ctx, region, http.MethodPost, path, nil, body, out)
}

// Download fetches a pre-signed document URL. No auth header is sent.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("", "document", "error").Inc()
		return nil, fmt.Errorf("document download failed: %w", err)
	}
	defer resp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues("", "document", strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body), Path: "document"}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

func (c *Client) call(ctx context.Context, region model.Region, method, path string, params url.Values, body any, out any) error {
	info, err := model.LookupRegion(string(region))
	if err != nil {
		return err
	}
	creds, err := c.credentials.Credentials(ctx, info.Code)
	if err != nil {
		return err
	}
	token, err := c.tokens.AccessToken(ctx, creds)
	if err != nil {
		return fmt.Errorf("failed to obtain access token for %s: %w", info.Code, err)
	}

	target := c.endpoints[info.Endpoint] + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	err = c.breakers.execute(info.Code, func() error {
		return c.exchange(ctx, method, target, path, token, payload, out)
	})
	metrics.UpstreamRequests.WithLabelValues(string(info.Code), apiLabel(path), statusLabel(err)).Inc()
	if err != nil {
		c.logger.Debug("upstream call failed", "region", info.Code, "method", method, "path", path, "error", err)
	}
	return err
}

func (c *Client) exchange(ctx context.Context, method, target, path, token string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("x-amz-access-token", token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			Body:       string(data),
			Path:       path,
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// apiLabel keeps metric cardinality bounded by dropping ids from the path.
func apiLabel(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "fba" {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	}
	if code := StatusCode(err); code != 0 {
		return strconv.Itoa(code)
	}
	return "error"
}

var _ Upstream = (*Client)(nil)
