// Package crm integrates with the Bigin-style CRM REST API.
//
// This file implements the OAuth access-token provider. The CRM issues
// short-lived access tokens obtained from a long-lived refresh credential;
// the provider caches the current token and refreshes it when missing or
// close to expiry. The mutex is held across the refresh call so concurrent
// callers share a single in-flight refresh.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultTokenURL is the CRM OAuth token endpoint.
const DefaultTokenURL = "https://accounts.zoho.com/oauth/v2/token"

// Token refresh tuning.
const (
	// tokenExpirySkew forces a refresh when the token expires within this window.
	tokenExpirySkew = 2 * time.Minute
	// defaultTokenLifetime is assumed when the token response omits expires_in.
	defaultTokenLifetime = time.Hour
	// tokenRequestTimeout bounds each refresh call.
	tokenRequestTimeout = 30 * time.Second
)

// TokenOpts holds configuration options for the token provider.
type TokenOpts struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string
	HTTPClient   *http.Client
}

// TokenOption defines a configuration option for the token provider.
type TokenOption func(*TokenOpts)

// WithTokenURL overrides the OAuth token endpoint (used in tests).
func WithTokenURL(u string) TokenOption {
	return func(o *TokenOpts) { o.TokenURL = u }
}

// WithClientCredentials sets the OAuth client id and secret.
func WithClientCredentials(id, secret string) TokenOption {
	return func(o *TokenOpts) { o.ClientID = id; o.ClientSecret = secret }
}

// WithRefreshToken sets the long-lived refresh credential.
func WithRefreshToken(t string) TokenOption {
	return func(o *TokenOpts) { o.RefreshToken = t }
}

// WithTokenHTTPClient injects a custom HTTP client.
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(o *TokenOpts) { o.HTTPClient = c }
}

// TokenProvider caches and refreshes the CRM access token.
type TokenProvider struct {
	mu        sync.Mutex
	cfg       TokenOpts
	token     string
	expiresAt time.Time
}

// NewTokenProvider creates a token provider.
func NewTokenProvider(opts ...TokenOption) *TokenProvider {
	var cfg TokenOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: tokenRequestTimeout}
	}
	slog.Debug("TokenProvider created", "tokenURL", cfg.TokenURL, "clientID_set", cfg.ClientID != "", "refreshToken_set", cfg.RefreshToken != "")
	return &TokenProvider{cfg: cfg}
}

// Token returns a valid access token, refreshing it if missing or
// expiring within the skew window.
func (tp *TokenProvider) Token(ctx context.Context) (string, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.token != "" && time.Now().Before(tp.expiresAt.Add(-tokenExpirySkew)) {
		return tp.token, nil
	}
	return tp.refreshLocked(ctx)
}

// Invalidate discards the cached token so the next Token call refreshes.
// Called after the CRM rejects a request with 401.
func (tp *TokenProvider) Invalidate() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.token = ""
	slog.Debug("TokenProvider token invalidated")
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// refreshLocked exchanges the refresh credential for a new access token.
// Callers must hold the mutex.
func (tp *TokenProvider) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {tp.cfg.ClientID},
		"client_secret": {tp.cfg.ClientSecret},
		"refresh_token": {tp.cfg.RefreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tp.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tp.cfg.HTTPClient.Do(req)
	if err != nil {
		slog.Error("TokenProvider refresh request failed", "error", err)
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode >= 400 {
		slog.Error("TokenProvider refresh rejected", "status", resp.StatusCode)
		return "", fmt.Errorf("token refresh rejected with status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		slog.Error("TokenProvider refresh returned no access token", "apiError", tr.Error)
		return "", fmt.Errorf("token refresh returned no access token (%s)", tr.Error)
	}

	lifetime := defaultTokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}
	tp.token = tr.AccessToken
	tp.expiresAt = time.Now().Add(lifetime)
	slog.Info("TokenProvider access token refreshed", "expiresAt", tp.expiresAt)
	return tp.token, nil
}
