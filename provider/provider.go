// Package provider implements the keycloak.Provider interface over
// Keycloak's OAuth2/OIDC HTTP endpoints.
//
// Every call is a single bounded network attempt: there is no internal
// retry loop, and failures are classified at the boundary. Rejected
// credentials and inactive tokens become expected outcomes, everything
// else a *keycloak.ProviderError.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	keycloak "github.com/urbanplatform/keycloak-go"
	"github.com/urbanplatform/keycloak-go/metrics"
)

// Client issues the raw OAuth2 requests against the configured realm. It
// holds no mutable per-call state and is safe to share across requests.
type Client struct {
	cfg        keycloak.Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// publicHost is presented as the Host header when the provider is
	// reached through INTERNAL_URL, so issued artifacts carry the public
	// host.
	publicHost string
}

// compile-time check
var _ keycloak.Provider = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client for provider requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics enables per-operation request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a provider client for the given configuration.
func New(cfg keycloak.Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = keycloak.DefaultTimeout
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	if cfg.InternalURL != "" {
		if u, err := url.Parse(cfg.ServerURL); err == nil {
			c.publicHost = u.Host
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) tokenURL() string {
	return c.cfg.RealmURL() + "/protocol/openid-connect/token"
}

// ExchangeCredentials performs a password grant for the given user.
func (c *Client) ExchangeCredentials(ctx context.Context, username, password string) (*keycloak.TokenPair, error) {
	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecretKey},
		"username":      {username},
		"password":      {password},
		"scope":         {"openid"},
	}

	status, body, err := c.postForm(ctx, "token", c.tokenURL(), form)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusOK:
		return parseTokenPair("token", body)
	case status == http.StatusUnauthorized:
		return nil, fmt.Errorf("provider: %w", keycloak.ErrAuthFailed)
	case status == http.StatusBadRequest:
		if strings.Contains(errorDescription(body), "not fully set up") {
			return nil, fmt.Errorf("provider: %w", keycloak.ErrAccountIncomplete)
		}
		return nil, fmt.Errorf("provider: %w", keycloak.ErrAuthFailed)
	default:
		return nil, providerStatusError("token", status, body)
	}
}

// ClientCredentials obtains a token for this client's service account.
func (c *Client) ClientCredentials(ctx context.Context) (*keycloak.TokenPair, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecretKey},
	}

	status, body, err := c.postForm(ctx, "client_credentials", c.tokenURL(), form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, providerStatusError("client_credentials", status, body)
	}
	return parseTokenPair("client_credentials", body)
}

// Refresh exchanges a refresh token for a fresh pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*keycloak.TokenPair, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecretKey},
		"refresh_token": {refreshToken},
	}

	status, body, err := c.postForm(ctx, "refresh", c.tokenURL(), form)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusOK:
		return parseTokenPair("refresh", body)
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return nil, fmt.Errorf("provider: refresh: %w", keycloak.ErrTokenInactive)
	default:
		return nil, providerStatusError("refresh", status, body)
	}
}

// Introspect returns the provider's introspection result verbatim.
func (c *Client) Introspect(ctx context.Context, token string) (keycloak.Claims, error) {
	form := url.Values{
		"token":         {token},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecretKey},
	}

	status, body, err := c.postForm(ctx, "introspect", c.tokenURL()+"/introspect", form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, providerStatusError("introspect", status, body)
	}

	var claims keycloak.Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, &keycloak.ProviderError{Op: "introspect", Status: status, Body: truncate(body), Err: err}
	}
	return claims, nil
}

// UserInfo calls the userinfo endpoint with the given access token.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (keycloak.Claims, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.cfg.RealmURL()+"/protocol/openid-connect/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	status, body, err := c.do("userinfo", req)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusOK:
		var claims keycloak.Claims
		if err := json.Unmarshal(body, &claims); err != nil {
			return nil, &keycloak.ProviderError{Op: "userinfo", Status: status, Body: truncate(body), Err: err}
		}
		return claims, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, fmt.Errorf("provider: userinfo: %w", keycloak.ErrTokenInactive)
	default:
		return nil, providerStatusError("userinfo", status, body)
	}
}

// PublicKey retrieves the realm's signing key and wraps it in PEM armor.
func (c *Client) PublicKey(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.cfg.RealmURL(), nil)
	if err != nil {
		return "", err
	}

	status, body, err := c.do("public_key", req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", providerStatusError("public_key", status, body)
	}

	var realm struct {
		PublicKey string `json:"public_key"`
	}
	if err := json.Unmarshal(body, &realm); err != nil {
		return "", &keycloak.ProviderError{Op: "public_key", Status: status, Body: truncate(body), Err: err}
	}
	if realm.PublicKey == "" {
		return "", &keycloak.ProviderError{Op: "public_key", Status: status, Body: "empty public_key in realm document"}
	}
	return "-----BEGIN PUBLIC KEY-----\n" + realm.PublicKey + "\n-----END PUBLIC KEY-----", nil
}

// --- request plumbing ---

func (c *Client) newRequest(ctx context.Context, method, rawurl string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawurl, body)
	if err != nil {
		return nil, &keycloak.ProviderError{Op: method, Err: err}
	}
	if c.publicHost != "" {
		req.Host = c.publicHost
	}
	return req, nil
}

func (c *Client) postForm(ctx context.Context, op, rawurl string, form url.Values) (int, []byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, rawurl, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(op, req)
}

func (c *Client) do(op string, req *http.Request) (int, []byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ProviderCall(op, err, time.Since(start))
	if err != nil {
		c.logger.Warn("provider request failed", "op", op, "error", err)
		return 0, nil, &keycloak.ProviderError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &keycloak.ProviderError{Op: op, Err: err}
	}
	return resp.StatusCode, body, nil
}

func parseTokenPair(op string, body []byte) (*keycloak.TokenPair, error) {
	var pair keycloak.TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, &keycloak.ProviderError{Op: op, Status: http.StatusOK, Body: truncate(body), Err: err}
	}
	if pair.AccessToken == "" {
		return nil, &keycloak.ProviderError{Op: op, Status: http.StatusOK, Body: "empty access_token in response"}
	}
	return &pair, nil
}

func providerStatusError(op string, status int, body []byte) error {
	return &keycloak.ProviderError{Op: op, Status: status, Body: truncate(body)}
}

func errorDescription(body []byte) string {
	var resp struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &resp)
	return resp.Description
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
