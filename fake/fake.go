// Package fake provides an in-memory keycloak.Provider and keycloak.Decoder
// for testing, with atomic per-operation call counters so tests can assert
// how often the provider was actually consulted.
package fake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	keycloak "github.com/urbanplatform/keycloak-go"
)

// Provider is a configurable in-memory identity provider. The zero value
// knows no credentials and no tokens; populate it with Options or the
// Add* methods.
type Provider struct {
	mu          sync.RWMutex
	credentials map[string]keycloak.TokenPair // "user:pass" → pair
	incomplete  map[string]bool               // usernames with pending required actions
	tokens      map[string]keycloak.Claims    // access token → introspection claims
	userinfo    map[string]keycloak.Claims    // access token → userinfo claims
	refresh     map[string]keycloak.TokenPair // refresh token → next pair
	service     *keycloak.TokenPair
	publicKey   string
	fail        error

	// Call counters, one per operation.
	ExchangeCalls          atomic.Int64
	ClientCredentialsCalls atomic.Int64
	RefreshCalls           atomic.Int64
	IntrospectCalls        atomic.Int64
	UserInfoCalls          atomic.Int64
	PublicKeyCalls         atomic.Int64
	DecodeCalls            atomic.Int64
}

// compile-time checks
var (
	_ keycloak.Provider = (*Provider)(nil)
	_ keycloak.Decoder  = (*Provider)(nil)
)

// Option configures the fake provider.
type Option func(*Provider)

// WithCredentials registers a username/password pair and the token pair
// issued for it.
func WithCredentials(username, password string, pair keycloak.TokenPair) Option {
	return func(p *Provider) { p.credentials[username+":"+password] = pair }
}

// WithIncompleteAccount marks a username as having pending required
// actions: the password grant fails with ErrAccountIncomplete.
func WithIncompleteAccount(username string) Option {
	return func(p *Provider) { p.incomplete[username] = true }
}

// WithToken registers the claims returned when the given access token is
// introspected or decoded.
func WithToken(accessToken string, claims keycloak.Claims) Option {
	return func(p *Provider) { p.tokens[accessToken] = claims }
}

// WithUserInfo registers the userinfo payload for an access token. Without
// it, UserInfo falls back to the token's registered claims.
func WithUserInfo(accessToken string, claims keycloak.Claims) Option {
	return func(p *Provider) { p.userinfo[accessToken] = claims }
}

// WithRefresh registers the pair issued when the given refresh token is
// exchanged.
func WithRefresh(refreshToken string, pair keycloak.TokenPair) Option {
	return func(p *Provider) { p.refresh[refreshToken] = pair }
}

// WithServiceAccount enables the client credentials grant. Without it, the
// grant fails the way Keycloak rejects a client that has no service
// account.
func WithServiceAccount(pair keycloak.TokenPair) Option {
	return func(p *Provider) { p.service = &pair }
}

// WithPublicKey sets the PEM returned by PublicKey.
func WithPublicKey(pem string) Option {
	return func(p *Provider) { p.publicKey = pem }
}

// New creates a fake provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		credentials: make(map[string]keycloak.TokenPair),
		incomplete:  make(map[string]bool),
		tokens:      make(map[string]keycloak.Claims),
		userinfo:    make(map[string]keycloak.Claims),
		refresh:     make(map[string]keycloak.TokenPair),
		publicKey:   "-----BEGIN PUBLIC KEY-----\nfake\n-----END PUBLIC KEY-----",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FailWith makes every subsequent operation return err, simulating a
// provider outage. Pass nil to recover.
func (p *Provider) FailWith(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

// SetToken registers or replaces claims for an access token at runtime.
func (p *Provider) SetToken(accessToken string, claims keycloak.Claims) {
	p.mu.Lock()
	p.tokens[accessToken] = claims
	p.mu.Unlock()
}

// RevokeToken removes an access token, so introspection reports it
// inactive from now on.
func (p *Provider) RevokeToken(accessToken string) {
	p.mu.Lock()
	delete(p.tokens, accessToken)
	p.mu.Unlock()
}

func (p *Provider) failure() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fail
}

// ExchangeCredentials implements keycloak.Provider.
func (p *Provider) ExchangeCredentials(_ context.Context, username, password string) (*keycloak.TokenPair, error) {
	p.ExchangeCalls.Add(1)
	if err := p.failure(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.incomplete[username] {
		return nil, fmt.Errorf("fake: %w", keycloak.ErrAccountIncomplete)
	}
	pair, ok := p.credentials[username+":"+password]
	if !ok {
		return nil, fmt.Errorf("fake: %w", keycloak.ErrAuthFailed)
	}
	return &pair, nil
}

// ClientCredentials implements keycloak.Provider.
func (p *Provider) ClientCredentials(_ context.Context) (*keycloak.TokenPair, error) {
	p.ClientCredentialsCalls.Add(1)
	if err := p.failure(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.service == nil {
		return nil, &keycloak.ProviderError{
			Op:     "client_credentials",
			Status: 400,
			Body:   `{"error":"unauthorized_client","error_description":"Client not enabled to retrieve service account"}`,
		}
	}
	pair := *p.service
	return &pair, nil
}

// Refresh implements keycloak.Provider.
func (p *Provider) Refresh(_ context.Context, refreshToken string) (*keycloak.TokenPair, error) {
	p.RefreshCalls.Add(1)
	if err := p.failure(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	pair, ok := p.refresh[refreshToken]
	if !ok {
		return nil, fmt.Errorf("fake: refresh: %w", keycloak.ErrTokenInactive)
	}
	return &pair, nil
}

// Introspect implements keycloak.Provider. Unknown tokens introspect as
// inactive, the way Keycloak answers 200 with {"active": false}.
func (p *Provider) Introspect(_ context.Context, token string) (keycloak.Claims, error) {
	p.IntrospectCalls.Add(1)
	if err := p.failure(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	claims, ok := p.tokens[token]
	if !ok {
		return keycloak.Claims{"active": false}, nil
	}
	return cloneClaims(claims), nil
}

// UserInfo implements keycloak.Provider.
func (p *Provider) UserInfo(_ context.Context, accessToken string) (keycloak.Claims, error) {
	p.UserInfoCalls.Add(1)
	if err := p.failure(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if claims, ok := p.userinfo[accessToken]; ok {
		return cloneClaims(claims), nil
	}
	if claims, ok := p.tokens[accessToken]; ok {
		return cloneClaims(claims), nil
	}
	return nil, fmt.Errorf("fake: userinfo: %w", keycloak.ErrTokenInactive)
}

// PublicKey implements keycloak.Provider.
func (p *Provider) PublicKey(_ context.Context) (string, error) {
	p.PublicKeyCalls.Add(1)
	if err := p.failure(); err != nil {
		return "", err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.publicKey, nil
}

// Decode implements keycloak.Decoder: registered tokens decode to their
// claims with an active flag, everything else is invalid.
func (p *Provider) Decode(_ context.Context, accessToken string) (keycloak.Claims, error) {
	p.DecodeCalls.Add(1)
	if err := p.failure(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	claims, ok := p.tokens[accessToken]
	if !ok {
		return nil, fmt.Errorf("fake: decode: %w", keycloak.ErrTokenInactive)
	}
	out := cloneClaims(claims)
	out["active"] = true
	return out, nil
}

func cloneClaims(c keycloak.Claims) keycloak.Claims {
	out := make(keycloak.Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
