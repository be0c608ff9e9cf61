// Package keycloak bridges a Keycloak realm with a Go web service: it
// validates Keycloak-issued OAuth2/OIDC tokens, mirrors minimal user
// identity into a local store, and derives staff/superuser status from
// realm and client roles.
//
// The root package defines the value types, the collaborator interfaces and
// the Client entry point. Concrete collaborators are injected via Option
// functions:
//
//	prov := provider.New(cfg)
//	client, err := keycloak.NewClient(cfg,
//	    keycloak.WithProvider(prov),
//	    keycloak.WithStore(gormstore.New(db)),
//	)
package keycloak

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/urbanplatform/keycloak-go/cache"
	"github.com/urbanplatform/keycloak-go/metrics"
)

// Client is the entry point for token validation and identity resolution.
// It is safe for concurrent use; the claims cache it carries is shared
// across all requests served through it.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	provider Provider
	decoder  Decoder
	store    UserStore
	cache    ClaimsCache
	metrics  *metrics.Metrics
	exempt   []*regexp.Regexp

	sf singleflight.Group
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithProvider sets the identity-provider client.
func WithProvider(p Provider) Option {
	return func(c *Client) { c.provider = p }
}

// WithDecoder sets the local token decoder, required when
// Config.DecodeToken is enabled.
func WithDecoder(d Decoder) Option {
	return func(c *Client) { c.decoder = d }
}

// WithStore sets the local user store.
func WithStore(s UserStore) Option {
	return func(c *Client) { c.store = s }
}

// WithCache replaces the default in-process claims cache (e.g. with a
// Redis-backed one for multi-process deployments).
func WithCache(cc ClaimsCache) Option {
	return func(c *Client) { c.cache = cc }
}

// WithMetrics enables Prometheus metrics for authentication outcomes,
// cache effectiveness and provider calls.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a new client with the given configuration and options.
// A Provider is required; a Decoder is required in decode mode; a UserStore
// is required for identity resolution (Authenticate and Resolve fail
// without one, token validation still works).
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	for _, o := range opts {
		o(c)
	}

	if c.provider == nil {
		return nil, fmt.Errorf("keycloak: a Provider is required")
	}
	if cfg.DecodeToken && c.decoder == nil {
		return nil, fmt.Errorf("keycloak: DECODE_TOKEN is enabled but no Decoder is configured")
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.cache == nil {
		c.cache = cache.New(cfg.CacheTTL, cache.DefaultSize)
	}

	for _, expr := range cfg.ExemptURIs {
		// Anchored at the start, matching the historical re.match semantics.
		re, err := regexp.Compile("^(?:" + expr + ")")
		if err != nil {
			return nil, fmt.Errorf("keycloak: invalid EXEMPT_URIS pattern %q: %w", expr, err)
		}
		c.exempt = append(c.exempt, re)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.cfg }

// Provider returns the identity-provider client.
func (c *Client) Provider() Provider { return c.provider }

// Store returns the local user store, or nil if not configured.
func (c *Client) Store() UserStore { return c.store }

// fetchClaims routes a claims fetch through the shared cache, coalescing
// concurrent misses for the same key into a single provider call.
func (c *Client) fetchClaims(ctx context.Context, key string, fetch func(context.Context) (Claims, error)) (Claims, error) {
	kind := keyKind(key)
	if m, ok := c.cache.Get(ctx, key); ok {
		c.metrics.CacheHit(kind)
		return Claims(m), nil
	}
	c.metrics.CacheMiss(kind)

	v, err, _ := c.sf.Do(key, func() (any, error) {
		if m, ok := c.cache.Get(ctx, key); ok {
			return Claims(m), nil
		}
		claims, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Set(ctx, key, claims)
		return claims, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Claims), nil
}

func keyKind(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
