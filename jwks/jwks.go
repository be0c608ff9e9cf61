// Package jwks implements the keycloak.Decoder interface: local token
// verification against the realm's published JWKS (RFC 7517), without a
// provider round-trip per validation.
//
// The JWKS location and the permitted signing algorithms are taken from the
// realm's OpenID configuration document. Keys are cached and refreshed on a
// kid miss or after the refresh interval.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	keycloak "github.com/urbanplatform/keycloak-go"
)

// Decoder verifies access tokens with the realm's RSA public keys.
type Decoder struct {
	cfg             keycloak.Config
	httpClient      *http.Client
	refreshInterval time.Duration

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey // kid → public key
	algs      []string
	lastFetch time.Time
}

// compile-time check
var _ keycloak.Decoder = (*Decoder)(nil)

// Option configures the Decoder.
type Option func(*Decoder)

// WithHTTPClient sets a custom HTTP client for discovery and JWKS fetches.
func WithHTTPClient(hc *http.Client) Option {
	return func(d *Decoder) { d.httpClient = hc }
}

// WithRefreshInterval sets how often cached keys are refreshed.
// Default: 1 hour.
func WithRefreshInterval(interval time.Duration) Option {
	return func(d *Decoder) { d.refreshInterval = interval }
}

// New creates a decoder for the given realm configuration.
func New(cfg keycloak.Config, opts ...Option) *Decoder {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = keycloak.DefaultTimeout
	}
	d := &Decoder{
		cfg:             cfg,
		httpClient:      &http.Client{Timeout: timeout},
		refreshInterval: 1 * time.Hour,
		keys:            make(map[string]*rsa.PublicKey),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Decode verifies the token's signature, expiry and (when configured)
// audience, and returns its payload with a synthesised active flag.
// Verification failures yield keycloak.ErrTokenInactive, an expected
// outcome rather than a fault; only key-fetch failures surface as provider
// errors.
func (d *Decoder) Decode(ctx context.Context, accessToken string) (keycloak.Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if d.cfg.VerifyAudience {
		opts = append(opts, jwt.WithAudience(d.cfg.Audience))
	}
	if algs := d.cachedAlgs(); len(algs) > 0 {
		opts = append(opts, jwt.WithValidMethods(algs))
	}
	parser := jwt.NewParser(opts...)

	token, err := parser.Parse(accessToken, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		return d.key(ctx, kid)
	})
	if err != nil {
		var pe *keycloak.ProviderError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, fmt.Errorf("jwks: %w", keycloak.ErrTokenInactive)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("jwks: %w", keycloak.ErrTokenInactive)
	}

	claims := make(keycloak.Claims, len(mapClaims)+1)
	for k, v := range mapClaims {
		claims[k] = v
	}
	// A verified signature and unexpired token is definitively active.
	claims["active"] = true
	return claims, nil
}

func (d *Decoder) cachedAlgs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.algs
}

// key returns the RSA public key for the given kid, refreshing the key set
// on a miss or after the refresh interval.
func (d *Decoder) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	d.mu.RLock()
	key, found := d.keys[kid]
	stale := time.Since(d.lastFetch) > d.refreshInterval
	d.mu.RUnlock()

	if found && !stale {
		return key, nil
	}

	if err := d.refresh(ctx); err != nil {
		if found {
			return key, nil // serve the stale key rather than fail the request
		}
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if key, ok := d.keys[kid]; ok {
		return key, nil
	}
	if kid == "" {
		for _, k := range d.keys {
			return k, nil
		}
	}
	return nil, fmt.Errorf("jwks: no key for kid %q: %w", kid, keycloak.ErrTokenInactive)
}

// refresh fetches the OpenID configuration and the key set it points at.
func (d *Decoder) refresh(ctx context.Context) error {
	var oidc struct {
		JWKSURI string   `json:"jwks_uri"`
		Algs    []string `json:"id_token_signing_alg_values_supported"`
	}
	wellKnown := d.cfg.RealmURL() + "/.well-known/openid-configuration"
	if err := d.getJSON(ctx, "openid_configuration", wellKnown, &oidc); err != nil {
		return err
	}
	if oidc.JWKSURI == "" {
		return &keycloak.ProviderError{Op: "openid_configuration", Body: "missing jwks_uri"}
	}

	var jwksResp struct {
		Keys []jwkKey `json:"keys"`
	}
	if err := d.getJSON(ctx, "jwks", oidc.JWKSURI, &jwksResp); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwksResp.Keys))
	for _, k := range jwksResp.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			continue // skip malformed keys
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return &keycloak.ProviderError{Op: "jwks", Body: "no RSA signing keys in key set"}
	}

	d.mu.Lock()
	d.keys = keys
	d.algs = oidc.Algs
	d.lastFetch = time.Now()
	d.mu.Unlock()
	return nil
}

func (d *Decoder) getJSON(ctx context.Context, op, rawurl string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return &keycloak.ProviderError{Op: op, Err: err}
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return &keycloak.ProviderError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &keycloak.ProviderError{Op: op, Status: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &keycloak.ProviderError{Op: op, Err: err}
	}
	return nil
}

type jwkKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (k *jwkKey) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
