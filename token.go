package keycloak

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Token represents a credential pair issued by Keycloak. Validity and claims
// are not stored: they are derived on demand through the provider (or local
// decoder) and bounded by the shared claims cache, so a Token is cheap to
// construct per request.
//
// Derived accessors never fail just because the token is invalid; they
// return an inactive or empty result. Errors signal provider faults only.
type Token struct {
	c *Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

// TokenFromCredentials performs a password grant and wraps the issued pair.
// Rejected credentials and incomplete accounts are expected outcomes of an
// authentication flow and yield (nil, nil); provider faults propagate.
func (c *Client) TokenFromCredentials(ctx context.Context, username, password string) (*Token, error) {
	pair, err := c.provider.ExchangeCredentials(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrAccountIncomplete) {
			return nil, nil
		}
		return nil, err
	}
	return &Token{c: c, accessToken: pair.AccessToken, refreshToken: pair.RefreshToken}, nil
}

// TokenFromAccessToken wraps an access token presented by an inbound
// request and checks it immediately; an inactive token yields (nil, nil).
func (c *Client) TokenFromAccessToken(ctx context.Context, accessToken string) (*Token, error) {
	t := &Token{c: c, accessToken: accessToken}
	active, err := t.Active(ctx)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, nil
	}
	return t, nil
}

// TokenFromRefreshToken renews a session from a refresh token. A rejected
// or expired refresh token yields (nil, nil).
func (c *Client) TokenFromRefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	t := &Token{c: c, refreshToken: refreshToken}
	if err := t.Refresh(ctx); err != nil {
		if errors.Is(err, ErrTokenInactive) {
			return nil, nil
		}
		return nil, err
	}
	active, err := t.Active(ctx)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, nil
	}
	return t, nil
}

// AccessToken returns the current access token.
func (t *Token) AccessToken() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accessToken
}

// RefreshToken returns the current refresh token.
func (t *Token) RefreshToken() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshToken
}

// Refresh exchanges the refresh token for a fresh pair and replaces both
// tokens in place; the identity behind the Token is unchanged. After a
// failed refresh the token is no longer usable.
func (t *Token) Refresh(ctx context.Context) error {
	refresh := t.RefreshToken()
	if refresh == "" {
		return ErrTokenInactive
	}
	pair, err := t.c.provider.Refresh(ctx, refresh)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.accessToken = pair.AccessToken
	t.refreshToken = pair.RefreshToken
	t.mu.Unlock()
	return nil
}

// Claims returns the token payload: the introspection result or, in decode
// mode, the locally verified payload with a synthesised active flag. A
// token that fails decoding yields {"active": false}, not an error, so the
// two modes stay equivalent for downstream consumers.
func (t *Token) Claims(ctx context.Context) (Claims, error) {
	access := t.AccessToken()
	if access == "" {
		return Claims{}, nil
	}

	if t.c.cfg.DecodeToken {
		return t.c.fetchClaims(ctx, "decode:"+access, func(ctx context.Context) (Claims, error) {
			claims, err := t.c.decoder.Decode(ctx, access)
			if errors.Is(err, ErrTokenInactive) {
				return Claims{"active": false}, nil
			}
			if err != nil {
				return nil, err
			}
			return claims, nil
		})
	}

	return t.c.fetchClaims(ctx, "introspect:"+access, func(ctx context.Context) (Claims, error) {
		return t.c.provider.Introspect(ctx, access)
	})
}

// Active reports whether the access token is currently valid. A Token
// without an access token is never active.
func (t *Token) Active(ctx context.Context) (bool, error) {
	claims, err := t.Claims(ctx)
	if err != nil {
		return false, err
	}
	return claims.Active(), nil
}

// Subject returns the provider-issued subject id, or "" for an inactive
// token.
func (t *Token) Subject(ctx context.Context) (string, error) {
	claims, err := t.Claims(ctx)
	if err != nil {
		return "", err
	}
	return claims.Subject(), nil
}

// UserInfo returns the profile claims for the token's subject. In decode
// mode with USER_INFO_IN_TOKEN the profile comes from the token itself;
// otherwise the userinfo endpoint is called (through the cache).
func (t *Token) UserInfo(ctx context.Context) (UserInfo, error) {
	claims, err := t.Claims(ctx)
	if err != nil {
		return UserInfo{}, err
	}
	if !claims.Active() {
		return UserInfo{}, nil
	}
	if t.c.cfg.DecodeToken && t.c.cfg.UserInfoInToken {
		return UserInfoFromClaims(claims), nil
	}

	access := t.AccessToken()
	info, err := t.c.fetchClaims(ctx, "userinfo:"+access, func(ctx context.Context) (Claims, error) {
		return t.c.provider.UserInfo(ctx, access)
	})
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfoFromClaims(info), nil
}

// ClientRoles returns the roles granted for the configured client.
func (t *Token) ClientRoles(ctx context.Context) ([]string, error) {
	claims, err := t.Claims(ctx)
	if err != nil {
		return nil, err
	}
	return claims.ClientRoles(t.c.cfg.ClientID), nil
}

// RealmRoles returns the realm-wide roles.
func (t *Token) RealmRoles(ctx context.Context) ([]string, error) {
	claims, err := t.Claims(ctx)
	if err != nil {
		return nil, err
	}
	return claims.RealmRoles(), nil
}

// Scopes returns the granted scopes.
func (t *Token) Scopes(ctx context.Context) ([]string, error) {
	claims, err := t.Claims(ctx)
	if err != nil {
		return nil, err
	}
	return claims.Scopes(), nil
}

// Superuser reports whether the subject holds the configured client admin
// role or the configured realm admin role. Only meaningful for an active
// token; an inactive token is never a superuser.
func (t *Token) Superuser(ctx context.Context) (bool, error) {
	claims, err := t.Claims(ctx)
	if err != nil {
		return false, err
	}
	if slices.Contains(claims.ClientRoles(t.c.cfg.ClientID), t.c.cfg.ClientAdminRole) {
		return true, nil
	}
	return slices.Contains(claims.RealmRoles(), t.c.cfg.RealmAdminRole), nil
}

// RemoteUser assembles the raw claims snapshot attached to authenticated
// requests.
func (t *Token) RemoteUser(ctx context.Context) (*RemoteUser, error) {
	claims, err := t.Claims(ctx)
	if err != nil {
		return nil, err
	}
	info, err := t.UserInfo(ctx)
	if err != nil {
		return nil, err
	}
	return &RemoteUser{
		Name:          info.Name,
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
		Username:      info.PreferredUsername,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		ClientRoles:   claims.ClientRoles(t.c.cfg.ClientID),
		RealmRoles:    claims.RealmRoles(),
		Scopes:        claims.Scopes(),
	}, nil
}
