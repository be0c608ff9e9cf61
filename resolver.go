package keycloak

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Resolve maps a validated token to the local user record, creating it on
// first sight of a new subject id. Stores that cache profile fields
// (ProfileCacher) get those fields refreshed from claims on every call;
// minimal stores are left untouched. Resolving the same subject twice never
// creates two records.
//
// A uniqueness race between two first-time logins surfaces as ErrConflict;
// it is not retried here.
func (c *Client) Resolve(ctx context.Context, t *Token) (*User, error) {
	if c.store == nil {
		return nil, fmt.Errorf("keycloak: no UserStore configured")
	}

	subject, err := t.Subject(ctx)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		return nil, ErrTokenInactive
	}

	user, err := c.store.GetBySubject(ctx, subject)
	switch {
	case err == nil:
		if pc, ok := c.store.(ProfileCacher); ok && pc.CachesProfile() {
			info, err := t.UserInfo(ctx)
			if err != nil {
				return nil, err
			}
			user.FirstName = info.GivenName
			user.LastName = info.FamilyName
			user.Email = info.Email
			if err := c.store.Update(ctx, user); err != nil {
				return nil, err
			}
		}
		return user, nil

	case errors.Is(err, ErrUserNotFound):
		return c.createFromToken(ctx, t, subject)

	default:
		return nil, err
	}
}

// ResolveCredentials authenticates a username/password pair and resolves
// the local user, re-evaluating the staff/superuser flags on each login so
// that role changes in Keycloak take effect immediately. Invalid
// credentials yield (nil, nil, nil).
func (c *Client) ResolveCredentials(ctx context.Context, username, password string) (*User, *Token, error) {
	t, err := c.TokenFromCredentials(ctx, username, password)
	if err != nil {
		return nil, nil, err
	}
	if t == nil {
		return nil, nil, nil
	}

	user, err := c.Resolve(ctx, t)
	if err != nil {
		return nil, nil, err
	}

	super, err := t.Superuser(ctx)
	if err != nil {
		return nil, nil, err
	}
	if user.Staff != super || user.Superuser != super {
		user.Staff = super
		user.Superuser = super
		if err := c.store.Update(ctx, user); err != nil {
			return nil, nil, err
		}
	}
	return user, t, nil
}

func (c *Client) createFromToken(ctx context.Context, t *Token, subject string) (*User, error) {
	info, err := t.UserInfo(ctx)
	if err != nil {
		return nil, err
	}
	super, err := t.Superuser(ctx)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:         subject,
		Username:   info.PreferredUsername,
		FirstName:  info.GivenName,
		LastName:   info.FamilyName,
		Email:      info.Email,
		Staff:      super,
		Superuser:  super,
		Active:     true,
		DateJoined: time.Now().UTC(),
	}
	if err := c.store.Create(ctx, user); err != nil {
		return nil, err
	}
	c.logger.Info("created local user from token",
		"subject", subject, "username", user.Username, "superuser", super)
	return user, nil
}
