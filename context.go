package keycloak

import "context"

type ctxKey string

const (
	ctxKeyUser       ctxKey = "keycloak_user"
	ctxKeyToken      ctxKey = "keycloak_token"
	ctxKeyRemoteUser ctxKey = "keycloak_remote_user"
)

// WithUser stores the resolved local user in the context.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKeyUser, u)
}

// UserFromContext extracts the resolved local user from the context, or nil
// for anonymous requests.
func UserFromContext(ctx context.Context) *User {
	v, _ := ctx.Value(ctxKeyUser).(*User)
	return v
}

// WithToken stores the validated token in the context.
func WithToken(ctx context.Context, t *Token) context.Context {
	return context.WithValue(ctx, ctxKeyToken, t)
}

// TokenFromContext extracts the validated token from the context.
func TokenFromContext(ctx context.Context) *Token {
	v, _ := ctx.Value(ctxKeyToken).(*Token)
	return v
}

// WithRemoteUser stores the raw claims snapshot in the context.
func WithRemoteUser(ctx context.Context, ru *RemoteUser) context.Context {
	return context.WithValue(ctx, ctxKeyRemoteUser, ru)
}

// RemoteUserFromContext extracts the raw claims snapshot from the context.
func RemoteUserFromContext(ctx context.Context) *RemoteUser {
	v, _ := ctx.Value(ctxKeyRemoteUser).(*RemoteUser)
	return v
}
