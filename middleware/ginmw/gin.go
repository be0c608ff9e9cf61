// Package ginmw provides Gin HTTP middleware and handlers on top of a
// *keycloak.Client: request authentication plus login and refresh token
// endpoints.
package ginmw

import (
	"net/http"

	"github.com/gin-gonic/gin"

	keycloak "github.com/urbanplatform/keycloak-go"
	"github.com/urbanplatform/keycloak-go/audit"
)

// Context keys for storing authentication data in gin.Context.
const (
	KeyUser       = "keycloak_user"
	KeyToken      = "keycloak_token"
	KeyRemoteUser = "keycloak_remote_user"
)

// unauthorizedMessage is intentionally generic: it never discloses whether
// the credential was malformed, expired or unknown.
const unauthorizedMessage = "Invalid credentials provided to perform this action."

// AuthOption configures Auth middleware behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	permissive bool
	trail      *audit.Trail
}

func (cfg *authConfig) record(c *gin.Context, outcome, subject, username, reason string) {
	if cfg.trail == nil {
		return
	}
	cfg.trail.Record(audit.Event{
		Action:   audit.ActionRequest,
		Outcome:  outcome,
		Subject:  subject,
		Username: username,
		Path:     c.Request.URL.Path,
		IP:       c.ClientIP(),
		Reason:   reason,
	})
}

// WithPermissive lets requests with invalid credentials proceed as
// anonymous instead of being rejected with 401. Exempt paths and requests
// without an Authorization header pass through in either mode.
func WithPermissive() AuthOption {
	return func(cfg *authConfig) { cfg.permissive = true }
}

// WithAudit records an audit event for every authenticated or rejected
// request.
func WithAudit(t *audit.Trail) AuthOption {
	return func(cfg *authConfig) { cfg.trail = t }
}

// Auth returns Gin middleware that authenticates each request through
// client.Authenticate. On success it stores the local user, the token and
// the claims snapshot both in the gin context and in the request context.
//
// Invalid credentials yield 401 (unless permissive). Provider faults yield
// 502: an unreachable identity provider is not the caller's fault.
func Auth(client *keycloak.Client, opts ...AuthOption) gin.HandlerFunc {
	cfg := &authConfig{}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		result, err := client.Authenticate(c.Request.Context(),
			c.GetHeader("Authorization"), c.Request.URL.Path)
		if err != nil {
			status := http.StatusInternalServerError
			if keycloak.IsProviderError(err) {
				status = http.StatusBadGateway
			}
			cfg.record(c, "error", "", "", err.Error())
			c.AbortWithStatusJSON(status, gin.H{"detail": "authentication service unavailable"})
			return
		}

		switch result.Outcome {
		case keycloak.OutcomeAuthenticated:
			cfg.record(c, "authenticated", result.User.ID, result.User.Username, "")
			c.Set(KeyUser, result.User)
			c.Set(KeyToken, result.Token)
			c.Set(KeyRemoteUser, result.RemoteUser)

			ctx := keycloak.WithUser(c.Request.Context(), result.User)
			ctx = keycloak.WithToken(ctx, result.Token)
			ctx = keycloak.WithRemoteUser(ctx, result.RemoteUser)
			c.Request = c.Request.WithContext(ctx)
			c.Next()

		case keycloak.OutcomeAnonymous:
			c.Next()

		default: // OutcomeRejected
			cfg.record(c, "rejected", "", "", result.Reason)
			if cfg.permissive {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": unauthorizedMessage})
		}
	}
}

// RequireSuperuser returns middleware that rejects requests whose resolved
// user is not a superuser. Requires Auth to run first.
func RequireSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		u := GetUser(c)
		if u == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": unauthorizedMessage})
			return
		}
		if !u.Superuser {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "superuser access required"})
			return
		}
		c.Next()
	}
}

// GetUser returns the resolved local user, or nil for anonymous requests.
func GetUser(c *gin.Context) *keycloak.User {
	if v, ok := c.Get(KeyUser); ok {
		if u, ok := v.(*keycloak.User); ok {
			return u
		}
	}
	return nil
}

// GetToken returns the validated token, or nil for anonymous requests.
func GetToken(c *gin.Context) *keycloak.Token {
	if v, ok := c.Get(KeyToken); ok {
		if t, ok := v.(*keycloak.Token); ok {
			return t
		}
	}
	return nil
}

// GetRemoteUser returns the claims snapshot, or nil for anonymous requests.
func GetRemoteUser(c *gin.Context) *keycloak.RemoteUser {
	if v, ok := c.Get(KeyRemoteUser); ok {
		if ru, ok := v.(*keycloak.RemoteUser); ok {
			return ru
		}
	}
	return nil
}
