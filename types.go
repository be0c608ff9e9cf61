package keycloak

import (
	"strings"
	"time"
)

// Claims is the decoded or introspected payload of an access token, kept as
// a raw mapping so that the two acquisition modes (local decode and remote
// introspection) stay interchangeable for downstream consumers.
type Claims map[string]any

// Active reports whether the claims describe an active token. An absent
// "active" field counts as inactive (fail closed). Locally decoded tokens
// carry a synthesised active flag, since a successful signature and expiry
// check is definitive.
func (c Claims) Active() bool {
	v, ok := c["active"].(bool)
	return ok && v
}

// Subject returns the provider-issued subject id ("sub" claim).
func (c Claims) Subject() string {
	return c.str("sub")
}

// ClientRoles returns the roles granted for the given client id, from
// resource_access.{client}.roles.
func (c Claims) ClientRoles(clientID string) []string {
	access, ok := c["resource_access"].(map[string]any)
	if !ok {
		return nil
	}
	client, ok := access[clientID].(map[string]any)
	if !ok {
		return nil
	}
	return stringSlice(client["roles"])
}

// RealmRoles returns the realm-wide roles, from realm_access.roles.
func (c Claims) RealmRoles() []string {
	realm, ok := c["realm_access"].(map[string]any)
	if !ok {
		return nil
	}
	return stringSlice(realm["roles"])
}

// Scopes splits the space-delimited "scope" claim.
func (c Claims) Scopes() []string {
	scope := c.str("scope")
	if scope == "" {
		return nil
	}
	return strings.Split(scope, " ")
}

func (c Claims) str(key string) string {
	v, _ := c[key].(string)
	return v
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// UserInfo is the profile subset consumed from the userinfo endpoint or, in
// decode mode, from the token itself.
type UserInfo struct {
	Subject           string
	Name              string
	GivenName         string
	FamilyName        string
	PreferredUsername string
	Email             string
	EmailVerified     bool
}

// UserInfoFromClaims extracts the profile fields from a claims mapping.
func UserInfoFromClaims(c Claims) UserInfo {
	verified, _ := c["email_verified"].(bool)
	return UserInfo{
		Subject:           c.str("sub"),
		Name:              c.str("name"),
		GivenName:         c.str("given_name"),
		FamilyName:        c.str("family_name"),
		PreferredUsername: c.str("preferred_username"),
		Email:             c.str("email"),
		EmailVerified:     verified,
	}
}

// TokenPair is the provider's response to a token grant: an access token
// plus the refresh token that renews it.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
}

// RemoteUser is the raw claims snapshot attached to an authenticated request
// for consumers that want provider facts without re-deriving them.
type RemoteUser struct {
	Name          string   `json:"name"`
	GivenName     string   `json:"given_name"`
	FamilyName    string   `json:"family_name"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	ClientRoles   []string `json:"client_roles"`
	RealmRoles    []string `json:"realm_roles"`
	Scopes        []string `json:"client_scope"`
}

// User is the locally persisted identity mirror. ID is the Keycloak subject
// id; stores with profile caching additionally keep the name and email
// fields refreshed from claims on each authenticated request.
type User struct {
	ID         string
	Username   string
	FirstName  string
	LastName   string
	Email      string
	Staff      bool
	Superuser  bool
	Active     bool
	DateJoined time.Time
}
