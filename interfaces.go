package keycloak

import "context"

// Provider issues the raw OAuth2/OIDC requests against Keycloak's well-known
// endpoints. Implementations: provider/ (HTTP), fake/ (testing). It holds no
// per-call state and is safe to share across requests.
type Provider interface {
	// ExchangeCredentials performs a password grant. It returns
	// ErrAuthFailed on rejected credentials and ErrAccountIncomplete when
	// the account has pending required actions; anything else is a
	// *ProviderError.
	ExchangeCredentials(ctx context.Context, username, password string) (*TokenPair, error)

	// ClientCredentials performs a client_credentials grant for this
	// confidential client's service account.
	ClientCredentials(ctx context.Context) (*TokenPair, error)

	// Refresh exchanges a refresh token for a fresh pair. A rejected or
	// expired refresh token yields ErrTokenInactive.
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)

	// Introspect returns the provider's introspection result verbatim,
	// including the "active" boolean.
	Introspect(ctx context.Context, token string) (Claims, error)

	// UserInfo calls the userinfo endpoint with the given access token.
	UserInfo(ctx context.Context, accessToken string) (Claims, error)

	// PublicKey retrieves the realm's signing key, PEM-formatted.
	PublicKey(ctx context.Context) (string, error)
}

// Decoder verifies an access token locally against the provider's published
// public keys. Implementations: jwks/ (JWKS discovery + RS256), fake/.
type Decoder interface {
	// Decode verifies signature, expiry and (optionally) audience, and
	// returns the token payload with a synthesised active flag. Invalid
	// tokens yield ErrTokenInactive; key-fetch failures a *ProviderError.
	Decode(ctx context.Context, accessToken string) (Claims, error)
}

// UserStore persists the local identity mirror, keyed by subject id with a
// secondary uniqueness constraint on username.
// Implementations: store/gormstore (Postgres), store/memstore (in-memory).
type UserStore interface {
	// GetBySubject returns the user with the given subject id, or
	// ErrUserNotFound.
	GetBySubject(ctx context.Context, subjectID string) (*User, error)

	// GetByUsername returns the user with the given username, or
	// ErrUserNotFound.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// Create inserts a new user. A duplicate subject id or username yields
	// ErrConflict.
	Create(ctx context.Context, u *User) error

	// Update persists changes to an existing user.
	Update(ctx context.Context, u *User) error

	// Delete removes the user with the given subject id.
	Delete(ctx context.Context, subjectID string) error

	// List returns all local users.
	List(ctx context.Context) ([]*User, error)
}

// ProfileCacher is the capability implemented by stores that keep profile
// fields (first name, last name, email) locally. The resolver refreshes
// those fields from claims on every authenticated request for such stores,
// and leaves minimal stores untouched.
type ProfileCacher interface {
	CachesProfile() bool
}

// ClaimsCache bounds the rate of provider calls per token value. Entries
// expire after a fixed TTL; stale entries are never served past expiry.
// Implementations: cache/ (in-process LRU, Redis).
//
// The cache is not a revocation mechanism: a revoked token may appear valid
// for up to one TTL window. That trade-off is accepted for reduced provider
// load.
type ClaimsCache interface {
	Get(ctx context.Context, key string) (map[string]any, bool)
	Set(ctx context.Context, key string, claims map[string]any)
}
