package keycloak

import (
	"errors"
	"fmt"
)

// Expected authentication outcomes. These are values, not faults: the Token
// constructors translate them into a nil Token so that callers branch on the
// result instead of handling exceptions.
var (
	// ErrAuthFailed signals that Keycloak rejected the presented credentials.
	ErrAuthFailed = errors.New("keycloak: credentials rejected")

	// ErrAccountIncomplete signals that the account exists but has pending
	// required actions (e.g. email verification) and cannot log in yet.
	ErrAccountIncomplete = errors.New("keycloak: account not fully set up")

	// ErrTokenInactive signals that a token failed decoding or was reported
	// inactive by introspection.
	ErrTokenInactive = errors.New("keycloak: token invalid or expired")
)

// Service-account configuration errors, raised by the admin client on first
// use (or eagerly via Check).
var (
	// ErrServiceAccountNotEnabled is returned when the client is not
	// configured for the service-account (client credentials) flow.
	ErrServiceAccountNotEnabled = errors.New(
		"keycloak: 'Service account roles' not enabled for this client")

	// ErrMissingServiceAccountRole is returned when the service account
	// lacks the 'manage-users' role required for the admin API.
	ErrMissingServiceAccountRole = errors.New(
		"keycloak: service account is missing the 'manage-users' role")
)

// Local store errors.
var (
	// ErrUserNotFound is returned by a UserStore when no record matches.
	ErrUserNotFound = errors.New("keycloak: user not found")

	// ErrConflict is returned by a UserStore on a uniqueness violation
	// (duplicate subject id or username). Callers decide whether to retry.
	ErrConflict = errors.New("keycloak: conflicting user record")
)

// MissingSettingError reports a required configuration key that was not set.
type MissingSettingError struct {
	Setting string
}

func (e *MissingSettingError) Error() string {
	return fmt.Sprintf("keycloak: required setting %s is not defined", e.Setting)
}

// ProviderError reports a failed call to the identity provider: a network
// failure, a malformed response or a provider-side 5xx. It is distinct from
// an invalid token; callers must not conflate the two. Middleware maps it
// to a 5xx-class response, never a 401.
type ProviderError struct {
	// Op is the provider operation that failed (e.g. "introspect").
	Op string
	// Status is the HTTP status returned by the provider, 0 for transport
	// failures.
	Status int
	// Body holds the (truncated) provider response body, if any.
	Body string
	// Err is the underlying transport error, if any.
	Err error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("keycloak: provider %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("keycloak: provider %s returned status %d: %s", e.Op, e.Status, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err is a provider fault as opposed to an
// expected authentication outcome.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
