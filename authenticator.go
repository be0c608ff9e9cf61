package keycloak

import (
	"context"
	"encoding/base64"
	"strings"
)

// Outcome classifies the result of authenticating one inbound request.
type Outcome int

const (
	// OutcomeAnonymous means no credential was presented (or the path is
	// exempt) and the request proceeds unauthenticated.
	OutcomeAnonymous Outcome = iota
	// OutcomeAuthenticated means a valid credential resolved to a local
	// user.
	OutcomeAuthenticated
	// OutcomeRejected means a credential was presented and is invalid.
	OutcomeRejected
)

// Result is the outcome of authenticating one request. For
// OutcomeAuthenticated, User, Token and RemoteUser are populated.
type Result struct {
	Outcome    Outcome
	User       *User
	Token      *Token
	RemoteUser *RemoteUser
	// Reason explains a rejection; not for display to end users.
	Reason string
}

// Authenticate is the per-request entry point. It takes the raw value of
// the Authorization header (empty if absent) and the request path, and
// classifies the request as authenticated, anonymous or rejected.
//
// Exempt paths and requests without a header never reach token
// construction. Bearer credentials are validated as access tokens; Basic
// credentials are exchanged for a token pair via the password grant. The
// inbound request is never mutated.
//
// An error return means the provider could not be consulted (or the store
// failed): a fault, to be surfaced as a 5xx-class response, never a 401.
func (c *Client) Authenticate(ctx context.Context, authorization, path string) (*Result, error) {
	if c.exemptPath(path) {
		c.metrics.AuthOutcome("exempt")
		return &Result{Outcome: OutcomeAnonymous, Reason: "exempt path"}, nil
	}
	if authorization == "" {
		c.metrics.AuthOutcome("anonymous")
		return &Result{Outcome: OutcomeAnonymous}, nil
	}

	scheme, credential, ok := strings.Cut(authorization, " ")
	if !ok || credential == "" {
		return c.reject("malformed authorization header"), nil
	}

	var token *Token
	var err error
	switch {
	case strings.EqualFold(scheme, c.cfg.TokenPrefix):
		token, err = c.TokenFromAccessToken(ctx, credential)
	case strings.EqualFold(scheme, "Basic"):
		token, err = c.tokenFromBasic(ctx, credential)
	default:
		return c.reject("unsupported authorization scheme"), nil
	}
	if err != nil {
		c.metrics.AuthOutcome("error")
		return nil, err
	}
	if token == nil {
		return c.reject("invalid credentials"), nil
	}

	user, err := c.Resolve(ctx, token)
	if err != nil {
		c.metrics.AuthOutcome("error")
		return nil, err
	}
	remote, err := token.RemoteUser(ctx)
	if err != nil {
		c.metrics.AuthOutcome("error")
		return nil, err
	}

	c.metrics.AuthOutcome("authenticated")
	return &Result{
		Outcome:    OutcomeAuthenticated,
		User:       user,
		Token:      token,
		RemoteUser: remote,
	}, nil
}

func (c *Client) reject(reason string) *Result {
	c.metrics.AuthOutcome("rejected")
	c.logger.Debug("request rejected", "reason", reason)
	return &Result{Outcome: OutcomeRejected, Reason: reason}
}

func (c *Client) tokenFromBasic(ctx context.Context, credential string) (*Token, error) {
	raw, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		return nil, nil
	}
	username, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, nil
	}
	return c.TokenFromCredentials(ctx, username, password)
}

// exemptPath matches the request path (leading slash stripped) against the
// configured EXEMPT_URIS patterns.
func (c *Client) exemptPath(path string) bool {
	path = strings.TrimPrefix(path, "/")
	for _, re := range c.exempt {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
