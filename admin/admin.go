// Package admin is a client for the Keycloak Admin REST API, authenticated
// through the client's service account (client credentials grant).
//
// The service-account token is reused across calls and reissued once a
// fraction of its lifetime has elapsed. Misconfiguration is reported with
// dedicated errors: keycloak.ErrServiceAccountNotEnabled when the client
// cannot use the client credentials flow at all, and
// keycloak.ErrMissingServiceAccountRole when the service account lacks the
// manage-users role.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	keycloak "github.com/urbanplatform/keycloak-go"
)

// DefaultTokenReuseFactor is the fraction of the service-account token's
// lifetime after which a new token is requested.
const DefaultTokenReuseFactor = 0.9

// User is a user representation from the Admin API.
type User struct {
	ID            string `json:"id,omitempty"`
	Username      string `json:"username"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	Email         string `json:"email,omitempty"`
	Enabled       bool   `json:"enabled"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
}

// Role is a role representation from the Admin API.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client calls the Admin API for the configured realm. It is safe for
// concurrent use.
type Client struct {
	cfg         keycloak.Config
	provider    keycloak.Provider
	httpClient  *http.Client
	logger      *slog.Logger
	reuseFactor float64

	sf singleflight.Group

	mu           sync.Mutex
	accessToken  string
	tokenExpires time.Time
	internalID   string // resolved internal UUID of the configured client
	profiles     map[string]keycloak.UserInfo
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client for admin requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTokenReuseFactor overrides the fraction of the token lifetime after
// which a fresh token is requested.
func WithTokenReuseFactor(f float64) Option {
	return func(c *Client) { c.reuseFactor = f }
}

// New creates an admin client on top of a provider. The provider supplies
// the client credentials grant; admin resource calls go through the client's
// own HTTP client.
func New(cfg keycloak.Config, provider keycloak.Provider, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = keycloak.DefaultTimeout
	}
	c := &Client{
		cfg:         cfg,
		provider:    provider,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      slog.Default(),
		reuseFactor: DefaultTokenReuseFactor,
		profiles:    make(map[string]keycloak.UserInfo),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Check verifies eagerly that the service account is usable: the client
// credentials flow works and the account may list users. Calling it is
// optional, the same checks run lazily on first use.
func (c *Client) Check(ctx context.Context) error {
	if _, err := c.token(ctx); err != nil {
		return err
	}
	_, err := c.UsersCount(ctx)
	return err
}

// Users lists users in the realm. Pagination follows the Admin API
// convention: first is the offset, max caps the page size (0 for the
// server default).
func (c *Client) Users(ctx context.Context, first, max int) ([]User, error) {
	q := url.Values{}
	if first > 0 {
		q.Set("first", fmt.Sprint(first))
	}
	if max > 0 {
		q.Set("max", fmt.Sprint(max))
	}
	path := "/users"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var users []User
	if err := c.call(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// AllUsers pages through the realm until every user has been listed.
func (c *Client) AllUsers(ctx context.Context) ([]User, error) {
	const pageSize = 100
	var all []User
	for first := 0; ; first += pageSize {
		page, err := c.Users(ctx, first, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// User returns a single user by id.
func (c *Client) User(ctx context.Context, id string) (*User, error) {
	var u User
	if err := c.call(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser creates a user and returns its assigned id.
func (c *Client) CreateUser(ctx context.Context, u *User) (string, error) {
	location, err := c.callLocation(ctx, http.MethodPost, "/users", u)
	if err != nil {
		return "", err
	}
	// The new resource id is the last path segment of the Location header.
	if i := strings.LastIndexByte(location, '/'); i >= 0 {
		return location[i+1:], nil
	}
	return location, nil
}

// UpdateUser replaces the stored representation of the user with the given
// id.
func (c *Client) UpdateUser(ctx context.Context, id string, u *User) error {
	return c.call(ctx, http.MethodPut, "/users/"+url.PathEscape(id), u, nil)
}

// DeleteUser removes the user with the given id.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/users/"+url.PathEscape(id), nil, nil)
}

// UsersCount returns the number of users in the realm.
func (c *Client) UsersCount(ctx context.Context) (int, error) {
	var count int
	if err := c.call(ctx, http.MethodGet, "/users/count", nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Profile returns the profile fields of the user with the given subject id,
// fetched once from the Admin API and cached on this client. Intended for
// stores that do not keep profile fields locally.
func (c *Client) Profile(ctx context.Context, subjectID string) (keycloak.UserInfo, error) {
	c.mu.Lock()
	cached, ok := c.profiles[subjectID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	u, err := c.User(ctx, subjectID)
	if err != nil {
		return keycloak.UserInfo{}, err
	}
	info := keycloak.UserInfo{
		Subject:           u.ID,
		GivenName:         u.FirstName,
		FamilyName:        u.LastName,
		PreferredUsername: u.Username,
		Email:             u.Email,
		EmailVerified:     u.EmailVerified,
	}
	c.mu.Lock()
	c.profiles[subjectID] = info
	c.mu.Unlock()
	return info, nil
}

// UserClientRoles returns the roles of this client mapped to the given user.
func (c *Client) UserClientRoles(ctx context.Context, userID string) ([]Role, error) {
	clientID, err := c.clientInternalID(ctx)
	if err != nil {
		return nil, err
	}
	path := "/users/" + url.PathEscape(userID) + "/role-mappings/clients/" + url.PathEscape(clientID)
	var roles []Role
	if err := c.call(ctx, http.MethodGet, path, nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// clientInternalID resolves and caches the internal UUID Keycloak assigned
// to the configured client id.
func (c *Client) clientInternalID(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.internalID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var clients []struct {
		ID       string `json:"id"`
		ClientID string `json:"clientId"`
	}
	path := "/clients?clientId=" + url.QueryEscape(c.cfg.ClientID)
	if err := c.call(ctx, http.MethodGet, path, nil, &clients); err != nil {
		return "", err
	}
	for _, cl := range clients {
		if cl.ClientID == c.cfg.ClientID {
			c.mu.Lock()
			c.internalID = cl.ID
			c.mu.Unlock()
			return cl.ID, nil
		}
	}
	return "", &keycloak.ProviderError{Op: "clients", Body: "client " + c.cfg.ClientID + " not found in realm"}
}

// --- service-account token handling ---

// token returns a valid service-account access token, requesting a new one
// once the reuse window of the cached token has elapsed. Concurrent
// refreshes collapse into a single grant request.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expires := c.accessToken, c.tokenExpires
	c.mu.Unlock()
	if token != "" && time.Now().Before(expires) {
		return token, nil
	}

	v, err, _ := c.sf.Do("token", func() (any, error) {
		c.mu.Lock()
		token, expires := c.accessToken, c.tokenExpires
		c.mu.Unlock()
		if token != "" && time.Now().Before(expires) {
			return token, nil
		}

		pair, err := c.provider.ClientCredentials(ctx)
		if err != nil {
			return nil, classifyGrantError(err)
		}
		lifetime := time.Duration(float64(pair.ExpiresIn)*c.reuseFactor) * time.Second
		c.mu.Lock()
		c.accessToken = pair.AccessToken
		c.tokenExpires = time.Now().Add(lifetime)
		c.mu.Unlock()
		c.logger.Debug("service account token issued", "reuse_window", lifetime)
		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// classifyGrantError maps a rejected client credentials grant onto the
// service-account configuration error, leaving provider faults untouched.
func classifyGrantError(err error) error {
	var pe *keycloak.ProviderError
	if errors.As(err, &pe) && (pe.Status == http.StatusBadRequest || pe.Status == http.StatusUnauthorized) {
		return fmt.Errorf("admin: %w", keycloak.ErrServiceAccountNotEnabled)
	}
	return err
}

// --- request plumbing ---

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	status, body, err := c.doAuthed(ctx, method, path, in)
	if err != nil {
		return err
	}
	if err := c.checkStatus(method, path, status, body); err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &keycloak.ProviderError{Op: "admin " + path, Status: status, Body: truncate(body), Err: err}
		}
	}
	return nil
}

// callLocation is call for creation requests: it returns the Location
// header of the response instead of decoding a body.
func (c *Client) callLocation(ctx context.Context, method, path string, in any) (string, error) {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &keycloak.ProviderError{Op: "admin " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if err := c.checkStatus(method, path, resp.StatusCode, body); err != nil {
		return "", err
	}
	return resp.Header.Get("Location"), nil
}

func (c *Client) doAuthed(ctx context.Context, method, path string, in any) (int, []byte, error) {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &keycloak.ProviderError{Op: "admin " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &keycloak.ProviderError{Op: "admin " + path, Err: err}
	}
	return resp.StatusCode, body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("admin: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.AdminRealmURL()+path, body)
	if err != nil {
		return nil, &keycloak.ProviderError{Op: "admin " + path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) checkStatus(method, path string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusForbidden:
		// Grant succeeded but the account may not touch users: the
		// manage-users role is missing.
		return fmt.Errorf("admin: %s %s: %w", method, path, keycloak.ErrMissingServiceAccountRole)
	case status == http.StatusNotFound:
		return fmt.Errorf("admin: %s %s: %w", method, path, keycloak.ErrUserNotFound)
	case status == http.StatusConflict:
		return fmt.Errorf("admin: %s %s: %w", method, path, keycloak.ErrConflict)
	default:
		return &keycloak.ProviderError{Op: "admin " + path, Status: status, Body: truncate(body)}
	}
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
