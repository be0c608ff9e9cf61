// Package memstore provides an in-memory keycloak.UserStore, mainly for
// tests and single-process tools. It enforces the same uniqueness rules as
// the database-backed store: one record per subject id, one per username.
package memstore

import (
	"context"
	"sync"

	keycloak "github.com/urbanplatform/keycloak-go"
)

// Store is a mutex-guarded in-memory user store.
type Store struct {
	mu           sync.RWMutex
	bySubject    map[string]keycloak.User
	byUsername   map[string]string // username → subject id
	cacheProfile bool
}

// compile-time checks
var (
	_ keycloak.UserStore     = (*Store)(nil)
	_ keycloak.ProfileCacher = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithoutProfileCache makes the store behave as the minimal user variant:
// profile fields are not kept locally, so the resolver never overwrites
// them.
func WithoutProfileCache() Option {
	return func(s *Store) { s.cacheProfile = false }
}

// New creates an empty store. By default it behaves as the extended user
// variant and caches profile fields.
func New(opts ...Option) *Store {
	s := &Store{
		bySubject:    make(map[string]keycloak.User),
		byUsername:   make(map[string]string),
		cacheProfile: true,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CachesProfile reports whether profile fields are kept locally.
func (s *Store) CachesProfile() bool { return s.cacheProfile }

// GetBySubject returns the user with the given subject id.
func (s *Store) GetBySubject(_ context.Context, subjectID string) (*keycloak.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.bySubject[subjectID]
	if !ok {
		return nil, keycloak.ErrUserNotFound
	}
	return &u, nil
}

// GetByUsername returns the user with the given username.
func (s *Store) GetByUsername(_ context.Context, username string) (*keycloak.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subject, ok := s.byUsername[username]
	if !ok {
		return nil, keycloak.ErrUserNotFound
	}
	u := s.bySubject[subject]
	return &u, nil
}

// Create inserts a new user, enforcing subject-id and username uniqueness.
func (s *Store) Create(_ context.Context, u *keycloak.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySubject[u.ID]; exists {
		return keycloak.ErrConflict
	}
	if _, exists := s.byUsername[u.Username]; exists {
		return keycloak.ErrConflict
	}
	s.bySubject[u.ID] = *u
	s.byUsername[u.Username] = u.ID
	return nil
}

// Update persists changes to an existing user.
func (s *Store) Update(_ context.Context, u *keycloak.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.bySubject[u.ID]
	if !ok {
		return keycloak.ErrUserNotFound
	}
	if u.Username != old.Username {
		if _, taken := s.byUsername[u.Username]; taken {
			return keycloak.ErrConflict
		}
		delete(s.byUsername, old.Username)
		s.byUsername[u.Username] = u.ID
	}
	s.bySubject[u.ID] = *u
	return nil
}

// Delete removes the user with the given subject id.
func (s *Store) Delete(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.bySubject[subjectID]
	if !ok {
		return keycloak.ErrUserNotFound
	}
	delete(s.byUsername, u.Username)
	delete(s.bySubject, subjectID)
	return nil
}

// List returns all local users.
func (s *Store) List(_ context.Context) ([]*keycloak.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*keycloak.User, 0, len(s.bySubject))
	for _, u := range s.bySubject {
		u := u
		out = append(out, &u)
	}
	return out, nil
}
