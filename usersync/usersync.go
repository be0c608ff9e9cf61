// Package usersync reconciles the local user mirror against the realm's
// user directory: users present remotely but missing locally are created,
// local users that disappeared from the realm are removed. Local superusers
// are never removed, so a bootstrap account survives a misconfigured realm.
package usersync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	keycloak "github.com/urbanplatform/keycloak-go"
	"github.com/urbanplatform/keycloak-go/admin"
)

// Report summarises one reconciliation run.
type Report struct {
	Created int
	Removed int
	Skipped int // remote entries with malformed ids
}

// Syncer runs the reconciliation.
type Syncer struct {
	admin  *admin.Client
	store  keycloak.UserStore
	logger *slog.Logger
}

// Option configures the Syncer.
type Option func(*Syncer)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// New creates a Syncer over an admin client and a user store.
func New(ac *admin.Client, store keycloak.UserStore, opts ...Option) *Syncer {
	s := &Syncer{admin: ac, store: store, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run performs one full reconciliation pass. It is not transactional: a
// partial failure leaves already-applied changes in place and returns the
// error alongside the progress made so far.
func (s *Syncer) Run(ctx context.Context) (Report, error) {
	var report Report

	remote, err := s.admin.AllUsers(ctx)
	if err != nil {
		return report, fmt.Errorf("usersync: list remote users: %w", err)
	}
	local, err := s.store.List(ctx)
	if err != nil {
		return report, fmt.Errorf("usersync: list local users: %w", err)
	}

	remoteByID := make(map[string]admin.User, len(remote))
	for _, ru := range remote {
		if _, err := uuid.Parse(ru.ID); err != nil {
			s.logger.Warn("skipping remote user with malformed id", "id", ru.ID, "username", ru.Username)
			report.Skipped++
			continue
		}
		remoteByID[ru.ID] = ru
	}

	localByID := make(map[string]*keycloak.User, len(local))
	for _, lu := range local {
		localByID[lu.ID] = lu
	}

	for id, ru := range remoteByID {
		if _, exists := localByID[id]; exists {
			continue
		}
		u := &keycloak.User{
			ID:         id,
			Username:   ru.Username,
			FirstName:  ru.FirstName,
			LastName:   ru.LastName,
			Email:      ru.Email,
			Active:     ru.Enabled,
			DateJoined: time.Now().UTC(),
		}
		if err := s.store.Create(ctx, u); err != nil {
			return report, fmt.Errorf("usersync: create %s: %w", ru.Username, err)
		}
		s.logger.Info("created local user", "username", ru.Username, "subject", id)
		report.Created++
	}

	for id, lu := range localByID {
		if _, exists := remoteByID[id]; exists {
			continue
		}
		if lu.Superuser {
			s.logger.Info("keeping local superuser absent from realm", "username", lu.Username)
			continue
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return report, fmt.Errorf("usersync: remove %s: %w", lu.Username, err)
		}
		s.logger.Info("removed local user", "username", lu.Username, "subject", id)
		report.Removed++
	}

	return report, nil
}
