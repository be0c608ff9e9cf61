// Package gormstore persists the local identity mirror in PostgreSQL via
// GORM. Unique indexes on the subject id and the username are the guard
// against duplicate-row races under concurrent first-time logins.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	keycloak "github.com/urbanplatform/keycloak-go"
)

// userRecord is the database row behind keycloak.User. The local primary
// key is auto-assigned so a Keycloak migration does not break foreign keys;
// the subject id is a unique secondary key.
type userRecord struct {
	ID         uint   `gorm:"primaryKey"`
	KeycloakID string `gorm:"type:uuid;uniqueIndex;not null"`
	Username   string `gorm:"size:150;uniqueIndex;not null"`
	FirstName  string `gorm:"size:150"`
	LastName   string `gorm:"size:150"`
	Email      string `gorm:"size:254"`
	IsStaff    bool
	IsSuper    bool `gorm:"column:is_superuser"`
	IsActive   bool `gorm:"default:true"`
	DateJoined time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (userRecord) TableName() string { return "keycloak_users" }

// Store implements keycloak.UserStore on a GORM connection.
type Store struct {
	db           *gorm.DB
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
// profile fields are not kept locally.
func WithoutProfileCache() Option {
	return func(s *Store) { s.cacheProfile = false }
}

// Open connects to PostgreSQL with error translation enabled, so uniqueness
// violations map onto gorm.ErrDuplicatedKey.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("gormstore: connect: %w", err)
	}
	return db, nil
}

// New creates a store on an existing connection. By default it behaves as
// the extended user variant and caches profile fields.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, cacheProfile: true}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AutoMigrate creates or updates the users table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&userRecord{})
}

// CachesProfile reports whether profile fields are kept locally.
func (s *Store) CachesProfile() bool { return s.cacheProfile }

// GetBySubject returns the user with the given subject id.
func (s *Store) GetBySubject(ctx context.Context, subjectID string) (*keycloak.User, error) {
	var rec userRecord
	err := s.db.WithContext(ctx).Where("keycloak_id = ?", subjectID).First(&rec).Error
	if err != nil {
		return nil, translate(err)
	}
	return toUser(&rec), nil
}

// GetByUsername returns the user with the given username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*keycloak.User, error) {
	var rec userRecord
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&rec).Error
	if err != nil {
		return nil, translate(err)
	}
	return toUser(&rec), nil
}

// Create inserts a new user.
func (s *Store) Create(ctx context.Context, u *keycloak.User) error {
	rec := fromUser(u)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return translate(err)
	}
	return nil
}

// Update persists changes to an existing user, matched by subject id.
func (s *Store) Update(ctx context.Context, u *keycloak.User) error {
	updates := map[string]any{
		"username":     u.Username,
		"first_name":   u.FirstName,
		"last_name":    u.LastName,
		"email":        u.Email,
		"is_staff":     u.Staff,
		"is_superuser": u.Superuser,
		"is_active":    u.Active,
	}
	res := s.db.WithContext(ctx).Model(&userRecord{}).
		Where("keycloak_id = ?", u.ID).
		Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return keycloak.ErrUserNotFound
	}
	return nil
}

// Delete removes the user with the given subject id.
func (s *Store) Delete(ctx context.Context, subjectID string) error {
	res := s.db.WithContext(ctx).Where("keycloak_id = ?", subjectID).Delete(&userRecord{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return keycloak.ErrUserNotFound
	}
	return nil
}

// List returns all local users.
func (s *Store) List(ctx context.Context) ([]*keycloak.User, error) {
	var recs []userRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, translate(err)
	}
	out := make([]*keycloak.User, len(recs))
	for i := range recs {
		out[i] = toUser(&recs[i])
	}
	return out, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return keycloak.ErrUserNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return keycloak.ErrConflict
	default:
		return fmt.Errorf("gormstore: %w", err)
	}
}

func toUser(rec *userRecord) *keycloak.User {
	return &keycloak.User{
		ID:         rec.KeycloakID,
		Username:   rec.Username,
		FirstName:  rec.FirstName,
		LastName:   rec.LastName,
		Email:      rec.Email,
		Staff:      rec.IsStaff,
		Superuser:  rec.IsSuper,
		Active:     rec.IsActive,
		DateJoined: rec.DateJoined,
	}
}

func fromUser(u *keycloak.User) *userRecord {
	return &userRecord{
		KeycloakID: u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Email:      u.Email,
		IsStaff:    u.Staff,
		IsSuper:    u.Superuser,
		IsActive:   u.Active,
		DateJoined: u.DateJoined,
	}
}
