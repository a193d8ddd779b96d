// Package credentials persists the OAuth token pair of an installation.
package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/config"
	"github.com/pysugar/hubspot-bridge/internal/db/models"
	"github.com/pysugar/hubspot-bridge/internal/errs"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenRecord is the stored token pair. TTLSeconds of zero marks a record
// written without a lifetime and is read as the default lifetime.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	TTLSeconds   int
}

// TTL returns the token lifetime, falling back to the default.
func (r TokenRecord) TTL() time.Duration {
	if r.TTLSeconds <= 0 {
		return time.Duration(config.DefaultTokenTTL) * time.Second
	}
	return time.Duration(r.TTLSeconds) * time.Second
}

// ExpiresAt is IssuedAt plus the lifetime.
func (r TokenRecord) ExpiresAt() time.Time { return r.IssuedAt.Add(r.TTL()) }

// Expired reports whether now is strictly past the expiry instant.
func (r TokenRecord) Expired(now time.Time) bool { return now.After(r.ExpiresAt()) }

// OAuth2 returns the record as an oauth2 bearer token.
func (r TokenRecord) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       r.ExpiresAt(),
	}
}

// Store reads and writes the TokenRecord of a single installation.
type Store struct {
	db           *gorm.DB
	installation string
}

// NewStore binds a Store to installation.
func NewStore(db *gorm.DB, installation string) *Store {
	return &Store{db: db, installation: installation}
}

// Load returns the record or a NotFound error when none is stored.
func (s *Store) Load(ctx context.Context) (TokenRecord, error) {
	const op = "credentials.Load"
	var row models.Credential
	err := s.db.WithContext(ctx).Where("installation = ?", s.installation).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TokenRecord{}, errs.E(errs.NotFound, op, "no credentials stored")
	}
	if err != nil {
		return TokenRecord{}, errs.Wrap(errs.Unknown, op, err)
	}
	return TokenRecord{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		IssuedAt:     row.IssuedAt,
		TTLSeconds:   row.TTLSeconds,
	}, nil
}

// Save upserts rec.
func (s *Store) Save(ctx context.Context, rec TokenRecord) error {
	row := models.Credential{
		Installation: s.installation,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		IssuedAt:     rec.IssuedAt.UTC(),
		TTLSeconds:   rec.TTLSeconds,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "installation"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "issued_at", "ttl_seconds", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errs.Wrap(errs.Unknown, "credentials.Save", err)
	}
	return nil
}

// Delete removes the record. Deleting an absent record succeeds.
func (s *Store) Delete(ctx context.Context) error {
	err := s.db.WithContext(ctx).Where("installation = ?", s.installation).Delete(&models.Credential{}).Error
	if err != nil {
		return errs.Wrap(errs.Unknown, "credentials.Delete", err)
	}
	return nil
}
