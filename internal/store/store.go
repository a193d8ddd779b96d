// Package store provides the host primitives the bridge builds on: a
// transient key/value cache with expiry, named leases acquired by atomic
// insert-if-absent, and persistent settings. All three live in SQLite via gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/hubspot-bridge/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is safe for concurrent use.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store backed by db.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for repositories sharing the database.
func (s *Store) DB() *gorm.DB { return s.db }

// Now is the store's clock in UTC.
func (s *Store) Now() time.Time { return s.now().UTC() }

// GetTransient returns the value stored under key if it has not expired.
func (s *Store) GetTransient(ctx context.Context, key string) (string, bool, error) {
	var row models.Transient
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get transient %s: %w", key, err)
	}
	if !row.ExpiresAt.After(s.Now()) {
		return "", false, nil
	}
	return row.Value, true, nil
}

// SetTransient stores value under key for ttl, replacing any previous value.
func (s *Store) SetTransient(ctx context.Context, key, value string, ttl time.Duration) error {
	row := models.Transient{Key: key, Value: value, ExpiresAt: s.Now().Add(ttl)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set transient %s: %w", key, err)
	}
	return nil
}

// DeleteTransient removes key. Missing keys are not an error.
func (s *Store) DeleteTransient(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.Transient{}).Error; err != nil {
		return fmt.Errorf("delete transient %s: %w", key, err)
	}
	return nil
}

// PurgeExpired drops transients and leases past their expiry.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.Now()
	res := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.Transient{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge transients: %w", res.Error)
	}
	locks := s.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.AppLock{})
	if locks.Error != nil {
		return res.RowsAffected, fmt.Errorf("purge locks: %w", locks.Error)
	}
	return res.RowsAffected + locks.RowsAffected, nil
}
