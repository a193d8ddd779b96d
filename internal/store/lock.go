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

// TryAcquire takes the lease name for owner when nobody holds it. An expired
// lease is reclaimed in the same transaction. It never waits.
func (s *Store) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := s.Now()
	acquired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var held models.AppLock
		err := tx.Where("lock_name = ?", name).First(&held).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case held.ExpiresAt.After(now):
			return nil
		default:
			if err := tx.Where("lock_name = ? AND owner = ?", name, held.Owner).Delete(&models.AppLock{}).Error; err != nil {
				return err
			}
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.AppLock{
			LockName:   name,
			Owner:      owner,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		})
		if res.Error != nil {
			return res.Error
		}
		acquired = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return acquired, nil
}

// Release drops the lease if owner still holds it.
func (s *Store) Release(ctx context.Context, name, owner string) error {
	err := s.db.WithContext(ctx).
		Where("lock_name = ? AND owner = ?", name, owner).
		Delete(&models.AppLock{}).Error
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
