package models

import "time"

// Transient is a key/value entry that stops being visible after ExpiresAt.
type Transient struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"type:text"`
	ExpiresAt time.Time `gorm:"index"`
}

// AppLock is a named lease held by one owner until ExpiresAt.
type AppLock struct {
	LockName   string `gorm:"primaryKey"`
	Owner      string `gorm:"not null"`
	AcquiredAt time.Time
	ExpiresAt  time.Time `gorm:"index"`
}
