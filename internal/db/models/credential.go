package models

import "time"

// Credential stores the OAuth token pair for one installation.
type Credential struct {
	Installation string `gorm:"primaryKey"`
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	TTLSeconds   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
