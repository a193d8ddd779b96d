package models

import "time"

// Setting is a persistent key/value pair (admin API key, last cache clearance).
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
