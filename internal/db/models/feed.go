package models

import "time"

// Feed is the persisted form of a feed configuration. Mapping, owner and
// condition settings are kept as JSON documents.
type Feed struct {
	ID              uint   `gorm:"primaryKey"`
	FormID          int    `gorm:"index;not null"`
	Name            string `gorm:"not null"`
	RemoteFormName  string
	RemoteFormGUID  string `gorm:"index"`
	RemoteAccountID string
	IsActive        bool
	Mappings        string `gorm:"type:text"`
	Additional      string `gorm:"type:text"`
	Owner           string `gorm:"type:text"`
	Condition       string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EntryMeta holds per-entry values captured at submission time, such as the
// visitor tracking cookie kept for deferred processing.
type EntryMeta struct {
	ID        uint   `gorm:"primaryKey"`
	EntryID   int    `gorm:"uniqueIndex:idx_entry_key;not null"`
	FormID    int    `gorm:"index"`
	Key       string `gorm:"uniqueIndex:idx_entry_key;not null"`
	Value     string `gorm:"type:text"`
	CreatedAt time.Time
}
