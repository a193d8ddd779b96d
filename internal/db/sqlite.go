package db

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/hubspot-bridge/internal/db/models"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const apiKeySetting = "api_key"

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: newGormLogger(zerologWriter{}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; one connection keeps lock and token
	// updates serialized and keeps in-memory databases alive.
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	if _, err := ensureAPIKey(db); err != nil {
		return nil, err
	}
	return db, nil
}

// zerologWriter routes gorm's warnings and errors to the global zerolog logger.
type zerologWriter struct{}

func (zerologWriter) Printf(format string, args ...interface{}) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

// newGormLogger reports slow queries and failures. Lookups that find no
// row are routine here and stay silent.
func newGormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// OpenMemory opens a private in-memory database, migrated and ready to use.
func OpenMemory(name string) (*gorm.DB, error) {
	return InitDB("file:" + url.PathEscape(name) + "?mode=memory&cache=shared")
}

// Migrate creates or updates every table the bridge uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Credential{},
		&models.Setting{},
		&models.Transient{},
		&models.AppLock{},
		&models.Feed{},
		&models.EntryMeta{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// ensureAPIKey generates the submission API key on first run.
func ensureAPIKey(db *gorm.DB) (string, error) {
	var setting models.Setting
	err := db.Where("key = ?", apiKeySetting).First(&setting).Error
	if err == nil {
		return setting.Value, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("load api key: %w", err)
	}

	apiKey := newAPIKey()
	if err := db.Create(&models.Setting{Key: apiKeySetting, Value: apiKey}).Error; err != nil {
		return "", fmt.Errorf("store api key: %w", err)
	}
	log.Info().Str("api_key", apiKey).Msg("🔑 generated new API key")
	return apiKey, nil
}

// GetAPIKey retrieves the API key from database
func GetAPIKey(db *gorm.DB) string {
	var setting models.Setting
	db.Where("key = ?", apiKeySetting).First(&setting)
	return setting.Value
}

// RegenerateAPIKey replaces the API key and returns the new value.
func RegenerateAPIKey(db *gorm.DB) (string, error) {
	apiKey := newAPIKey()
	res := db.Model(&models.Setting{}).Where("key = ?", apiKeySetting).Update("value", apiKey)
	if res.Error != nil {
		return "", fmt.Errorf("regenerate api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := db.Create(&models.Setting{Key: apiKeySetting, Value: apiKey}).Error; err != nil {
			return "", fmt.Errorf("regenerate api key: %w", err)
		}
	}
	log.Info().Msg("🔑 regenerated API key")
	return apiKey, nil
}

func newAPIKey() string {
	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	return "sk-" + hex.EncodeToString(keyBytes)
}
