// Package config loads the bridge configuration from an optional yaml file,
// applies BRIDGE_* environment overrides, then fills defaults and validates.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultInstallation   = "gravityformshubspot"
	DefaultAPIBaseURL     = "https://api.hubapi.com/"
	DefaultFormsBaseURL   = "https://api.hsforms.com"
	DefaultBrokerURL      = "https://gravityapi.com/wp-json/gravityapi/v1"
	DefaultSupportURL     = "https://www.gravityforms.com/open-support-ticket/"
	DefaultRequestTimeout = 30 * time.Second
	DefaultSchemaTTL      = time.Hour
	DefaultRefreshLockTTL = time.Minute
	DefaultTokenTTL       = 1800
)

// SelectionProperty configures an enumeration property that gets its own
// dedicated setting instead of free-form mapping.
type SelectionProperty struct {
	AllowsBlank  bool   `yaml:"allows_blank"`
	DefaultValue string `yaml:"default_value"`
	Tooltip      string `yaml:"tooltip"`
}

// Config holds every runtime setting.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	// Installation keys every persisted credential, lock and transient.
	Installation string `yaml:"installation"`
	License      string `yaml:"license"`

	APIBaseURL   string `yaml:"api_base_url"`
	FormsBaseURL string `yaml:"forms_base_url"`
	BrokerURL    string `yaml:"broker_url"`
	SupportURL   string `yaml:"support_url"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateRPS        float64       `yaml:"rate_rps"`
	RateBurst      int           `yaml:"rate_burst"`

	SchemaTTL       time.Duration `yaml:"schema_ttl"`
	RefreshLockTTL  time.Duration `yaml:"refresh_lock_ttl"`
	DefaultTokenTTL int           `yaml:"default_token_ttl"`

	AdminPassword string `yaml:"admin_password"`

	SelectionProperties   map[string]SelectionProperty `yaml:"selection_properties"`
	PipelineStageProperty []string                     `yaml:"pipeline_stage_properties"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		DBPath:          "bridge.db",
		LogLevel:        "info",
		Installation:    DefaultInstallation,
		APIBaseURL:      DefaultAPIBaseURL,
		FormsBaseURL:    DefaultFormsBaseURL,
		BrokerURL:       DefaultBrokerURL,
		SupportURL:      DefaultSupportURL,
		RequestTimeout:  DefaultRequestTimeout,
		RateRPS:         10,
		RateBurst:       10,
		SchemaTTL:       DefaultSchemaTTL,
		RefreshLockTTL:  DefaultRefreshLockTTL,
		DefaultTokenTTL: DefaultTokenTTL,
		SelectionProperties: map[string]SelectionProperty{
			"hs_lead_status": {
				AllowsBlank: true,
				Tooltip:     "Select the lead status value the newly added contact should be set to.",
			},
			"lifecyclestage": {
				DefaultValue: "lead",
				Tooltip:      "Select the lifecycle stage value the newly added contact should be set to.",
			},
		},
		PipelineStageProperty: []string{"lifecyclestage"},
	}
}

// Load resolves the config file (explicit path, BRIDGE_CONFIG, or the usual
// locations), then applies env overrides and validates.
func Load(explicitPath string) (Config, error) {
	cfg := Default()

	path, err := resolveConfigPath(explicitPath)
	if err != nil {
		return cfg, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, cfg.Validate()
}

// MustLoad is Load that panics on error.
func MustLoad(explicitPath string) Config {
	cfg, err := Load(explicitPath)
	if err != nil {
		panic(err)
	}
	return cfg
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit == "" {
		explicit = strings.TrimSpace(getenv("BRIDGE_CONFIG"))
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"bridge.yaml",
		"config/bridge.yaml",
		"/etc/hubspot-bridge/bridge.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "hubspot-bridge", "bridge.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func applyEnv(cfg *Config) {
	cfg.ListenAddr = envString("BRIDGE_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DBPath = envString("BRIDGE_DB_PATH", cfg.DBPath)
	cfg.LogLevel = envString("BRIDGE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = envBool("BRIDGE_LOG_PRETTY", cfg.LogPretty)
	cfg.Installation = envString("BRIDGE_INSTALLATION", cfg.Installation)
	cfg.License = envString("BRIDGE_LICENSE", cfg.License)
	cfg.APIBaseURL = envString("BRIDGE_API_BASE_URL", cfg.APIBaseURL)
	cfg.FormsBaseURL = envString("BRIDGE_FORMS_BASE_URL", cfg.FormsBaseURL)
	cfg.BrokerURL = envString("BRIDGE_BROKER_URL", cfg.BrokerURL)
	cfg.SupportURL = envString("BRIDGE_SUPPORT_URL", cfg.SupportURL)
	cfg.RequestTimeout = envDuration("BRIDGE_REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.RateRPS = envFloat("BRIDGE_RATE_RPS", cfg.RateRPS)
	cfg.RateBurst = envInt("BRIDGE_RATE_BURST", cfg.RateBurst)
	cfg.SchemaTTL = envDuration("BRIDGE_SCHEMA_TTL", cfg.SchemaTTL)
	cfg.RefreshLockTTL = envDuration("BRIDGE_REFRESH_LOCK_TTL", cfg.RefreshLockTTL)
	cfg.DefaultTokenTTL = envInt("BRIDGE_DEFAULT_TOKEN_TTL", cfg.DefaultTokenTTL)
	cfg.AdminPassword = envString("BRIDGE_ADMIN_PASSWORD", cfg.AdminPassword)
}

func normalize(cfg *Config) {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.Installation = strings.TrimSpace(cfg.Installation)
	cfg.BrokerURL = strings.TrimRight(strings.TrimSpace(cfg.BrokerURL), "/")
	cfg.FormsBaseURL = strings.TrimRight(strings.TrimSpace(cfg.FormsBaseURL), "/")
	if base := strings.TrimSpace(cfg.APIBaseURL); base != "" && !strings.HasSuffix(base, "/") {
		cfg.APIBaseURL = base + "/"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.SchemaTTL <= 0 {
		cfg.SchemaTTL = DefaultSchemaTTL
	}
	if cfg.RefreshLockTTL <= 0 {
		cfg.RefreshLockTTL = DefaultRefreshLockTTL
	}
	if cfg.DefaultTokenTTL <= 0 {
		cfg.DefaultTokenTTL = DefaultTokenTTL
	}
	if cfg.SelectionProperties == nil {
		cfg.SelectionProperties = map[string]SelectionProperty{}
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("log_level must be one of: debug, info, warn, error, fatal, panic")
	}
	if c.Installation == "" {
		return errors.New("installation must not be empty")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("db_path must not be empty")
	}
	for name, v := range map[string]string{
		"api_base_url":   c.APIBaseURL,
		"forms_base_url": c.FormsBaseURL,
		"broker_url":     c.BrokerURL,
	} {
		if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			return fmt.Errorf("%s must be an http(s) URL, got %q", name, v)
		}
	}
	if c.RateRPS < 0 {
		return errors.New("rate_rps must be >= 0")
	}
	if c.RateRPS > 0 && c.RateBurst < 1 {
		return errors.New("rate_burst must be >= 1 when rate_rps is set")
	}
	return nil
}

// IsPipelineStage reports whether a property is modelled as a pipeline stage
// by the remote side rather than as a plain form field.
func (c Config) IsPipelineStage(property string) bool {
	for _, p := range c.PipelineStageProperty {
		if p == property {
			return true
		}
	}
	return false
}

var getenv = os.Getenv

func envString(key, def string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(getenv(key)), 64); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(getenv(key))); err == nil {
		return v
	}
	return def
}
