// Package config provides configuration management for the CRM MCP server.
// Settings come from environment variables with the CRMMCP_ prefix, with an
// optional YAML file (CRMMCP_CONFIG) underneath: defaults < file < env.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the CRM MCP server.
type Config struct {
	CRM   CRMConfig   `yaml:"crm"`
	Cache CacheConfig `yaml:"cache"`
	HTTP  HTTPConfig  `yaml:"http"`
}

// CRMConfig contains the CRM connection settings. All four fields are
// required.
type CRMConfig struct {
	ClientID     string `yaml:"client_id"`     // OAuth2 client ID
	ClientSecret string `yaml:"client_secret"` // OAuth2 client secret
	TenantID     string `yaml:"tenant_id"`     // Identity tenant ID
	Resource     string `yaml:"resource"`      // CRM organisation URL
}

// CacheConfig contains the entity-resolution cache settings.
type CacheConfig struct {
	Backend     string `yaml:"backend"`      // "file" or "sqlite" (default: file)
	Path        string `yaml:"path"`         // Cache file / database path
	ExpiryHours int    `yaml:"expiry_hours"` // Entry expiry window (default: 176, ~1 week)
}

// HTTPConfig contains the outbound HTTP settings for CRM calls.
type HTTPConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds"` // Per-request timeout (default: 30)
	RateLimit      float64 `yaml:"rate_limit"`      // Sustained requests per second (default: 5)
	RateBurst      int     `yaml:"rate_burst"`      // Burst size (default: 5)
}

// LoadConfig builds the configuration: defaults first, then the YAML file
// named by CRMMCP_CONFIG (when set), then environment variables on top.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CRMMCP_CONFIG"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// Validate checks that the required CRM connection settings are present and
// the cache settings are coherent.
func (c *Config) Validate() error {
	var missing []string
	if c.CRM.ClientID == "" {
		missing = append(missing, "CRMMCP_CLIENT_ID")
	}
	if c.CRM.ClientSecret == "" {
		missing = append(missing, "CRMMCP_CLIENT_SECRET")
	}
	if c.CRM.TenantID == "" {
		missing = append(missing, "CRMMCP_TENANT_ID")
	}
	if c.CRM.Resource == "" {
		missing = append(missing, "CRMMCP_RESOURCE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required CRM configuration: %s", strings.Join(missing, ", "))
	}

	switch c.Cache.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("config: unknown cache backend %q (want \"file\" or \"sqlite\")", c.Cache.Backend)
	}
	if c.Cache.ExpiryHours <= 0 {
		return fmt.Errorf("config: cache expiry must be positive, got %d", c.Cache.ExpiryHours)
	}
	return nil
}

// defaultConfig returns the built-in defaults.
func defaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Backend:     "file",
			Path:        "./data/crm_entity_cache.json",
			ExpiryHours: 176,
		},
		HTTP: HTTPConfig{
			TimeoutSeconds: 30,
			RateLimit:      5,
			RateBurst:      5,
		},
	}
}

// applyFile overlays settings from a YAML file. Absent keys keep their
// current values.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: failed to parse %q: %w", path, err)
	}
	return nil
}

// applyEnv overlays settings from CRMMCP_* environment variables.
func applyEnv(cfg *Config) {
	cfg.CRM.ClientID = getEnv("CRMMCP_CLIENT_ID", cfg.CRM.ClientID)
	cfg.CRM.ClientSecret = getEnv("CRMMCP_CLIENT_SECRET", cfg.CRM.ClientSecret)
	cfg.CRM.TenantID = getEnv("CRMMCP_TENANT_ID", cfg.CRM.TenantID)
	cfg.CRM.Resource = getEnv("CRMMCP_RESOURCE", cfg.CRM.Resource)

	cfg.Cache.Backend = getEnv("CRMMCP_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.Path = getEnv("CRMMCP_CACHE_PATH", cfg.Cache.Path)
	cfg.Cache.ExpiryHours = getEnvInt("CRMMCP_CACHE_EXPIRY_HOURS", cfg.Cache.ExpiryHours)

	cfg.HTTP.TimeoutSeconds = getEnvInt("CRMMCP_HTTP_TIMEOUT_SECONDS", cfg.HTTP.TimeoutSeconds)
	cfg.HTTP.RateLimit = getEnvFloat("CRMMCP_RATE_LIMIT", cfg.HTTP.RateLimit)
	cfg.HTTP.RateBurst = getEnvInt("CRMMCP_RATE_BURST", cfg.HTTP.RateBurst)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
