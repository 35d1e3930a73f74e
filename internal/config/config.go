// Package config handles configuration loading and validation for holdboard.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BackendConfig points at the object-store service.
type BackendConfig struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"` // Bearer token, optional
}

// AuthConfig holds gateway authentication settings. When PasswordHash is
// set, the API requires a JWT obtained via login; otherwise the gateway
// runs open (development mode).
type AuthConfig struct {
	PasswordHash string `yaml:"password_hash"` // bcrypt hash of the admin password
	JWTSecret    string `yaml:"jwt_secret"`    // HS256 signing secret
	TokenTTL     string `yaml:"token_ttl"`     // Duration string, e.g. "12h"
}

// SessionConfig controls per-browser-session staged state.
type SessionConfig struct {
	TTL      string `yaml:"ttl"`       // Idle expiry, e.g. "24h"
	DataDir  string `yaml:"data_dir"`  // Overlay persistence root; empty = in-memory only
	PageSize int    `yaml:"page_size"` // Objects per listing page
}

// Config is the gateway daemon configuration.
type Config struct {
	Listen  string        `yaml:"listen"`
	Backend BackendConfig `yaml:"backend"`
	Auth    AuthConfig    `yaml:"auth"`
	Session SessionConfig `yaml:"session"`
	Metrics bool          `yaml:"metrics"`
}

// Defaults applied by Load when fields are unset.
const (
	DefaultListen   = ":8080"
	DefaultPageSize = 5
	DefaultTTL      = 24 * time.Hour
	DefaultTokenTTL = 12 * time.Hour
)

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Session.PageSize <= 0 {
		c.Session.PageSize = DefaultPageSize
	}
	if c.Session.TTL == "" {
		c.Session.TTL = DefaultTTL.String()
	}
	if c.Auth.TokenTTL == "" {
		c.Auth.TokenTTL = DefaultTokenTTL.String()
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if _, err := time.ParseDuration(c.Session.TTL); err != nil {
		return fmt.Errorf("invalid session.ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.Auth.TokenTTL); err != nil {
		return fmt.Errorf("invalid auth.token_ttl: %w", err)
	}
	if c.Auth.PasswordHash != "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.password_hash is set")
	}
	return nil
}

// SessionTTL returns the parsed session idle expiry.
func (c *Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.Session.TTL)
	if err != nil {
		return DefaultTTL
	}
	return d
}

// TokenTTL returns the parsed login token lifetime.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil {
		return DefaultTokenTTL
	}
	return d
}
