// Package config loads and validates the gateway configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root gateway configuration.
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Routing   RoutingConfig   `yaml:"routing"`
	TieredFC  TieredFCConfig  `yaml:"tiered_fc"`
	Cache     CacheConfig     `yaml:"cache"`
	Vector    VectorConfig    `yaml:"vector"`
	Memory    MemoryConfig    `yaml:"memory"`
	MCP       MCPConfig       `yaml:"mcp"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Database  DatabaseConfig  `yaml:"database"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`

	// ListenAddr is the HTTP listen address for the turn, metrics, and
	// health endpoints.
	ListenAddr string `yaml:"listen_addr"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	// JWTSecret is the HMAC key used to verify identity tokens.
	JWTSecret string `yaml:"jwt_secret"`

	// AdminGroups are directory group IDs whose members are admins, in
	// addition to any explicit admin claim.
	AdminGroups []string `yaml:"admin_groups"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// URL is the postgres connection string.
	URL string `yaml:"url"`

	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// PricingConfig configures the live pricing service.
type PricingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Region is the AWS region used for Pricing API queries.
	Region string `yaml:"region"`

	// RefreshInterval is how often live prices are refetched.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PipelineConfig configures the turn pipeline.
type PipelineConfig struct {
	// TurnTimeout bounds one full turn.
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// StageTimeout bounds a single stage unless overridden per stage.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// StageTimeouts overrides StageTimeout for named stages.
	StageTimeouts map[string]time.Duration `yaml:"stage_timeouts"`

	// SessionLockWait bounds the wait for the per-session lock before the
	// turn is rejected as busy.
	SessionLockWait time.Duration `yaml:"session_lock_wait"`

	// EventBuffer is the size of the bounded per-turn event channel.
	EventBuffer int `yaml:"event_buffer"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values with working defaults.
func (c *Config) ApplyDefaults() {
	c.Providers.applyDefaults()
	c.Routing.applyDefaults()
	c.TieredFC.applyDefaults()
	c.Cache.applyDefaults()
	c.Vector.applyDefaults()
	c.Memory.applyDefaults()
	c.MCP.applyDefaults()

	if c.Pipeline.TurnTimeout <= 0 {
		c.Pipeline.TurnTimeout = 5 * time.Minute
	}
	if c.Pipeline.StageTimeout <= 0 {
		c.Pipeline.StageTimeout = 60 * time.Second
	}
	if c.Pipeline.SessionLockWait <= 0 {
		c.Pipeline.SessionLockWait = 2 * time.Second
	}
	if c.Pipeline.EventBuffer <= 0 {
		c.Pipeline.EventBuffer = 256
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Pricing.Region == "" {
		c.Pricing.Region = "us-east-1"
	}
	if c.Pricing.RefreshInterval <= 0 {
		c.Pricing.RefreshInterval = 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if err := c.Providers.validate(); err != nil {
		return err
	}
	if err := c.Routing.validate(); err != nil {
		return err
	}
	return nil
}
