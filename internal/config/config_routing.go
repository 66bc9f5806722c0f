package config

import (
	"fmt"
	"time"
)

// RoutingConfig configures the smart model router.
type RoutingConfig struct {
	// DefaultSliderPosition seeds the cost/quality slider when the request
	// carries none. Range [0,100]; 50 balances cost and quality.
	DefaultSliderPosition int `yaml:"default_slider_position"`

	// RefreshInterval is how often model discovery re-runs.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// ReservedForGeneration is subtracted from the model context window
	// when budgeting assembled context.
	ReservedForGeneration int `yaml:"reserved_for_generation"`
}

func (c *RoutingConfig) applyDefaults() {
	if c.DefaultSliderPosition == 0 {
		c.DefaultSliderPosition = 50
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Hour
	}
	if c.ReservedForGeneration <= 0 {
		c.ReservedForGeneration = 4096
	}
}

func (c *RoutingConfig) validate() error {
	if c.DefaultSliderPosition < 0 || c.DefaultSliderPosition > 100 {
		return fmt.Errorf("routing: default_slider_position %d out of [0,100]", c.DefaultSliderPosition)
	}
	return nil
}

// TieredFCConfig configures tiered function calling.
type TieredFCConfig struct {
	CheapModel              string `yaml:"cheap_model"`
	BalancedModel           string `yaml:"balanced_model"`
	PremiumModel            string `yaml:"premium_model"`
	ToolStrippingEnabled    bool   `yaml:"tool_stripping_enabled"`
	DecisionCacheEnabled    bool   `yaml:"decision_cache_enabled"`
	DecisionCacheTTLSeconds int    `yaml:"decision_cache_ttl_seconds"`
}

func (c *TieredFCConfig) applyDefaults() {
	if c.DecisionCacheTTLSeconds <= 0 {
		c.DecisionCacheTTLSeconds = 300
	}
}
