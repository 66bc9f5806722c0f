package config

import (
	"fmt"
	"time"
)

// LoadBalancingStrategy selects how the provider manager picks among
// healthy providers.
type LoadBalancingStrategy string

const (
	StrategyPriority     LoadBalancingStrategy = "priority"
	StrategyRoundRobin   LoadBalancingStrategy = "round-robin"
	StrategyLeastLatency LoadBalancingStrategy = "least-latency"
)

// ProvidersConfig configures the provider abstraction layer.
type ProvidersConfig struct {
	// DefaultProvider names the provider used when routing has no opinion.
	DefaultProvider string `yaml:"default_provider"`

	EnableFailover      bool                  `yaml:"enable_failover"`
	FailoverTimeout     time.Duration         `yaml:"failover_timeout"`
	EnableLoadBalancing bool                  `yaml:"enable_load_balancing"`
	Strategy            LoadBalancingStrategy `yaml:"load_balancing_strategy"`

	// UnhealthyThreshold is the consecutive-failure count after which a
	// provider is marked unhealthy.
	UnhealthyThreshold int `yaml:"unhealthy_threshold"`

	// ProbeInterval is how often unhealthy providers are re-probed.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// Entries lists the configured providers.
	Entries []ProviderEntry `yaml:"entries"`
}

// ProviderEntry configures one provider instance.
type ProviderEntry struct {
	// Name is the unique provider instance name (also the failover key).
	Name string `yaml:"name"`

	// Type is one of azure-openai, azure-ai-foundry, aws-bedrock,
	// google-vertex, ollama, anthropic.
	Type string `yaml:"type"`

	Enabled  bool `yaml:"enabled"`
	Priority int  `yaml:"priority"`

	// Settings holds provider-native options (endpoint, api_key, region,
	// deployment, project, base_url...).
	Settings map[string]string `yaml:"settings"`
}

func (c *ProvidersConfig) applyDefaults() {
	if c.FailoverTimeout <= 0 {
		c.FailoverTimeout = 30 * time.Second
	}
	if c.Strategy == "" {
		c.Strategy = StrategyPriority
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = 3
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 30 * time.Second
	}
}

func (c *ProvidersConfig) validate() error {
	switch c.Strategy {
	case StrategyPriority, StrategyRoundRobin, StrategyLeastLatency:
	default:
		return fmt.Errorf("providers: unknown load_balancing_strategy %q", c.Strategy)
	}
	seen := make(map[string]struct{}, len(c.Entries))
	for _, e := range c.Entries {
		if e.Name == "" {
			return fmt.Errorf("providers: entry with empty name")
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("providers: duplicate entry %q", e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return nil
}
