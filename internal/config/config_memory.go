package config

import "time"

// MemoryConfig configures the memory subsystem.
type MemoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxSessionMemory caps session entries; older entries evict FIFO.
	MaxSessionMemory int `yaml:"max_session_memory"`

	// MaxUserMemory caps user entries retained in the hot context.
	MaxUserMemory int `yaml:"max_user_memory"`

	// ConsolidationThreshold triggers consolidation when the total entry
	// count reaches it.
	ConsolidationThreshold int `yaml:"consolidation_threshold"`

	// RetentionDays bounds low-importance entry age during consolidation.
	RetentionDays int `yaml:"retention_days"`

	// ContextTTL bounds the cached MemoryContext under memory:<userId>.
	ContextTTL time.Duration `yaml:"context_ttl"`

	// Embeddings configures the embedding provider used for vector search.
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // openai, ollama
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

func (c *MemoryConfig) applyDefaults() {
	if c.MaxSessionMemory <= 0 {
		c.MaxSessionMemory = 50
	}
	if c.MaxUserMemory <= 0 {
		c.MaxUserMemory = 200
	}
	if c.ConsolidationThreshold <= 0 {
		c.ConsolidationThreshold = 100
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.ContextTTL <= 0 {
		c.ContextTTL = 30 * time.Minute
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "openai"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "text-embedding-3-small"
	}
}
