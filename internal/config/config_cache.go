package config

import "time"

// CacheConfig configures the Redis cache surface.
type CacheConfig struct {
	// Addr is the redis host:port. Empty disables the cache; all cache
	// operations degrade to no-ops.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix namespaces every key the gateway writes.
	KeyPrefix string `yaml:"key_prefix"`

	// DefaultTTL applies when a set carries no explicit TTL.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// ContextTTL bounds assembled-context cache entries.
	ContextTTL time.Duration `yaml:"context_ttl"`

	// RAGCacheTTL bounds cached retrieval results.
	RAGCacheTTL time.Duration `yaml:"rag_cache_ttl"`
}

func (c *CacheConfig) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "swb"
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 15 * time.Minute
	}
	if c.ContextTTL <= 0 {
		c.ContextTTL = time.Hour
	}
	if c.RAGCacheTTL <= 0 {
		c.RAGCacheTTL = 5 * time.Minute
	}
}

// VectorConfig configures the qdrant vector substrate.
type VectorConfig struct {
	// Host and Port locate the qdrant gRPC endpoint. Empty host disables
	// vector search; the memory stage falls back to keyword retrieval.
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`

	// MemoryCollection names the user-memory collection.
	MemoryCollection string `yaml:"memory_collection"`

	// ModelCollection names the model-capability collection.
	ModelCollection string `yaml:"model_collection"`
}

func (c *VectorConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MemoryCollection == "" {
		c.MemoryCollection = "user_memories"
	}
	if c.ModelCollection == "" {
		c.ModelCollection = "model_profiles"
	}
}
