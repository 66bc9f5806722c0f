package config

import "time"

// MCPConfig configures the tool layer.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`

	// OrchestratorURL is the base URL of the tool orchestrator.
	OrchestratorURL string `yaml:"orchestrator_url"`

	// RequestTimeout bounds one orchestrator call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxUserWorkers caps the per-user tool-session pool.
	MaxUserWorkers int `yaml:"max_user_workers"`

	// WorkerIdleTimeout evicts idle per-user workers.
	WorkerIdleTimeout time.Duration `yaml:"worker_idle_timeout"`

	// WorkerSweepInterval is how often stale workers are collected.
	WorkerSweepInterval time.Duration `yaml:"worker_sweep_interval"`
}

func (c *MCPConfig) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxUserWorkers <= 0 {
		c.MaxUserWorkers = 100
	}
	if c.WorkerIdleTimeout <= 0 {
		c.WorkerIdleTimeout = time.Hour
	}
	if c.WorkerSweepInterval <= 0 {
		c.WorkerSweepInterval = 15 * time.Minute
	}
}
