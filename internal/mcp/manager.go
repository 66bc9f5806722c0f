package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/arcfault/switchboard/internal/cache"
	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// Orchestrator is the tool-orchestrator surface the manager consumes.
type Orchestrator interface {
	ListServers(ctx context.Context) ([]models.MCPServer, error)
	GetServerTools(ctx context.Context, serverID string) ([]models.ToolDescriptor, error)
	ExecuteTool(ctx context.Context, serverID, tool string, args json.RawMessage, userID string) (json.RawMessage, error)
}

// Manager is the tool layer facade: discovery, indexing, access filtering,
// and execution with a re-check.
type Manager struct {
	client  Orchestrator
	access  *AccessController
	pool    *Pool
	cache   *cache.Client
	logger  *observability.Logger
	metrics *observability.Metrics

	// shared is the unfiltered catalog used when the worker pool is full.
	mu     sync.RWMutex
	shared []models.ToolDescriptor
}

// NewManager wires the tool layer.
func NewManager(cfg config.MCPConfig, client Orchestrator, access *AccessController, cacheClient *cache.Client, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		client:  client,
		access:  access,
		pool:    NewPool(cfg.MaxUserWorkers, cfg.WorkerIdleTimeout, cfg.WorkerSweepInterval, logger),
		cache:   cacheClient,
		logger:  logger,
		metrics: metrics,
	}
}

// Close stops the worker pool.
func (m *Manager) Close() {
	m.pool.Stop()
}

func enabledKey(serverID string) string {
	return "mcp:" + serverID + ":enabled"
}

// SetServerEnabled persists the server's enabled state so it survives
// restarts.
func (m *Manager) SetServerEnabled(ctx context.Context, serverID string, enabled bool) error {
	if m.cache == nil || !m.cache.IsConnected() {
		return cache.ErrDisconnected
	}
	return m.cache.Set(ctx, enabledKey(serverID), enabled, 0)
}

// serverEnabled resolves the persisted enabled state, defaulting to the
// orchestrator-reported state when no override exists.
func (m *Manager) serverEnabled(ctx context.Context, server models.MCPServer) bool {
	if m.cache == nil || !m.cache.IsConnected() {
		return server.Enabled
	}
	var enabled bool
	err := m.cache.Get(ctx, enabledKey(server.ID), &enabled)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) && !errors.Is(err, cache.ErrDisconnected) {
			m.logger.Debug(ctx, "enabled-state lookup failed", "server_id", server.ID, "error", err.Error())
		}
		return server.Enabled
	}
	return enabled
}

// DiscoverTools returns the user's permitted tool catalog, indexed with
// generated tags. Results are cached on the user's worker; at pool capacity
// the shared catalog is filtered per call instead.
func (m *Manager) DiscoverTools(ctx context.Context, user *models.User) ([]models.ToolDescriptor, error) {
	w := m.pool.Acquire(user.ID)
	if w != nil {
		if cached := m.pool.Tools(user.ID); cached != nil {
			return cached, nil
		}
	}

	all, err := m.discoverAll(ctx)
	if err != nil {
		// A stale shared catalog beats an empty tool list.
		m.mu.RLock()
		stale := m.shared
		m.mu.RUnlock()
		if stale == nil {
			return nil, err
		}
		m.logger.Warn(ctx, "tool discovery failed, serving stale catalog", "error", err.Error())
		all = stale
	} else {
		m.mu.Lock()
		m.shared = all
		m.mu.Unlock()
	}

	filtered := m.access.FilterTools(ctx, user, all)
	if w != nil {
		m.pool.SetTools(user.ID, filtered)
	}
	return filtered, nil
}

func (m *Manager) discoverAll(ctx context.Context) ([]models.ToolDescriptor, error) {
	servers, err := m.client.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: list servers: %w", err)
	}

	var all []models.ToolDescriptor
	for _, server := range servers {
		if !m.serverEnabled(ctx, server) || server.Status != models.ServerStatusRunning {
			continue
		}
		tools, err := m.client.GetServerTools(ctx, server.ID)
		if err != nil {
			m.logger.Warn(ctx, "tool listing failed for server, skipping",
				"server_id", server.ID, "error", err.Error())
			continue
		}
		for i := range tools {
			tools[i].Tags = GenerateTags(tools[i].Name)
		}
		all = append(all, tools...)
	}
	return all, nil
}

// Execute runs one tool call after re-checking access. A turn that lost
// access between discovery and execution fails with ErrToolDenied.
func (m *Manager) Execute(ctx context.Context, user *models.User, toolID string, args json.RawMessage) (json.RawMessage, error) {
	serverID, tool, ok := splitToolID(toolID)
	if !ok {
		return nil, fmt.Errorf("mcp: malformed tool id %q", toolID)
	}
	if !m.access.Allowed(ctx, serverID, user) {
		m.metrics.ToolExecutions.WithLabelValues(serverID, "denied").Inc()
		return nil, fmt.Errorf("%w: %s", ErrToolDenied, toolID)
	}

	result, err := m.client.ExecuteTool(ctx, serverID, tool, args, user.ID)
	if err != nil {
		m.metrics.ToolExecutions.WithLabelValues(serverID, "error").Inc()
		return nil, err
	}
	m.metrics.ToolExecutions.WithLabelValues(serverID, "success").Inc()
	return result, nil
}

// splitToolID breaks "<server>.<name>" at the first dot; tool names may
// themselves contain dots.
func splitToolID(id string) (serverID, tool string, ok bool) {
	idx := strings.Index(id, ".")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", false
	}
	return id[:idx], id[idx+1:], true
}
