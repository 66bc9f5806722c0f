package store

import (
	"context"
	"sort"
	"sync"

	"github.com/arcfault/switchboard/pkg/models"
)

// Memory is an in-process Store used by tests and by deployments without a
// database URL. All methods copy on the way in and out.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	turns    map[string][]models.Turn
	turnIDs  map[string]struct{}
	usage    []models.PromptUsage
	memories map[string][]models.MemoryEntry
	servers  map[string]models.MCPServerConfig
	policies map[string][]models.AccessPolicy
	defaults map[models.DefaultPolicyType]models.DefaultPolicy
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]models.Session),
		turns:    make(map[string][]models.Turn),
		turnIDs:  make(map[string]struct{}),
		memories: make(map[string][]models.MemoryEntry),
		servers:  make(map[string]models.MCPServerConfig),
		policies: make(map[string][]models.AccessPolicy),
		defaults: make(map[models.DefaultPolicyType]models.DefaultPolicy),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *session
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *Memory) UserSessions(_ context.Context, userID string, limit int) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AppendTurn(_ context.Context, turn *models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.turnIDs[turn.ID]; dup {
		return ErrFinalized
	}
	m.turnIDs[turn.ID] = struct{}{}
	m.turns[turn.SessionID] = append(m.turns[turn.SessionID], *turn)
	return nil
}

func (m *Memory) SessionTurns(_ context.Context, sessionID string) ([]models.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := m.turns[sessionID]
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (m *Memory) RecordPromptUsage(_ context.Context, usage *models.PromptUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, *usage)
	return nil
}

// PromptUsageRows returns the recorded rows, newest last. Test helper.
func (m *Memory) PromptUsageRows() []models.PromptUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.PromptUsage, len(m.usage))
	copy(out, m.usage)
	return out
}

func (m *Memory) SaveMemory(_ context.Context, entry models.MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memories[entry.UserID] = append(m.memories[entry.UserID], entry)
	return nil
}

func (m *Memory) UserMemories(_ context.Context, userID string, limit int) ([]models.MemoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.memories[userID]
	out := make([]models.MemoryEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SaveServerConfig(_ context.Context, cfg *models.MCPServerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[cfg.ID] = *cfg
	return nil
}

func (m *Memory) ServerConfig(_ context.Context, serverID string) (*models.MCPServerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.servers[serverID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (m *Memory) SavePolicy(_ context.Context, policy *models.AccessPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bank := m.policies[policy.ServerID]
	for i := range bank {
		if bank[i].ID == policy.ID {
			bank[i] = *policy
			return nil
		}
	}
	m.policies[policy.ServerID] = append(bank, *policy)
	return nil
}

func (m *Memory) PoliciesForServer(_ context.Context, serverID string) ([]models.AccessPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bank := m.policies[serverID]
	out := make([]models.AccessPolicy, len(bank))
	copy(out, bank)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) SetDefaultPolicy(_ context.Context, policy models.DefaultPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults[policy.PolicyType] = policy
	return nil
}

func (m *Memory) DefaultPolicy(_ context.Context, policyType models.DefaultPolicyType) (*models.DefaultPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	policy, ok := m.defaults[policyType]
	if !ok {
		return nil, nil
	}
	return &policy, nil
}

var _ Store = (*Memory)(nil)
