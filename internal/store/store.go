// Package store persists the gateway's durable state: sessions, the
// append-only turn log, prompt-usage rows, tool-server configuration with
// access policies, and promoted memories.
package store

import (
	"context"
	"errors"

	"github.com/arcfault/switchboard/pkg/models"
)

// ErrNotFound is returned for lookups of absent rows.
var ErrNotFound = errors.New("store: not found")

// ErrFinalized is returned when a caller tries to rewrite a persisted turn.
var ErrFinalized = errors.New("store: turn already persisted")

// Store is the durable persistence surface. The Postgres implementation
// backs production; Memory backs tests.
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UserSessions(ctx context.Context, userID string, limit int) ([]models.Session, error)

	// AppendTurn writes one turn. Turns are append-only; writing an ID
	// twice fails with ErrFinalized.
	AppendTurn(ctx context.Context, turn *models.Turn) error
	SessionTurns(ctx context.Context, sessionID string) ([]models.Turn, error)

	RecordPromptUsage(ctx context.Context, usage *models.PromptUsage) error

	// SaveMemory archives a promoted memory entry.
	SaveMemory(ctx context.Context, entry models.MemoryEntry) error
	UserMemories(ctx context.Context, userID string, limit int) ([]models.MemoryEntry, error)

	SaveServerConfig(ctx context.Context, cfg *models.MCPServerConfig) error
	// ServerConfig returns nil with no error for unconfigured servers; the
	// access layer treats that as permissive.
	ServerConfig(ctx context.Context, serverID string) (*models.MCPServerConfig, error)

	SavePolicy(ctx context.Context, policy *models.AccessPolicy) error
	PoliciesForServer(ctx context.Context, serverID string) ([]models.AccessPolicy, error)

	SetDefaultPolicy(ctx context.Context, policy models.DefaultPolicy) error
	DefaultPolicy(ctx context.Context, policyType models.DefaultPolicyType) (*models.DefaultPolicy, error)

	Close() error
}
