package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/pkg/models"
)

// Postgres is the production store.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects and verifies the connection.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Postgres{db: db}, nil
}

// EnsureSchema creates the tables if absent.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_user_idx ON sessions (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			tool_calls JSONB,
			model      TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS turns_session_idx ON turns (session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS prompt_usage (
			session_id           TEXT NOT NULL,
			message_id           TEXT NOT NULL,
			user_id              TEXT NOT NULL,
			base_template_id     TEXT,
			domain_template_id   TEXT,
			system_prompt_length INT NOT NULL,
			techniques_applied   TEXT[],
			tokens_added         INT NOT NULL,
			has_formatting       BOOLEAN NOT NULL,
			has_mcp_context      BOOLEAN NOT NULL,
			has_rag_context      BOOLEAN NOT NULL,
			has_memory_context   BOOLEAN NOT NULL,
			rag_docs_count       INT NOT NULL,
			mcp_tools_count      INT NOT NULL,
			created_at           TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, message_id)
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			session_id TEXT,
			type       TEXT NOT NULL,
			content    TEXT NOT NULL,
			importance DOUBLE PRECISION NOT NULL,
			keywords   TEXT[],
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS memories_user_idx ON memories (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS mcp_servers (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			command    TEXT,
			args       TEXT[],
			env        JSONB,
			url        TEXT,
			enabled    BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS access_policies (
			id               TEXT PRIMARY KEY,
			server_id        TEXT NOT NULL,
			azure_group_id   TEXT NOT NULL,
			azure_group_name TEXT,
			access_type      TEXT NOT NULL,
			priority         INT NOT NULL,
			is_enabled       BOOLEAN NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS access_policies_server_idx ON access_policies (server_id, priority, created_at)`,
		`CREATE TABLE IF NOT EXISTS default_policies (
			policy_type    TEXT PRIMARY KEY,
			default_access TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, created_at) VALUES ($1, $2, $3, $4)`,
		session.ID, session.UserID, session.Title, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var s models.Session
	err := p.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.UserID, &s.Title, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return &s, nil
}

func (p *Postgres) UserSessions(ctx context.Context, userID string, limit int) ([]models.Session, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at FROM sessions
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: user sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendTurn(ctx context.Context, turn *models.Turn) error {
	var toolCalls []byte
	if len(turn.ToolCalls) > 0 {
		var err error
		toolCalls, err = json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("store: marshal tool calls: %w", err)
		}
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, role, content, tool_calls, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		turn.ID, turn.SessionID, string(turn.Role), turn.Content, toolCalls,
		nullable(turn.Model), turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFinalized
	}
	return nil
}

func (p *Postgres) SessionTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tool_calls, model, created_at
		 FROM turns WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: session turns: %w", err)
	}
	defer rows.Close()

	var out []models.Turn
	for rows.Next() {
		var (
			t         models.Turn
			toolCalls []byte
			model     sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Role, &t.Content, &toolCalls, &model, &t.CreatedAt); err != nil {
			return nil, err
		}
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("store: unmarshal tool calls: %w", err)
			}
		}
		t.Model = model.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) RecordPromptUsage(ctx context.Context, usage *models.PromptUsage) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO prompt_usage (
			session_id, message_id, user_id, base_template_id, domain_template_id,
			system_prompt_length, techniques_applied, tokens_added, has_formatting,
			has_mcp_context, has_rag_context, has_memory_context, rag_docs_count,
			mcp_tools_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		usage.SessionID, usage.MessageID, usage.UserID,
		nullable(usage.BaseTemplateID), nullable(usage.DomainTemplateID),
		usage.SystemPromptLength, pq.Array(usage.TechniquesApplied),
		usage.TokensAdded, usage.HasFormatting, usage.HasMCPContext,
		usage.HasRAGContext, usage.HasMemoryContext, usage.RAGDocsCount,
		usage.MCPToolsCount, usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: record prompt usage: %w", err)
	}
	return nil
}

func (p *Postgres) SaveMemory(ctx context.Context, entry models.MemoryEntry) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, session_id, type, content, importance, keywords, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, importance = EXCLUDED.importance`,
		entry.ID, entry.UserID, nullable(entry.SessionID), string(entry.Type),
		entry.Content, entry.Importance, pq.Array(entry.Keywords), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("store: save memory: %w", err)
	}
	return nil
}

func (p *Postgres) UserMemories(ctx context.Context, userID string, limit int) ([]models.MemoryEntry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, type, content, importance, keywords, created_at
		 FROM memories WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: user memories: %w", err)
	}
	defer rows.Close()

	var out []models.MemoryEntry
	for rows.Next() {
		var (
			e         models.MemoryEntry
			sessionID sql.NullString
			keywords  pq.StringArray
		)
		if err := rows.Scan(&e.ID, &e.UserID, &sessionID, &e.Type, &e.Content, &e.Importance, &keywords, &e.Timestamp); err != nil {
			return nil, err
		}
		e.SessionID = sessionID.String
		e.Keywords = keywords
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveServerConfig(ctx context.Context, cfg *models.MCPServerConfig) error {
	env, err := json.Marshal(cfg.Env)
	if err != nil {
		return fmt.Errorf("store: marshal server env: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO mcp_servers (id, name, command, args, env, url, enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, command = EXCLUDED.command, args = EXCLUDED.args,
			env = EXCLUDED.env, url = EXCLUDED.url, enabled = EXCLUDED.enabled`,
		cfg.ID, cfg.Name, nullable(cfg.Command), pq.Array(cfg.Args), env,
		nullable(cfg.URL), cfg.Enabled, cfg.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save server config: %w", err)
	}
	return nil
}

func (p *Postgres) ServerConfig(ctx context.Context, serverID string) (*models.MCPServerConfig, error) {
	var (
		cfg          models.MCPServerConfig
		command, url sql.NullString
		args         pq.StringArray
		env          []byte
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, command, args, env, url, enabled, created_at
		 FROM mcp_servers WHERE id = $1`, serverID).
		Scan(&cfg.ID, &cfg.Name, &command, &args, &env, &url, &cfg.Enabled, &cfg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: server config: %w", err)
	}
	cfg.Command = command.String
	cfg.URL = url.String
	cfg.Args = args
	if len(env) > 0 {
		if err := json.Unmarshal(env, &cfg.Env); err != nil {
			return nil, fmt.Errorf("store: unmarshal server env: %w", err)
		}
	}
	return &cfg, nil
}

func (p *Postgres) SavePolicy(ctx context.Context, policy *models.AccessPolicy) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO access_policies (id, server_id, azure_group_id, azure_group_name, access_type, priority, is_enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			access_type = EXCLUDED.access_type, priority = EXCLUDED.priority,
			is_enabled = EXCLUDED.is_enabled`,
		policy.ID, policy.ServerID, policy.AzureGroupID, nullable(policy.AzureGroupName),
		string(policy.AccessType), policy.Priority, policy.IsEnabled, policy.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: save policy: %w", err)
	}
	return nil
}

func (p *Postgres) PoliciesForServer(ctx context.Context, serverID string) ([]models.AccessPolicy, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, server_id, azure_group_id, azure_group_name, access_type, priority, is_enabled, created_at
		 FROM access_policies WHERE server_id = $1 ORDER BY priority, created_at`, serverID)
	if err != nil {
		return nil, fmt.Errorf("store: policies for server: %w", err)
	}
	defer rows.Close()

	var out []models.AccessPolicy
	for rows.Next() {
		var (
			pol       models.AccessPolicy
			groupName sql.NullString
		)
		if err := rows.Scan(&pol.ID, &pol.ServerID, &pol.AzureGroupID, &groupName, &pol.AccessType, &pol.Priority, &pol.IsEnabled, &pol.CreatedAt); err != nil {
			return nil, err
		}
		pol.AzureGroupName = groupName.String
		out = append(out, pol)
	}
	return out, rows.Err()
}

func (p *Postgres) SetDefaultPolicy(ctx context.Context, policy models.DefaultPolicy) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO default_policies (policy_type, default_access) VALUES ($1, $2)
		 ON CONFLICT (policy_type) DO UPDATE SET default_access = EXCLUDED.default_access`,
		string(policy.PolicyType), string(policy.DefaultAccess))
	if err != nil {
		return fmt.Errorf("store: set default policy: %w", err)
	}
	return nil
}

func (p *Postgres) DefaultPolicy(ctx context.Context, policyType models.DefaultPolicyType) (*models.DefaultPolicy, error) {
	var policy models.DefaultPolicy
	err := p.db.QueryRowContext(ctx,
		`SELECT policy_type, default_access FROM default_policies WHERE policy_type = $1`,
		string(policyType)).
		Scan(&policy.PolicyType, &policy.DefaultAccess)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: default policy: %w", err)
	}
	return &policy, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*Postgres)(nil)
