package models

import (
	"encoding/json"
	"time"
)

// ToolDescriptor describes one MCP tool. ID is the dotted
// "<server>.<name>" form. Tags are generated at index time from the tool
// name and never contain the literal name itself.
type ToolDescriptor struct {
	ID          string          `json:"id"`
	ServerID    string          `json:"server_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
}

// ServerStatus is the runtime state of an MCP server.
type ServerStatus string

const (
	ServerStatusRunning  ServerStatus = "running"
	ServerStatusStopped  ServerStatus = "stopped"
	ServerStatusError    ServerStatus = "error"
	ServerStatusStarting ServerStatus = "starting"
)

// MCPServer is the runtime view of one tool server. Enabled-state is
// persisted in the KV store under mcp:<serverId>:enabled so it survives
// restarts.
type MCPServer struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Enabled bool             `json:"enabled"`
	Tools   []ToolDescriptor `json:"tools,omitempty"`
	Status  ServerStatus     `json:"status"`
}

// MCPServerConfig is the persisted configuration for a tool server.
type MCPServerConfig struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Enabled   bool              `json:"enabled"`
	CreatedAt time.Time         `json:"created_at"`
}

// AccessType is the decision carried by a policy.
type AccessType string

const (
	AccessAllow AccessType = "allow"
	AccessDeny  AccessType = "deny"
)

// AccessPolicy grants or denies a directory group access to a tool server.
// Lower Priority wins; CreatedAt breaks ties.
type AccessPolicy struct {
	ID             string     `json:"id"`
	ServerID       string     `json:"server_id"`
	AzureGroupID   string     `json:"azure_group_id"`
	AzureGroupName string     `json:"azure_group_name,omitempty"`
	AccessType     AccessType `json:"access_type"`
	Priority       int        `json:"priority"`
	IsEnabled      bool       `json:"is_enabled"`
	CreatedAt      time.Time  `json:"created_at"`
}

// DefaultPolicyType selects which fallback applies when no explicit policy
// matches.
type DefaultPolicyType string

const (
	DefaultPolicyAdmin DefaultPolicyType = "admin_default"
	DefaultPolicyUser  DefaultPolicyType = "user_default"
)

// DefaultPolicy is the fallback access decision per user class.
type DefaultPolicy struct {
	PolicyType    DefaultPolicyType `json:"policy_type"`
	DefaultAccess AccessType        `json:"default_access"`
}
