package mcp

import (
	"context"
	"errors"
	"sort"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// ErrToolDenied is returned when policy forbids a tool for the user.
var ErrToolDenied = errors.New("mcp: tool_denied")

// PolicyStore supplies the persisted access-control state.
type PolicyStore interface {
	// ServerConfig returns nil with no error for unconfigured servers.
	ServerConfig(ctx context.Context, serverID string) (*models.MCPServerConfig, error)
	PoliciesForServer(ctx context.Context, serverID string) ([]models.AccessPolicy, error)
	DefaultPolicy(ctx context.Context, policyType models.DefaultPolicyType) (*models.DefaultPolicy, error)
}

// AccessController resolves whether a user may reach a tool server.
type AccessController struct {
	store  PolicyStore
	logger *observability.Logger
}

// NewAccessController creates the controller.
func NewAccessController(store PolicyStore, logger *observability.Logger) *AccessController {
	return &AccessController{store: store, logger: logger}
}

// Allowed resolves server access for the user. Unconfigured servers are
// allowed; this permissive mode is deliberate. Any lookup error denies.
func (a *AccessController) Allowed(ctx context.Context, serverID string, user *models.User) bool {
	allowed, err := a.resolve(ctx, serverID, user)
	if err != nil {
		a.logger.Warn(ctx, "access policy lookup failed, denying",
			"server_id", serverID, "user_id", user.ID, "error", err.Error())
		return false
	}
	return allowed
}

func (a *AccessController) resolve(ctx context.Context, serverID string, user *models.User) (bool, error) {
	cfg, err := a.store.ServerConfig(ctx, serverID)
	if err != nil {
		return false, err
	}
	if cfg == nil {
		return true, nil
	}
	if !cfg.Enabled {
		return false, nil
	}

	policies, err := a.store.PoliciesForServer(ctx, serverID)
	if err != nil {
		return false, err
	}
	matching := policies[:0:0]
	for _, p := range policies {
		if p.IsEnabled && user.InGroup(p.AzureGroupID) {
			matching = append(matching, p)
		}
	}
	if len(matching) > 0 {
		sort.SliceStable(matching, func(i, j int) bool {
			if matching[i].Priority != matching[j].Priority {
				return matching[i].Priority < matching[j].Priority
			}
			return matching[i].CreatedAt.Before(matching[j].CreatedAt)
		})
		return matching[0].AccessType == models.AccessAllow, nil
	}

	policyType := models.DefaultPolicyUser
	if user.IsAdmin {
		policyType = models.DefaultPolicyAdmin
	}
	def, err := a.store.DefaultPolicy(ctx, policyType)
	if err != nil {
		return false, err
	}
	if def == nil {
		return false, nil
	}
	return def.DefaultAccess == models.AccessAllow, nil
}

// FilterTools removes tools whose server the user may not reach. Access is
// resolved once per server, not per tool.
func (a *AccessController) FilterTools(ctx context.Context, user *models.User, tools []models.ToolDescriptor) []models.ToolDescriptor {
	verdicts := make(map[string]bool)
	out := make([]models.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		allowed, seen := verdicts[t.ServerID]
		if !seen {
			allowed = a.Allowed(ctx, t.ServerID, user)
			verdicts[t.ServerID] = allowed
		}
		if allowed {
			out = append(out, t)
		}
	}
	return out
}
