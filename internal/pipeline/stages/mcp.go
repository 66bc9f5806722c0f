package stages

import (
	"context"

	"github.com/arcfault/switchboard/internal/mcp"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
)

// MCP discovers the user's permitted tool catalog. Discovery failure is a
// warning; the turn proceeds without tools.
type MCP struct {
	pipeline.BaseStage
	manager *mcp.Manager
	logger  *observability.Logger
}

// NewMCP creates the tool-discovery stage.
func NewMCP(manager *mcp.Manager, logger *observability.Logger) *MCP {
	return &MCP{manager: manager, logger: logger}
}

func (s *MCP) Name() string                   { return "mcp" }
func (s *MCP) Policy() pipeline.FailurePolicy { return pipeline.WarnContinue }

func (s *MCP) Run(ctx context.Context, pc *pipeline.PipelineContext, _ *pipeline.EventStream) error {
	if !pc.Request.Flags.EnableMCP || s.manager == nil {
		return nil
	}
	tools, err := s.manager.DiscoverTools(ctx, pc.User)
	if err != nil {
		return pipeline.Errf(pipeline.KindInternal, "tool discovery failed", err)
	}
	pc.Tools = tools
	return nil
}
