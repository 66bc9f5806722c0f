package stages

import (
	"context"
	"errors"
	"strings"

	"github.com/arcfault/switchboard/internal/assembly"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
	"github.com/arcfault/switchboard/internal/router"
)

// fallbackContextWindow is used when the assembly model is not yet in the
// catalog.
const fallbackContextWindow = 128000

// Context runs context assembly: topic classification, cached lookup,
// memory packing, and the tiered budget. Identity failures are fatal;
// cache trouble is a warning inside the engine.
type Context struct {
	pipeline.BaseStage
	engine       *assembly.Engine
	catalog      *router.Catalog
	systemPrompt string

	// defaultModel keys the context cache before routing has picked the
	// final model; the packed context is sized to its window.
	defaultModel string
	logger       *observability.Logger
}

// NewContext creates the context-assembly stage.
func NewContext(engine *assembly.Engine, catalog *router.Catalog, systemPrompt, defaultModel string, logger *observability.Logger) *Context {
	return &Context{
		engine:       engine,
		catalog:      catalog,
		systemPrompt: systemPrompt,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

func (s *Context) Name() string                   { return "context" }
func (s *Context) Policy() pipeline.FailurePolicy { return pipeline.Fatal }

func (s *Context) Run(ctx context.Context, pc *pipeline.PipelineContext, _ *pipeline.EventStream) error {
	window := fallbackContextWindow
	model := s.defaultModel
	if model == "" {
		model = "default"
	}
	if profile, ok := s.catalog.Get(model); ok {
		window = profile.Performance.MaxContextTokens
	}

	system := s.systemPrompt
	if pc.MemoryPromptBlock != "" {
		system = strings.TrimSpace(system + "\n\n" + pc.MemoryPromptBlock)
	}

	assembled, err := s.engine.Assemble(ctx, assembly.Request{
		UserID:        pc.User.ID,
		Model:         model,
		ContextWindow: window,
		SystemPrompt:  system,
		Messages:      pc.Request.Messages,
		Memories:      pc.RetrievedMemories,
		CacheEnabled:  pc.Request.Flags.CacheEnabled,
	})
	if err != nil {
		if errors.Is(err, assembly.ErrInvalidUser) || errors.Is(err, assembly.ErrInvalidModel) {
			return pipeline.Errf(pipeline.KindInvalidInput, err.Error(), err)
		}
		return pipeline.Errf(pipeline.KindInternal, "context assembly failed", err)
	}
	pc.Assembled = assembled
	return nil
}
