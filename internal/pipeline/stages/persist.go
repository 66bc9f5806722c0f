package stages

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
	"github.com/arcfault/switchboard/internal/store"
	"github.com/arcfault/switchboard/pkg/models"
)

// sessionTitleMax truncates the auto-generated session title.
const sessionTitleMax = 80

// Persist writes the turn's user and assistant messages to the durable
// log. Failure marks the turn not-persisted; the stream still completes
// so the user keeps the response they already saw.
type Persist struct {
	pipeline.BaseStage
	store  store.Store
	logger *observability.Logger
}

// NewPersist creates the persistence stage.
func NewPersist(st store.Store, logger *observability.Logger) *Persist {
	return &Persist{store: st, logger: logger}
}

func (s *Persist) Name() string                   { return "persist" }
func (s *Persist) Policy() pipeline.FailurePolicy { return pipeline.WarnContinue }

func (s *Persist) Run(ctx context.Context, pc *pipeline.PipelineContext, _ *pipeline.EventStream) error {
	if s.store == nil {
		return nil
	}
	if err := s.persist(ctx, pc); err != nil {
		pc.NotPersisted = true
		s.logger.Error(ctx, "turn not persisted", "error", err.Error())
		return pipeline.Errf(pipeline.KindPersistFailed, "turn was not persisted", err)
	}
	return nil
}

func (s *Persist) persist(ctx context.Context, pc *pipeline.PipelineContext) error {
	now := time.Now()
	req := pc.Request

	if err := s.ensureSession(ctx, pc, now); err != nil {
		return err
	}

	userTurn := &models.Turn{
		ID:        pc.TurnID + ":user",
		SessionID: req.SessionID,
		Role:      models.RoleUser,
		Content:   pc.LastUserText(),
		CreatedAt: now,
	}
	if err := s.appendTurn(ctx, userTurn); err != nil {
		return err
	}

	assistantTurn := &models.Turn{
		ID:        pc.TurnID + ":assistant",
		SessionID: req.SessionID,
		Role:      models.RoleAssistant,
		CreatedAt: now,
	}
	if pc.Response != nil {
		assistantTurn.Content = pc.Response.Content
		assistantTurn.ToolCalls = pc.Response.ToolCalls
		assistantTurn.Model = pc.Response.Model
	}
	if err := s.appendTurn(ctx, assistantTurn); err != nil {
		return err
	}

	usage := &models.PromptUsage{
		SessionID:        req.SessionID,
		MessageID:        pc.TurnID,
		UserID:           req.UserID,
		HasMemoryContext: pc.MemoryPromptBlock != "",
		MCPToolsCount:    len(pc.Tools),
		CreatedAt:        now,
	}
	if pc.Assembled != nil {
		usage.SystemPromptLength = len(pc.Assembled.SystemPrompt)
		usage.TokensAdded = pc.Assembled.TotalTokens
	}
	return s.store.RecordPromptUsage(ctx, usage)
}

// ensureSession creates the session row on first use. Racing creators are
// fine; an existing row wins.
func (s *Persist) ensureSession(ctx context.Context, pc *pipeline.PipelineContext, now time.Time) error {
	_, err := s.store.GetSession(ctx, pc.Request.SessionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return s.store.CreateSession(ctx, &models.Session{
		ID:        pc.Request.SessionID,
		UserID:    pc.Request.UserID,
		Title:     sessionTitle(pc.LastUserText()),
		CreatedAt: now,
	})
}

// appendTurn tolerates retried writes of the same turn id.
func (s *Persist) appendTurn(ctx context.Context, turn *models.Turn) error {
	err := s.store.AppendTurn(ctx, turn)
	if errors.Is(err, store.ErrFinalized) {
		return nil
	}
	return err
}

func sessionTitle(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= sessionTitleMax {
		return text
	}
	return strings.TrimSpace(text[:sessionTitleMax])
}
