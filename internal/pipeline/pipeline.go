// Package pipeline runs the ordered stage list for one turn: session
// locking, sequential stage execution with per-stage timeouts, reverse
// rollback on fatal failure, and the bounded FIFO event stream that always
// terminates with a done event.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcfault/switchboard/internal/cache"
	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// Pipeline executes turns. Safe for concurrent use; each turn gets its own
// PipelineContext and event stream.
type Pipeline struct {
	stages  []Stage
	cfg     config.PipelineConfig
	cache   *cache.Client
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New assembles the pipeline over an ordered stage list.
func New(stages []Stage, cfg config.PipelineConfig, cacheClient *cache.Client, logger *observability.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		stages:  stages,
		cfg:     cfg,
		cache:   cacheClient,
		logger:  logger,
		metrics: metrics,
	}
}

// Run starts one turn and returns its event stream. The stream always
// terminates with a done event; Run itself only fails on a nil request.
func (p *Pipeline) Run(ctx context.Context, req *models.TurnRequest) (<-chan models.TurnEvent, error) {
	if req == nil {
		return nil, errors.New("pipeline: nil request")
	}
	events := NewEventStream(p.cfg.EventBuffer)
	go p.execute(ctx, req, events)
	return events.Events(), nil
}

func (p *Pipeline) execute(ctx context.Context, req *models.TurnRequest, events *EventStream) {
	pc := &PipelineContext{
		TurnID:    uuid.NewString(),
		Request:   req,
		StartedAt: time.Now(),
	}
	ctx = observability.WithTurnID(ctx, pc.TurnID)
	if req.SessionID != "" {
		ctx = observability.WithSessionID(ctx, req.SessionID)
	}

	if err := validate(req); err != nil {
		p.finishError(ctx, pc, events, err)
		return
	}

	// Turns within a session run in creation order; the session lock
	// serializes them. Lock TTL outlives the turn timeout so a crashed
	// holder cannot wedge the session forever.
	lockKey := "session:" + req.SessionID
	lockValue := pc.TurnID
	lockTTL := p.cfg.TurnTimeout + 30*time.Second
	ok, err := p.cache.AcquireLockWait(ctx, lockKey, lockValue, lockTTL, p.cfg.SessionLockWait)
	if err != nil || !ok {
		p.metrics.TurnCounter.WithLabelValues("busy").Inc()
		p.finishError(ctx, pc, events, Errf(KindBusy, "another turn is active in this session", err))
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = p.cache.ReleaseLock(releaseCtx, lockKey, lockValue)
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.TurnTimeout)
	defer cancel()

	var executed []Stage
	for _, stage := range p.stages {
		if ctx.Err() != nil {
			p.finishCanceled(ctx, pc, events, executed)
			return
		}

		events.StageStatus(stage.Name(), "running")
		start := time.Now()
		err := p.runStage(ctx, stage, pc, events)
		status := "ok"

		switch {
		case err == nil:
			executed = append(executed, stage)

		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			p.observeStage(stage.Name(), "error", start)
			p.finishCanceled(ctx, pc, events, executed)
			return

		case KindOf(err).NonFatal() || stage.Policy() == WarnContinue:
			status = "warn"
			events.Warn(KindOf(err), userMessage(err))
			p.logger.Warn(ctx, "stage failed, continuing",
				"stage", stage.Name(), "kind", string(KindOf(err)), "error", err.Error())
			executed = append(executed, stage)

		case stage.Policy() == SkipDownstream:
			status = "warn"
			events.Warn(KindOf(err), userMessage(err))
			p.observeStage(stage.Name(), status, start)
			events.StageStatus(stage.Name(), status)
			p.finishDone(ctx, pc, events)
			return

		default:
			p.observeStage(stage.Name(), "error", start)
			events.StageStatus(stage.Name(), "error")
			p.rollback(ctx, pc, executed)
			p.finishError(ctx, pc, events, err)
			return
		}

		p.observeStage(stage.Name(), status, start)
		events.StageStatus(stage.Name(), status)
	}

	p.finishDone(ctx, pc, events)
}

// runStage applies the per-stage timeout and converts panics into internal
// errors so one turn cannot take the process down.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, pc *PipelineContext, events *EventStream) (err error) {
	timeout := p.cfg.StageTimeout
	if override, ok := p.cfg.StageTimeouts[stage.Name()]; ok {
		timeout = override
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = Errf(KindInternal, "stage panic", fmt.Errorf("%s: %v", stage.Name(), r))
		}
	}()
	return stage.Run(stageCtx, pc, events)
}

func (p *Pipeline) rollback(ctx context.Context, pc *PipelineContext, executed []Stage) {
	for i := len(executed) - 1; i >= 0; i-- {
		stage := executed[i]
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error(ctx, "rollback panic", "stage", stage.Name(), "panic", fmt.Sprint(r))
				}
			}()
			stage.Rollback(ctx, pc)
		}()
	}
}

func (p *Pipeline) finishDone(ctx context.Context, pc *PipelineContext, events *EventStream) {
	ev := models.TurnEvent{
		FinishReason: pc.FinishReason(),
		NotPersisted: pc.NotPersisted,
	}
	if pc.Response != nil {
		ev.Usage = &pc.Response.Usage
		ev.ModelID = pc.Response.Model
	}
	if pc.NotPersisted {
		ev.Error = &models.ErrorInfo{Kind: string(KindPersistFailed), Message: "turn was not persisted"}
	}
	p.metrics.TurnCounter.WithLabelValues(string(pc.FinishReason())).Inc()
	events.EmitDone(ev)
}

func (p *Pipeline) finishError(ctx context.Context, pc *PipelineContext, events *EventStream, err error) {
	kind := KindOf(err)
	p.logger.Error(ctx, "turn failed", "kind", string(kind), "error", err.Error())
	p.metrics.TurnCounter.WithLabelValues("error").Inc()
	events.EmitDone(models.TurnEvent{
		FinishReason: models.FinishError,
		Error:        &models.ErrorInfo{Kind: string(kind), Message: userMessage(err)},
	})
}

func (p *Pipeline) finishCanceled(ctx context.Context, pc *PipelineContext, events *EventStream, executed []Stage) {
	p.rollback(ctx, pc, executed)
	p.metrics.TurnCounter.WithLabelValues("canceled").Inc()
	events.EmitDone(models.TurnEvent{FinishReason: models.FinishCanceled})
}

func (p *Pipeline) observeStage(name, status string, start time.Time) {
	p.metrics.StageDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
}

func validate(req *models.TurnRequest) error {
	if strings.TrimSpace(req.UserID) == "" && req.BearerToken == "" {
		return Errf(KindInvalidInput, "missing user identity", nil)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return Errf(KindInvalidInput, "missing session id", nil)
	}
	if len(req.Messages) == 0 {
		return Errf(KindInvalidInput, "missing messages", nil)
	}
	return nil
}

// CollectResponse aggregates a turn's event stream for non-streaming
// callers. It blocks until the done event.
func CollectResponse(events <-chan models.TurnEvent) *models.TurnResponse {
	resp := &models.TurnResponse{}
	for ev := range events {
		switch ev.Type {
		case models.EventTextDelta:
			resp.Content += ev.TextDelta
		case models.EventToolCallDelta:
			if ev.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *ev.ToolCall)
			}
		case models.EventDone:
			resp.FinishReason = ev.FinishReason
			if ev.Usage != nil {
				resp.Usage = *ev.Usage
			}
			resp.ModelID = ev.ModelID
			resp.Error = ev.Error
		}
	}
	return resp
}
