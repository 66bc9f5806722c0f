package stages

import (
	"context"
	"encoding/json"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/internal/pipeline"
	"github.com/arcfault/switchboard/internal/providers"
	"github.com/arcfault/switchboard/pkg/models"
)

// LLM streams the completion from the routed provider, relaying deltas to
// the event stream and aggregating the final response for persistence.
type LLM struct {
	pipeline.BaseStage
	manager *providers.Manager
	logger  *observability.Logger
}

// NewLLM creates the completion stage.
func NewLLM(manager *providers.Manager, logger *observability.Logger) *LLM {
	return &LLM{manager: manager, logger: logger}
}

func (s *LLM) Name() string                   { return "llm" }
func (s *LLM) Policy() pipeline.FailurePolicy { return pipeline.Fatal }

func (s *LLM) Run(ctx context.Context, pc *pipeline.PipelineContext, events *pipeline.EventStream) error {
	if pc.Routing == nil {
		return pipeline.Errf(pipeline.KindInternal, "no routing decision", nil)
	}

	req := &providers.Request{
		Model:    pc.Routing.ModelID,
		Messages: pc.Request.Messages,
		Tools:    toolDefinitions(pc.Tools),
	}
	if pc.Assembled != nil {
		req.System = pc.Assembled.SystemPrompt
		if pc.Assembled.ContextPrompt != "" {
			req.System += "\n\n" + pc.Assembled.ContextPrompt
		}
	}

	ch, served, err := s.manager.Complete(ctx, pc.Routing.Provider, req)
	if err != nil {
		return pipeline.Errf(pipeline.KindFromProviderError(err), "completion failed", err)
	}
	pc.ServedProvider = served

	resp := &providers.Response{FinishReason: models.FinishStop, Model: pc.Routing.ModelID}
	for chunk := range ch {
		switch {
		case chunk.Err != nil:
			// Drain the channel so the producer goroutine can exit.
			for range ch {
			}
			return pipeline.Errf(pipeline.KindFromProviderError(chunk.Err), "completion failed", chunk.Err)

		case chunk.ToolCall != nil:
			call := *chunk.ToolCall
			if len(call.Arguments) > 0 && !json.Valid(call.Arguments) {
				s.logger.Warn(ctx, "unparsable tool call arguments, substituting empty object",
					"tool", call.Name)
				call.Arguments = json.RawMessage("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, call)
			events.Emit(models.TurnEvent{Type: models.EventToolCallDelta, ToolCall: &call})

		case chunk.Done:
			if chunk.FinishReason != "" {
				resp.FinishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}

		case chunk.Text != "":
			resp.Content += chunk.Text
			events.Emit(models.TurnEvent{Type: models.EventTextDelta, TextDelta: chunk.Text})
		}
	}

	if resp.Usage.TotalTokens == 0 {
		// Backends that do not report usage get the estimate the budget uses.
		resp.Usage.PromptTokens = providers.EstimateTokens(req.System) + messageTokens(pc.Request.Messages)
		resp.Usage.CompletionTokens = providers.EstimateTokens(resp.Content)
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	if len(resp.ToolCalls) > 0 && resp.FinishReason == models.FinishStop {
		resp.FinishReason = models.FinishToolCalls
	}
	pc.Response = resp
	return nil
}

func toolDefinitions(tools []models.ToolDescriptor) []providers.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]providers.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, providers.ToolDefinition{
			Name:        t.ID,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return defs
}

func messageTokens(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += providers.EstimateTokens(m.Text())
	}
	return total
}
