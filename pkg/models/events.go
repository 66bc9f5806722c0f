package models

// TurnEventType identifies one event on the per-turn stream.
type TurnEventType string

const (
	EventTextDelta     TurnEventType = "text_delta"
	EventToolCallDelta TurnEventType = "tool_call_delta"
	EventToolResult    TurnEventType = "tool_result"
	EventStageStatus   TurnEventType = "stage_status"
	EventWarning       TurnEventType = "warning"
	EventDone          TurnEventType = "done"
)

// FinishReason terminates a turn stream.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
	FinishCanceled  FinishReason = "canceled"
)

// Usage is the token accounting reported on the done event.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorInfo is the user-visible error payload: a stable kind plus a short
// human message. Stack traces never appear here.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TurnEvent is one element of the single-producer/multi-consumer event
// stream for a turn. Ordering within a turn is FIFO.
type TurnEvent struct {
	Type TurnEventType `json:"type"`

	// TextDelta carries incremental assistant text for text_delta events.
	TextDelta string `json:"text_delta,omitempty"`

	// ToolCall carries the accumulated call for tool_call_delta events.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// ToolResult carries the outcome for tool_result events.
	ToolResult *ToolResultPayload `json:"tool_result,omitempty"`

	// Stage and StageState describe stage_status events.
	Stage      string `json:"stage,omitempty"`
	StageState string `json:"stage_state,omitempty"`

	// Warning carries non-fatal trouble for warning events.
	Warning *ErrorInfo `json:"warning,omitempty"`

	// Done fields. FinishReason is always set on done events; Error only
	// when FinishReason is "error".
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
	ModelID      string       `json:"model_id,omitempty"`
	Error        *ErrorInfo   `json:"error,omitempty"`
	NotPersisted bool         `json:"not_persisted,omitempty"`
}

// TurnFlags toggles optional pipeline behavior per request.
type TurnFlags struct {
	EnableMemory bool          `json:"enable_memory"`
	EnableRAG    bool          `json:"enable_rag"`
	EnableMCP    bool          `json:"enable_mcp"`
	Slider       *SliderConfig `json:"slider_config,omitempty"`
	CacheEnabled bool          `json:"cache_enabled"`
}

// TurnRequest is the primary turn interface: one user message plus session
// identity and flags.
type TurnRequest struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	Flags     TurnFlags `json:"flags"`

	// BearerToken is the raw identity token, resolved by the auth stage.
	BearerToken string `json:"-"`
}

// TurnResponse is the aggregated form for non-streaming callers.
type TurnResponse struct {
	Content      string       `json:"content"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
	ModelID      string       `json:"model_id"`
	Error        *ErrorInfo   `json:"error,omitempty"`
}
