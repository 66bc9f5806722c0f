// Package models contains the shared domain types for the gateway core:
// identity, messages, memory, context assembly, model profiles, tools,
// policies, pricing, and the turn event stream.
package models

import "encoding/json"

// Role identifies the author of a message or turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPartType tags a ContentPart variant.
type ContentPartType string

const (
	ContentText  ContentPartType = "text"
	ContentImage ContentPartType = "image"
)

// ContentPart is one element of a multi-part message body. Exactly one of
// Text or ImageURL is populated, according to Type.
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
}

// Message is the canonical message shape the core produces and consumes.
// Content holds plain text; Parts holds multi-part content for vision
// requests. When Parts is non-empty it takes precedence over Content.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// HasImage reports whether any part of the message is an image.
func (m *Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == ContentImage {
			return true
		}
	}
	return false
}

// Text returns the textual content of the message, flattening parts.
func (m *Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == ContentText {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// ToolCall is a request from the model to execute a tool. Arguments is the
// raw JSON argument object; parse failures upstream are normalized to "{}".
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultPayload carries the outcome of one tool execution back into the
// conversation.
type ToolResultPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
