// Package providers implements the LLM Provider contract (SPEC_FULL.md §6):
// a uniform chat/stream interface over heterogeneous upstream APIs, so the
// agent loop never depends on a specific vendor's wire format.
package providers

import (
	"context"
	"time"
)

// Provider is the interface every LLM backend must implement. Errors from
// upstream calls never leak past Chat/ChatStream as a returned error except
// for context cancellation and truly unrecoverable transport failures after
// retries are exhausted — transient/4xx/5xx upstream failures are instead
// surfaced as a ChatResponse with FinishReason "error" so the agent loop can
// keep reasoning about the failure rather than crash (UpstreamFailure, see
// SPEC_FULL.md §7).
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)
	DefaultModel() string
	Name() string
}

// ThinkingCapable is implemented by providers that support an extended
// "thinking"/reasoning budget.
type ThinkingCapable interface {
	SupportsThinking() bool
}

// Option keys accepted in ChatRequest.Options.
const (
	OptMaxTokens      = "max_tokens"
	OptTemperature    = "temperature"
	OptThinkingLevel  = "thinking_level"
)

// ChatRequest is the input to Chat/ChatStream.
type ChatRequest struct {
	Messages []Message
	Tools    []ToolDefinition
	Model    string
	Options  map[string]interface{}
}

// ChatResponse is the normalized result of an LLM call.
type ChatResponse struct {
	Content             string
	ReasoningContent    string
	ToolCalls           []ToolCall
	FinishReason        string // "stop", "tool_calls", "length", "error"
	Usage               *Usage
	RawAssistantContent []byte // opaque provider-native content blocks, passed back verbatim on the next turn
}

// HasToolCalls reports whether the response requests tool execution.
func (r *ChatResponse) HasToolCalls() bool { return r != nil && len(r.ToolCalls) > 0 }

// StreamChunk is one piece of a streaming response.
type StreamChunk struct {
	Content  string
	Thinking string
}

// ImageContent is a base64-encoded image for vision-capable models.
type ImageContent struct {
	MimeType string
	Data     string
}

// Message is one entry in a chat conversation. The Timestamp field is
// carried for session-archive persistence (SPEC_FULL.md §3 SessionMessage)
// and ignored by provider wire encoders.
type Message struct {
	Role                string         `json:"role"` // system, user, assistant, tool
	Content             string         `json:"content"`
	Images              []ImageContent `json:"-"`
	ToolCalls           []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID          string         `json:"tool_call_id,omitempty"`
	Name                string         `json:"name,omitempty"`
	ReasoningContent    string         `json:"reasoning_content,omitempty"`
	RawAssistantContent []byte         `json:"-"`
	Timestamp           time.Time      `json:"timestamp,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// ToolDefinition is the wire shape for a tool offered to the model.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema describes a single callable tool.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption for a single call.
type Usage struct {
	PromptTokens        int
	CompletionTokens    int
	TotalTokens         int
	ThinkingTokens       int
	CacheCreationTokens int
	CacheReadTokens     int
}
