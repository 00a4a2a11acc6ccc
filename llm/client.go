package llm

import "context"

// Client is the interface for LLM providers.
type Client interface {
	// Stream makes an LLM call and sends chunks to the channel as they
	// arrive. The channel is closed when streaming is complete. The returned
	// Response is the fully accumulated message.
	Stream(ctx context.Context, req Request, ch chan<- StreamChunk) (*Response, error)
}

// Message represents a chat message for the LLM.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []ToolCallInfo `json:"tool_calls,omitempty"`
}

// ToolCallInfo is a tool call attached to an assistant message.
type ToolCallInfo struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// ToolSchema describes a tool for the LLM.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the input to an LLM call.
type Request struct {
	Messages     []Message    `json:"messages"`
	Tools        []ToolSchema `json:"tools,omitempty"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	MaxTokens    int          `json:"max_tokens,omitempty"`
}

// Response is the full result of an LLM call.
type Response struct {
	Content    string           `json:"content"`
	ToolCalls  []ToolCallResult `json:"tool_calls,omitempty"`
	StopReason string           `json:"stop_reason,omitempty"`
}

// ToolCallResult is a parsed tool call from the LLM response.
type ToolCallResult struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// StreamChunk is a single chunk from a streaming LLM call. Exactly one of
// Delta or ToolCall is set.
type StreamChunk struct {
	Delta    string         `json:"delta,omitempty"`
	ToolCall *ToolCallDelta `json:"tool_call,omitempty"`
}

// ToolCallDelta is an incremental piece of a tool call. The first delta for a
// call carries ID and Name; later ones only carry argument JSON fragments.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	ArgsDelta string `json:"args,omitempty"`
}

func send(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) error {
	select {
	case ch <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
