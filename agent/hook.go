package agent

import (
	"context"

	"sandbox_server/llm"
)

// ModelCallFunc is the signature for the "next" function in the model call chain.
type ModelCallFunc func(ctx context.Context, msgs []Message) (*llm.Response, error)

// ToolCallFunc is the signature for the "next" function in the tool call chain.
type ToolCallFunc func(ctx context.Context, call ToolCall) (*ToolResult, error)

// Hook is agent middleware in the onion ring pattern. Index 0 of an agent's
// hook list is the outermost layer.
type Hook interface {
	Name() string

	// WrapModelCall wraps each LLM call.
	WrapModelCall(ctx context.Context, msgs []Message, next ModelCallFunc) (*llm.Response, error)

	// WrapToolCall wraps each tool execution.
	WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error)
}

// BaseHook provides pass-through defaults for all hook methods.
// Embed this to only override the methods you need.
type BaseHook struct{}

func (BaseHook) Name() string { return "base" }

func (BaseHook) WrapModelCall(ctx context.Context, msgs []Message, next ModelCallFunc) (*llm.Response, error) {
	return next(ctx, msgs)
}

func (BaseHook) WrapToolCall(ctx context.Context, call ToolCall, next ToolCallFunc) (*ToolResult, error) {
	return next(ctx, call)
}
