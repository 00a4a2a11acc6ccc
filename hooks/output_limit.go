package hooks

import (
	"context"
	"fmt"

	"sandbox_server/agent"
)

// DefaultMaxToolOutput is the output size kept when no limit is configured.
const DefaultMaxToolOutput = 20_000

// OutputLimitHook truncates tool output before it is handed back to the
// model, so one noisy sandbox run cannot exhaust the context window.
type OutputLimitHook struct {
	agent.BaseHook
	maxBytes int
}

// NewOutputLimitHook creates a hook that keeps at most maxBytes of output.
func NewOutputLimitHook(maxBytes int) *OutputLimitHook {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxToolOutput
	}
	return &OutputLimitHook{maxBytes: maxBytes}
}

func (h *OutputLimitHook) Name() string { return "output_limit" }

func (h *OutputLimitHook) WrapToolCall(ctx context.Context, call agent.ToolCall, next agent.ToolCallFunc) (*agent.ToolResult, error) {
	result, err := next(ctx, call)
	if err != nil || result == nil || len(result.Output) <= h.maxBytes {
		return result, err
	}
	dropped := len(result.Output) - h.maxBytes
	result.Output = result.Output[:h.maxBytes] + fmt.Sprintf("\n... [truncated %d bytes]", dropped)
	return result, nil
}
