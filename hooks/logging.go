package hooks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sandbox_server/agent"
	"sandbox_server/llm"
)

// LoggingHook logs every LLM call and tool call with its duration.
type LoggingHook struct {
	agent.BaseHook
	logger *zap.Logger
}

// NewLoggingHook creates a logging hook.
func NewLoggingHook(logger *zap.Logger) *LoggingHook {
	return &LoggingHook{logger: logger.Named("agent")}
}

func (h *LoggingHook) Name() string { return "logging" }

func (h *LoggingHook) WrapModelCall(ctx context.Context, msgs []agent.Message, next agent.ModelCallFunc) (*llm.Response, error) {
	start := time.Now()
	resp, err := next(ctx, msgs)
	fields := []zap.Field{
		zap.Int("message_count", len(msgs)),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		h.logger.Warn("llm call failed", append(fields, zap.Error(err))...)
		return resp, err
	}
	names := make([]string, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		names[i] = tc.Name
	}
	h.logger.Debug("llm call",
		append(fields,
			zap.Int("content_length", len(resp.Content)),
			zap.Strings("tool_calls", names),
			zap.String("stop_reason", resp.StopReason),
		)...)
	return resp, nil
}

func (h *LoggingHook) WrapToolCall(ctx context.Context, call agent.ToolCall, next agent.ToolCallFunc) (*agent.ToolResult, error) {
	start := time.Now()
	result, err := next(ctx, call)
	fields := []zap.Field{
		zap.String("tool_name", call.Name),
		zap.String("tool_call_id", call.ID),
		zap.Duration("elapsed", time.Since(start)),
	}
	switch {
	case err != nil:
		h.logger.Warn("tool call failed", append(fields, zap.Error(err))...)
	case result != nil && result.Error != "":
		h.logger.Info("tool call returned error", append(fields, zap.String("tool_error", result.Error))...)
	case result != nil:
		h.logger.Debug("tool call", append(fields, zap.Int("output_length", len(result.Output)))...)
	}
	return result, err
}
