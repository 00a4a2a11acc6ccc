package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client on top of the Anthropic Messages API.
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	idleTimeout time.Duration
}

// NewAnthropicClient creates a new Anthropic client. idleTimeout bounds each
// wait for data from the API, not the whole response; zero disables it.
func NewAnthropicClient(apiKey, model string, idleTimeout time.Duration, opts ...option.RequestOption) *AnthropicClient {
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{
		client:      anthropic.NewClient(reqOpts...),
		model:       model,
		idleTimeout: idleTimeout,
	}
}

// Stream makes a streaming Messages API call.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, ch chan<- StreamChunk) (*Response, error) {
	defer close(ch)

	ctx, watchdog := newIdleWatchdog(ctx, c.idleTimeout)
	defer watchdog.stop()

	stream := c.client.Messages.NewStreaming(ctx, c.buildParams(req))
	defer stream.Close()

	var message anthropic.Message
	// content block index -> tool call ordinal within this response
	toolIndex := make(map[int64]int)

	for stream.Next() {
		watchdog.reset()
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("accumulate stream event: %w", err)
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type != "tool_use" {
				continue
			}
			idx := len(toolIndex)
			toolIndex[ev.Index] = idx
			err := sendWatched(ctx, watchdog, ch, StreamChunk{ToolCall: &ToolCallDelta{
				Index: idx,
				ID:    ev.ContentBlock.ID,
				Name:  ev.ContentBlock.Name,
			}})
			if err != nil {
				return nil, watchdog.err(ctx, err)
			}

		case anthropic.ContentBlockDeltaEvent:
			var err error
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					err = sendWatched(ctx, watchdog, ch, StreamChunk{Delta: delta.Text})
				}
			case anthropic.InputJSONDelta:
				if delta.PartialJSON != "" {
					err = sendWatched(ctx, watchdog, ch, StreamChunk{ToolCall: &ToolCallDelta{
						Index:     toolIndex[ev.Index],
						ArgsDelta: delta.PartialJSON,
					}})
				}
			}
			if err != nil {
				return nil, watchdog.err(ctx, err)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", watchdog.err(ctx, err))
	}

	return responseFromMessage(message)
}

func responseFromMessage(message anthropic.Message) (*Response, error) {
	resp := &Response{StopReason: string(message.StopReason)}
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			args := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return nil, fmt.Errorf("parse tool input for %s: %w", b.Name, err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCallResult{
				ID:   b.ID,
				Name: b.Name,
				Args: args,
			})
		}
	}
	return resp, nil
}

func (c *AnthropicClient) buildParams(req Request) anthropic.MessageNewParams {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			msgs = append(msgs, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			// System handled separately
			continue
		case "tool":
			// Consecutive tool results go back in a single user turn.
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			continue
		}
		flushResults()

		switch m.Role {
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flushResults()

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1000
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	for _, t := range req.Tools {
		schema := anthropic.ToolInputSchemaParam{Properties: map[string]any{}}
		if props, ok := t.Parameters["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := t.Parameters["required"].([]string); ok {
			schema.Required = required
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}

	return params
}
