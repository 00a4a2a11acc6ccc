package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainClient adapts a langchaingo model to Client. Text is streamed
// through the model's streaming func; tool calls only exist once the
// response is complete, so each one is forwarded as a single delta.
type LangChainClient struct {
	model       llms.Model
	idleTimeout time.Duration
}

// NewLangChainClient wraps an existing langchaingo model. idleTimeout
// bounds each wait for data from the model; zero disables it.
func NewLangChainClient(model llms.Model, idleTimeout time.Duration) *LangChainClient {
	return &LangChainClient{model: model, idleTimeout: idleTimeout}
}

// NewOllamaClient creates a client for a local Ollama server.
func NewOllamaClient(serverURL, model string, idleTimeout time.Duration) (*LangChainClient, error) {
	m, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama LLM: %w", err)
	}
	return NewLangChainClient(m, idleTimeout), nil
}

// NewOpenAIClient creates a client for the OpenAI API or any compatible
// endpoint when baseURL is set.
func NewOpenAIClient(baseURL, apiKey, model string, idleTimeout time.Duration) (*LangChainClient, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI LLM: %w", err)
	}
	return NewLangChainClient(m, idleTimeout), nil
}

// Stream implements Client.
func (c *LangChainClient) Stream(ctx context.Context, req Request, ch chan<- StreamChunk) (*Response, error) {
	defer close(ch)

	ctx, watchdog := newIdleWatchdog(ctx, c.idleTimeout)
	defer watchdog.stop()

	opts := []llms.CallOption{
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			watchdog.reset()
			if len(chunk) == 0 {
				return nil
			}
			return sendWatched(ctx, watchdog, ch, StreamChunk{Delta: string(chunk)})
		}),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(toLangChainTools(req.Tools)))
	}

	out, err := c.model.GenerateContent(ctx, toLangChainMessages(req), opts...)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", watchdog.err(ctx, err))
	}
	watchdog.pause()
	if out == nil || len(out.Choices) == 0 {
		return &Response{}, nil
	}

	choice := out.Choices[0]
	resp := &Response{Content: choice.Content, StopReason: choice.StopReason}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		idx := len(resp.ToolCalls)
		err := send(ctx, ch, StreamChunk{ToolCall: &ToolCallDelta{
			Index:     idx,
			ID:        id,
			Name:      tc.FunctionCall.Name,
			ArgsDelta: tc.FunctionCall.Arguments,
		}})
		if err != nil {
			return nil, err
		}

		args := map[string]any{}
		if tc.FunctionCall.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &args); err != nil {
				return nil, fmt.Errorf("parse tool arguments for %s: %w", tc.FunctionCall.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCallResult{
			ID:   id,
			Name: tc.FunctionCall.Name,
			Args: args,
		})
	}
	return resp, nil
}

func toLangChainMessages(req Request) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case "assistant":
			msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				msg.Parts = append(msg.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				msg.Parts = append(msg.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)
		case "tool":
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Content,
				}},
			})
		default:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		}
	}
	return out
}

func toLangChainTools(schemas []ToolSchema) []llms.Tool {
	tools := make([]llms.Tool, 0, len(schemas))
	for _, s := range schemas {
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return tools
}
