package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel is a langchaingo model that streams scripted pieces and then
// answers with a fixed choice.
type fakeModel struct {
	pieces   []string
	delay    time.Duration // before each piece
	choice   *llms.ContentChoice
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, o := range options {
		o(&m.opts)
	}
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.pieces {
		if m.delay > 0 {
			select {
			case <-time.After(m.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if m.opts.StreamingFunc != nil {
			if err := m.opts.StreamingFunc(ctx, []byte(p)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{m.choice}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func collect(ch <-chan StreamChunk) []StreamChunk {
	var out []StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestLangChainClient_StreamsTextAndToolCalls(t *testing.T) {
	model := &fakeModel{
		pieces: []string{"Running ", "", "code"},
		choice: &llms.ContentChoice{
			Content:    "Running code",
			StopReason: "tool_calls",
			ToolCalls: []llms.ToolCall{{
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      "code_sandbox",
					Arguments: `{"code":"print(1)","lang":"python"}`,
				},
			}},
		},
	}
	c := NewLangChainClient(model, 0)

	ch := make(chan StreamChunk, 16)
	resp, err := c.Stream(context.Background(), Request{
		SystemPrompt: "be brief",
		MaxTokens:    100,
		Messages:     []Message{{Role: "user", Content: "hi"}},
		Tools:        []ToolSchema{{Name: "code_sandbox", Parameters: map[string]any{"type": "object"}}},
	}, ch)
	require.NoError(t, err)

	chunks := collect(ch)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Running ", chunks[0].Delta)
	assert.Equal(t, "code", chunks[1].Delta)
	require.NotNil(t, chunks[2].ToolCall)
	assert.Equal(t, "code_sandbox", chunks[2].ToolCall.Name)
	assert.Contains(t, chunks[2].ToolCall.ID, "call_")

	assert.Equal(t, "Running code", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "print(1)", resp.ToolCalls[0].Args["code"])
	assert.Equal(t, chunks[2].ToolCall.ID, resp.ToolCalls[0].ID)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, 100, model.opts.MaxTokens)
	assert.Len(t, model.opts.Tools, 1)
}

func TestLangChainClient_GenerateError(t *testing.T) {
	c := NewLangChainClient(&fakeModel{err: errors.New("boom")}, 0)
	ch := make(chan StreamChunk, 1)
	_, err := c.Stream(context.Background(), Request{}, ch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, open := <-ch
	assert.False(t, open, "channel must be closed")
}

func TestAnthropicClient_BuildParamsMergesToolResults(t *testing.T) {
	c := NewAnthropicClient("key", "claude-sonnet-4-5-20250929", 0)
	params := c.buildParams(Request{
		SystemPrompt: "sys",
		Messages: []Message{
			{Role: "user", Content: "run two things"},
			{Role: "assistant", ToolCalls: []ToolCallInfo{
				{ID: "a", Name: "code_sandbox", Args: map[string]any{"code": "1"}},
				{ID: "b", Name: "code_sandbox", Args: map[string]any{"code": "2"}},
			}},
			{Role: "tool", ToolCallID: "a", Content: "1"},
			{Role: "tool", ToolCallID: "b", Content: "2"},
		},
		Tools: []ToolSchema{{
			Name: "code_sandbox",
			Parameters: map[string]any{
				"properties": map[string]any{"code": map[string]any{"type": "string"}},
				"required":   []string{"code"},
			},
		}},
	})

	assert.Equal(t, int64(1000), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "sys", params.System[0].Text)
	require.Len(t, params.Messages, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, params.Messages[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, params.Messages[1].Role)
	assert.Len(t, params.Messages[1].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, params.Messages[2].Role)
	assert.Len(t, params.Messages[2].Content, 2)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, []string{"code"}, params.Tools[0].OfTool.InputSchema.Required)
}

func TestResolve(t *testing.T) {
	_, err := Resolve(Spec{Provider: "anthropic"})
	assert.Error(t, err)

	c, err := Resolve(Spec{APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	c, err = Resolve(Spec{Provider: "ollama", Model: "llama3"})
	require.NoError(t, err)
	assert.IsType(t, &LangChainClient{}, c)

	_, err = Resolve(Spec{Provider: "openai"})
	assert.Error(t, err)

	_, err = Resolve(Spec{Provider: "bogus"})
	assert.Error(t, err)
}
