package llmtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandbox_server/llm"
)

func drain(ch <-chan llm.StreamChunk) []llm.StreamChunk {
	var out []llm.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestClient_ReplaysTurnsInOrder(t *testing.T) {
	c := NewClient(
		ToolCallTurn("let me run that", "call_1", "code_sandbox", `{"code":`, `"print(4)"}`),
		TextTurn("2+2", " is 4"),
	)

	ch := make(chan llm.StreamChunk, 16)
	resp, err := c.Stream(context.Background(), llm.Request{}, ch)
	require.NoError(t, err)
	assert.Len(t, drain(ch), 4)
	assert.Equal(t, "let me run that", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "print(4)", resp.ToolCalls[0].Args["code"])

	ch = make(chan llm.StreamChunk, 16)
	resp, err = c.Stream(context.Background(), llm.Request{}, ch)
	require.NoError(t, err)
	assert.Equal(t, "2+2 is 4", resp.Content)
	assert.Empty(t, resp.ToolCalls)

	ch = make(chan llm.StreamChunk, 1)
	_, err = c.Stream(context.Background(), llm.Request{}, ch)
	assert.ErrorIs(t, err, ErrNoTurns)
	assert.Len(t, c.Requests(), 3)
}
