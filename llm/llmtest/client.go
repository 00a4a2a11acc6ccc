// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"sandbox_server/llm"
)

// ErrNoTurns is returned when the client is called more times than scripted.
var ErrNoTurns = errors.New("llmtest: no scripted turn left")

// Turn is one scripted model call.
type Turn struct {
	Chunks []llm.StreamChunk
	// Err, when set, is returned after the chunks have been sent.
	Err error
}

// Client replays scripted turns in order.
type Client struct {
	mu       sync.Mutex
	turns    []Turn
	requests []llm.Request
}

// NewClient creates a client that answers each Stream call with the next turn.
func NewClient(turns ...Turn) *Client {
	return &Client{turns: turns}
}

// Requests returns the requests received so far.
func (c *Client) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Stream implements llm.Client.
func (c *Client) Stream(ctx context.Context, req llm.Request, ch chan<- llm.StreamChunk) (*llm.Response, error) {
	defer close(ch)

	c.mu.Lock()
	c.requests = append(c.requests, req)
	if len(c.turns) == 0 {
		c.mu.Unlock()
		return nil, ErrNoTurns
	}
	turn := c.turns[0]
	c.turns = c.turns[1:]
	c.mu.Unlock()

	for _, chunk := range turn.Chunks {
		select {
		case ch <- chunk:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	return Accumulate(turn.Chunks), nil
}

// Accumulate folds chunks into the response a real provider would return.
func Accumulate(chunks []llm.StreamChunk) *llm.Response {
	var text strings.Builder
	type call struct {
		id, name string
		args     strings.Builder
	}
	var calls []*call

	for _, chunk := range chunks {
		text.WriteString(chunk.Delta)
		if tc := chunk.ToolCall; tc != nil {
			for len(calls) <= tc.Index {
				calls = append(calls, &call{})
			}
			c := calls[tc.Index]
			if tc.ID != "" {
				c.id = tc.ID
			}
			if tc.Name != "" {
				c.name = tc.Name
			}
			c.args.WriteString(tc.ArgsDelta)
		}
	}

	resp := &llm.Response{Content: text.String(), StopReason: "end_turn"}
	for _, c := range calls {
		args := map[string]any{}
		if c.args.Len() > 0 {
			_ = json.Unmarshal([]byte(c.args.String()), &args)
		}
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCallResult{ID: c.id, Name: c.name, Args: args})
	}
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = "tool_use"
	}
	return resp
}

// TextTurn streams the given text pieces.
func TextTurn(pieces ...string) Turn {
	t := Turn{}
	for _, p := range pieces {
		t.Chunks = append(t.Chunks, llm.StreamChunk{Delta: p})
	}
	return t
}

// ToolCallTurn streams one tool call whose argument JSON arrives in the
// given fragments. Leading text, if any, is streamed first.
func ToolCallTurn(text, id, name string, fragments ...string) Turn {
	t := Turn{}
	if text != "" {
		t.Chunks = append(t.Chunks, llm.StreamChunk{Delta: text})
	}
	t.Chunks = append(t.Chunks, llm.StreamChunk{ToolCall: &llm.ToolCallDelta{ID: id, Name: name}})
	for _, f := range fragments {
		t.Chunks = append(t.Chunks, llm.StreamChunk{ToolCall: &llm.ToolCallDelta{ArgsDelta: f}})
	}
	return t
}
