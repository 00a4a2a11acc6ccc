package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

const (
	sseMessageStart = `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":0}}}`
	sseBlockStart   = `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`
	sseBlockStop    = `{"type":"content_block_stop","index":0}`
	sseMessageDelta = `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":6}}`
	sseMessageStop  = `{"type":"message_stop"}`
)

func writeEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	w.(http.Flusher).Flush()
}

// dripServer streams one text delta per interval. stallAfter > 0 stops
// sending after that many deltas and holds the connection open.
func dripServer(t *testing.T, deltas []string, interval time.Duration, stallAfter int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		writeEvent(w, "message_start", sseMessageStart)
		writeEvent(w, "content_block_start", sseBlockStart)
		for i, d := range deltas {
			if stallAfter > 0 && i == stallAfter {
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
				return
			}
			time.Sleep(interval)
			writeEvent(w, "content_block_delta",
				fmt.Sprintf(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%q}}`, d))
		}
		writeEvent(w, "content_block_stop", sseBlockStop)
		writeEvent(w, "message_delta", sseMessageDelta)
		writeEvent(w, "message_stop", sseMessageStop)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicClient_SlowStreamOutlivesIdleTimeout(t *testing.T) {
	deltas := []string{"a", "b", "c", "d", "e", "f"}
	srv := dripServer(t, deltas, 150*time.Millisecond, 0)
	c := NewAnthropicClient("key", "m", 400*time.Millisecond,
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	ch := make(chan StreamChunk, 16)
	start := time.Now()
	resp, err := c.Stream(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}}, ch)
	require.NoError(t, err)
	assert.Greater(t, time.Since(start), 400*time.Millisecond, "total duration exceeds the idle timeout")

	var text strings.Builder
	for chunk := range ch {
		text.WriteString(chunk.Delta)
	}
	assert.Equal(t, "abcdef", text.String())
	assert.Equal(t, "abcdef", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestAnthropicClient_StalledStreamTimesOut(t *testing.T) {
	srv := dripServer(t, []string{"a", "b", "c"}, 10*time.Millisecond, 1)
	c := NewAnthropicClient("key", "m", 200*time.Millisecond,
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

	ch := make(chan StreamChunk, 16)
	start := time.Now()
	_, err := c.Stream(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}}, ch)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIdleTimeout), err.Error())
	assert.Less(t, time.Since(start), 2*time.Second)

	chunks := collect(ch)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a", chunks[0].Delta)
}

func TestLangChainClient_IdleTimeout(t *testing.T) {
	t.Run("steady stream completes", func(t *testing.T) {
		model := &fakeModel{
			pieces: []string{"a", "b", "c", "d"},
			delay:  80 * time.Millisecond,
			choice: &llms.ContentChoice{Content: "abcd", StopReason: "stop"},
		}
		c := NewLangChainClient(model, 200*time.Millisecond)

		ch := make(chan StreamChunk, 8)
		resp, err := c.Stream(context.Background(), Request{}, ch)
		require.NoError(t, err)
		assert.Equal(t, "abcd", resp.Content)
		assert.Len(t, collect(ch), 4)
	})

	t.Run("silent model is cancelled", func(t *testing.T) {
		model := &fakeModel{pieces: []string{"a"}, delay: 2 * time.Second}
		c := NewLangChainClient(model, 100*time.Millisecond)

		start := time.Now()
		_, err := c.Stream(context.Background(), Request{}, make(chan StreamChunk, 1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrIdleTimeout), err.Error())
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestResolve_OpenAIHonorsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := Resolve(Spec{Provider: "openai", BaseURL: srv.URL, APIKey: "k", Model: "gpt-4o", Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Stream(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}}, make(chan StreamChunk, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIdleTimeout), err.Error())
	assert.Less(t, time.Since(start), 2*time.Second)
}
