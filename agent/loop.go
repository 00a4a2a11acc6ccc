package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"sandbox_server/llm"
)

// MaxIterations is the default maximum number of LLM-tool loop iterations.
const MaxIterations = 25

// Node names reported in event metadata.
const (
	NodeModel = "model"
	NodeTools = "tools"
)

// Config holds the static settings of an agent.
type Config struct {
	Name          string
	SystemPrompt  string
	MaxTokens     int
	MaxIterations int
}

// Agent is a configured agent instance ready to run.
type Agent struct {
	Config  *Config
	LLM     llm.Client
	Tools   []Tool
	Hooks   []Hook
	threads *ThreadStore
}

// NewAgent creates a new Agent. Conversation state is checkpointed per
// thread in threads.
func NewAgent(cfg *Config, llmClient llm.Client, tools []Tool, hooks []Hook, threads *ThreadStore) *Agent {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Agent{
		Config:  cfg,
		LLM:     llmClient,
		Tools:   tools,
		Hooks:   hooks,
		threads: threads,
	}
}

// Stream runs the agent on message within the given thread and returns its
// event stream. The run stops when ctx is cancelled.
func (a *Agent) Stream(ctx context.Context, message, threadID string) *Stream {
	s := NewStream(64)
	go func() {
		s.Finish(a.runLoop(ctx, Human(message), threadID, s))
	}()
	return s
}

func (a *Agent) runLoop(ctx context.Context, input Message, threadID string, s *Stream) error {
	state := a.threads.Load(threadID)
	state.Messages = append(state.Messages, input)

	toolMap := make(map[string]Tool, len(a.Tools))
	for _, t := range a.Tools {
		toolMap[t.Name()] = t
	}
	toolSchemas := buildToolSchemas(toolMap)

	maxIter := a.Config.MaxIterations
	if maxIter <= 0 {
		maxIter = MaxIterations
	}

	step := 0
	for iter := 0; iter < maxIter; iter++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		step++
		modelCall := a.buildModelChain(toolSchemas, s, step)
		response, err := modelCall(ctx, state.Messages)
		if err != nil {
			return fmt.Errorf("LLM call: %w", err)
		}

		var toolCalls []ToolCall
		for _, tc := range response.ToolCalls {
			toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Args})
		}
		aiMsg := AI(response.Content, toolCalls...)
		state.Messages = append(state.Messages, aiMsg)
		final := len(toolCalls) == 0
		if final {
			a.threads.Save(state)
		}
		if err := s.Emit(ctx, UpdatesEvent{Node: NodeModel, Messages: []Message{aiMsg}}); err != nil {
			return err
		}
		if final {
			return nil
		}

		step++
		results := a.runTools(ctx, toolCalls, toolMap, s, step)

		toolMsgs := make([]Message, 0, len(results))
		for _, result := range results {
			toolMsgs = append(toolMsgs, ToolMsg(result.ToolCallID, result.Name, result.Output))
		}
		// Checkpoint after every tools phase. A saved thread never ends on
		// an unanswered tool call.
		state.Messages = append(state.Messages, toolMsgs...)
		a.threads.Save(state)

		for _, result := range results {
			err := s.Emit(ctx, MessagesEvent{
				Chunk: MessageChunk{
					ID:            "tool-" + result.ToolCallID,
					Role:          RoleTool,
					ContentBlocks: []ContentBlock{{Type: BlockText, Text: result.Output}},
				},
				Metadata: Metadata{Step: StepPtr(step), Node: NodeTools},
			})
			if err != nil {
				return err
			}
		}
		if err := s.Emit(ctx, UpdatesEvent{Node: NodeTools, Messages: toolMsgs}); err != nil {
			return err
		}
	}

	return fmt.Errorf("agent stopped after %d iterations without a final answer", maxIter)
}

// runTools executes tool calls concurrently and returns results in call order.
func (a *Agent) runTools(ctx context.Context, calls []ToolCall, toolMap map[string]Tool, s *Stream, step int) []ToolResult {
	meta := Metadata{Step: StepPtr(step), Node: NodeTools}
	toolCtx := WithStreamWriter(ctx, func(v any) {
		_ = s.Emit(ctx, CustomEvent{Data: v, Metadata: meta})
	})
	toolCallFn := a.buildToolCallChain(toolMap)

	var wg sync.WaitGroup
	results := make([]ToolResult, len(calls))
	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc ToolCall) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[idx] = errorResult(tc, fmt.Errorf("tool panicked: %v", r))
				}
			}()

			wrapped, err := toolCallFn(toolCtx, tc)
			switch {
			case err != nil:
				results[idx] = errorResult(tc, err)
			case wrapped != nil:
				results[idx] = *wrapped
			default:
				results[idx] = ToolResult{ToolCallID: tc.ID, Name: tc.Name}
			}
		}(i, tc)
	}
	wg.Wait()
	return results
}

func (a *Agent) executeTool(ctx context.Context, tc ToolCall, toolMap map[string]Tool) ToolResult {
	tool, ok := toolMap[tc.Name]
	if !ok {
		return ToolResult{
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Error:      fmt.Sprintf("unknown tool: %s", tc.Name),
			Output:     fmt.Sprintf("Error: tool %q not found", tc.Name),
		}
	}

	output, err := tool.Execute(ctx, tc.Args)
	if err != nil {
		return errorResult(tc, err)
	}
	return ToolResult{
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Output:     output,
	}
}

func errorResult(tc ToolCall, err error) ToolResult {
	return ToolResult{
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Error:      err.Error(),
		Output:     "Error: " + err.Error(),
	}
}

// buildModelChain builds the onion ring around one streamed LLM call. The
// base function forwards every chunk to s tagged with step.
func (a *Agent) buildModelChain(toolSchemas []llm.ToolSchema, s *Stream, step int) ModelCallFunc {
	base := func(ctx context.Context, msgs []Message) (*llm.Response, error) {
		req := llm.Request{
			Messages:     convertMessages(msgs),
			Tools:        toolSchemas,
			SystemPrompt: a.Config.SystemPrompt,
			MaxTokens:    a.Config.MaxTokens,
		}

		chunkCh := make(chan llm.StreamChunk, 64)
		var resp *llm.Response
		var llmErr error
		done := make(chan struct{})
		go func() {
			defer close(done)
			resp, llmErr = a.LLM.Stream(ctx, req, chunkCh)
		}()

		chunkID := "run-" + uuid.NewString()
		meta := Metadata{Step: StepPtr(step), Node: NodeModel}
		var emitErr error
		for chunk := range chunkCh {
			if emitErr != nil {
				continue
			}
			emitErr = s.Emit(ctx, MessagesEvent{Chunk: chunkMessage(chunkID, chunk), Metadata: meta})
		}
		<-done

		if emitErr != nil {
			return nil, emitErr
		}
		if llmErr != nil {
			return nil, llmErr
		}
		if resp == nil {
			resp = &llm.Response{}
		}
		return resp, nil
	}

	// Wrap with hooks (reverse order so index-0 is outermost)
	fn := ModelCallFunc(base)
	for i := len(a.Hooks) - 1; i >= 0; i-- {
		hook := a.Hooks[i]
		prev := fn
		fn = func(ctx context.Context, msgs []Message) (*llm.Response, error) {
			return hook.WrapModelCall(ctx, msgs, prev)
		}
	}
	return fn
}

// buildToolCallChain builds an onion-ring chain for tool execution,
// wrapping the actual executeTool call with all WrapToolCall hooks.
func (a *Agent) buildToolCallChain(toolMap map[string]Tool) ToolCallFunc {
	base := func(ctx context.Context, tc ToolCall) (*ToolResult, error) {
		r := a.executeTool(ctx, tc, toolMap)
		return &r, nil
	}

	fn := ToolCallFunc(base)
	for i := len(a.Hooks) - 1; i >= 0; i-- {
		hook := a.Hooks[i]
		prev := fn
		fn = func(ctx context.Context, tc ToolCall) (*ToolResult, error) {
			return hook.WrapToolCall(ctx, tc, prev)
		}
	}
	return fn
}

// chunkMessage converts one LLM stream chunk into a message chunk with one
// content block per kind of delta it carries.
func chunkMessage(id string, chunk llm.StreamChunk) MessageChunk {
	msg := MessageChunk{ID: id, Role: RoleAssistant}
	if chunk.Delta != "" {
		msg.ContentBlocks = append(msg.ContentBlocks, ContentBlock{Type: BlockText, Text: chunk.Delta})
	}
	if tc := chunk.ToolCall; tc != nil {
		msg.ContentBlocks = append(msg.ContentBlocks, ContentBlock{
			Type:  BlockToolCallChunk,
			Args:  tc.ArgsDelta,
			Name:  tc.Name,
			ID:    tc.ID,
			Index: tc.Index,
		})
	}
	return msg
}

func convertMessages(msgs []Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			out[i].ToolCalls = append(out[i].ToolCalls, llm.ToolCallInfo{
				ID:   tc.ID,
				Name: tc.Name,
				Args: tc.Args,
			})
		}
	}
	return out
}

func buildToolSchemas(toolMap map[string]Tool) []llm.ToolSchema {
	schemas := make([]llm.ToolSchema, 0, len(toolMap))
	for _, t := range toolMap {
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}
