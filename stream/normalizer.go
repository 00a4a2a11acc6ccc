package stream

import (
	"sandbox_server/agent"
	"sandbox_server/sandbox"
)

// Record types sent to the client.
const (
	TypeText          = agent.BlockText
	TypeToolCallChunk = agent.BlockToolCallChunk
	TypeToolOutput    = "tool_output"
	TypeError         = "error"
)

// WireRecord is the JSON object sent to the client for one chunk.
type WireRecord struct {
	MessageID string `json:"message_id"`
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Name      string `json:"name,omitempty"`
}

// ErrorRecord reports a fault on a single chunk.
type ErrorRecord struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ToolOutput is the data of a tool_output record.
type ToolOutput struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Normalizer turns agent events into wire records. It owns the turn
// tracker of one stream.
type Normalizer struct {
	tracker           *TurnTracker
	forwardToolOutput bool
}

// NewNormalizer creates a normalizer. When forwardToolOutput is set,
// sandbox progress written by tools is sent as tool_output records.
func NewNormalizer(forwardToolOutput bool) *Normalizer {
	return &Normalizer{tracker: NewTurnTracker(), forwardToolOutput: forwardToolOutput}
}

// Normalize converts one event into at most one record. ok is false when
// the event carries nothing for the client.
func (n *Normalizer) Normalize(ev agent.Event) (rec WireRecord, ok bool) {
	switch e := ev.(type) {
	case agent.MessagesEvent:
		return n.messages(e)
	case agent.CustomEvent:
		return n.custom(e)
	case agent.UpdatesEvent:
		return WireRecord{}, false
	default:
		return WireRecord{}, false
	}
}

func (n *Normalizer) messages(e agent.MessagesEvent) (WireRecord, bool) {
	blocks := e.Chunk.ContentBlocks
	if len(blocks) == 0 {
		return WireRecord{}, false
	}

	// Chunks are incremental; only the newest block is forwarded.
	block := blocks[len(blocks)-1]
	rec := WireRecord{
		MessageID: n.tracker.Observe(e.Metadata.Step),
		Type:      block.Type,
		Name:      block.Name,
	}
	switch block.Type {
	case agent.BlockText:
		rec.Data = block.Text
	case agent.BlockToolCallChunk:
		rec.Data = block.Args
	}
	return rec, true
}

func (n *Normalizer) custom(e agent.CustomEvent) (WireRecord, bool) {
	if !n.forwardToolOutput {
		return WireRecord{}, false
	}
	note, ok := e.Data.(sandbox.Notification)
	if !ok {
		return WireRecord{}, false
	}
	// Output belongs to the tools step that produced it. Untagged events
	// join the current turn.
	var id string
	if e.Metadata.Step != nil {
		id = n.tracker.Observe(e.Metadata.Step)
	} else if id = n.tracker.Current(); id == "" {
		id = n.tracker.Observe(nil)
	}
	return WireRecord{
		MessageID: id,
		Type:      TypeToolOutput,
		Data:      ToolOutput{Kind: note.Kind, Text: note.Text},
	}, true
}
