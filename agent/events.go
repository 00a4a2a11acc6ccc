package agent

// Event is one item of an agent run's event stream. The concrete type is
// one of MessagesEvent, UpdatesEvent or CustomEvent.
type Event interface {
	isEvent()
}

// Content block types carried by a MessageChunk.
const (
	BlockText          = "text"
	BlockToolCallChunk = "tool_call_chunk"
)

// ContentBlock is one segment of a streamed message chunk.
type ContentBlock struct {
	Type string `json:"type"`
	// Text is set for text blocks.
	Text string `json:"text,omitempty"`
	// Args is the partial argument JSON of a tool_call_chunk block.
	Args string `json:"args,omitempty"`
	// Name is the tool name. Only the first chunk of a tool call carries it.
	Name  string `json:"name,omitempty"`
	ID    string `json:"id,omitempty"`
	Index int    `json:"index"`
}

// MessageChunk is an incremental piece of an assistant or tool message.
type MessageChunk struct {
	ID            string         `json:"id"`
	Role          string         `json:"role"`
	ContentBlocks []ContentBlock `json:"content_blocks"`
}

// Metadata describes where in the run a chunk was produced.
type Metadata struct {
	// Step is the loop step counter. Nil when the producer does not track steps.
	Step *int   `json:"step"`
	Node string `json:"node"`
}

// MessagesEvent carries one streamed message chunk.
type MessagesEvent struct {
	Chunk    MessageChunk
	Metadata Metadata
}

// UpdatesEvent reports the messages a node added to the thread state.
type UpdatesEvent struct {
	Node     string
	Messages []Message
}

// CustomEvent carries a value written by a tool through its StreamWriter.
// Metadata names the tools step that produced it.
type CustomEvent struct {
	Data     any
	Metadata Metadata
}

func (MessagesEvent) isEvent() {}
func (UpdatesEvent) isEvent()  {}
func (CustomEvent) isEvent()   {}

// StepPtr returns a pointer to step, for building Metadata.
func StepPtr(step int) *int {
	return &step
}
