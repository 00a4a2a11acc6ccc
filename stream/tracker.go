package stream

import "github.com/google/uuid"

// TurnTracker assigns message ids to chunks. A new id is minted whenever
// the observed step index differs from the previous one. One tracker
// serves one stream and is not safe for concurrent use.
type TurnTracker struct {
	seen      bool
	index     *int
	messageID string
}

// NewTurnTracker creates a tracker with no turn observed yet.
func NewTurnTracker() *TurnTracker {
	return &TurnTracker{}
}

// Observe returns the message id for a chunk reported at index. The first
// observation always mints an id, so the result is never empty. A nil index
// following a nil index keeps the current id.
func (t *TurnTracker) Observe(index *int) string {
	if t.seen && sameIndex(t.index, index) {
		return t.messageID
	}
	t.seen = true
	t.index = nil
	if index != nil {
		v := *index
		t.index = &v
	}
	t.messageID = uuid.NewString()
	return t.messageID
}

// Current returns the id of the current turn, or "" before the first Observe.
func (t *TurnTracker) Current() string {
	return t.messageID
}

func sameIndex(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
