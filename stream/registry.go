// Package stream hands a submitted message over to the request that
// streams the agent's answer, and shapes the agent's events into the
// records sent to the client.
package stream

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrStreamNotFound is returned by Take for handles that were never issued
// or were already taken.
var ErrStreamNotFound = errors.New("stream not found")

// PendingMessage is a submitted message waiting for its stream to be opened.
type PendingMessage struct {
	ChatID  string
	Message string
}

// Registry maps stream handles to pending messages. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	pending map[string]PendingMessage
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]PendingMessage)}
}

// Submit stores a message and returns its fresh handle. The message is not
// validated; an empty string is allowed.
func (r *Registry) Submit(chatID, message string) string {
	handle := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[handle] = PendingMessage{ChatID: chatID, Message: message}
	return handle
}

// Take removes and returns the message for handle. A handle can be taken
// once; later calls return ErrStreamNotFound.
func (r *Registry) Take(handle string) (PendingMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pm, ok := r.pending[handle]
	if !ok {
		return PendingMessage{}, ErrStreamNotFound
	}
	delete(r.pending, handle)
	return pm, nil
}

// Delete removes handle if present.
func (r *Registry) Delete(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, handle)
}

// Len returns the number of handles waiting to be taken.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
