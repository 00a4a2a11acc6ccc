package agent

import (
	"sync"
	"time"
)

// DefaultThreadTTL is how long an idle thread is kept.
const DefaultThreadTTL = 1 * time.Hour

// State holds the conversation state for a thread.
type State struct {
	ThreadID string    `json:"thread_id"`
	Messages []Message `json:"messages"`
}

// threadEntry wraps a State with a last-accessed timestamp for TTL eviction.
type threadEntry struct {
	state      *State
	lastAccess time.Time
}

// ThreadStore is an in-memory thread state checkpointer with TTL-based eviction.
type ThreadStore struct {
	mu      sync.RWMutex
	threads map[string]*threadEntry
	ttl     time.Duration
	stop    chan struct{}
	once    sync.Once
}

// NewThreadStore creates a thread store and starts eviction. A zero ttl
// uses DefaultThreadTTL.
func NewThreadStore(ttl time.Duration) *ThreadStore {
	if ttl <= 0 {
		ttl = DefaultThreadTTL
	}
	ts := &ThreadStore{
		threads: make(map[string]*threadEntry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go ts.evictLoop()
	return ts
}

// Load returns a copy of the thread's state, or an empty state when the
// thread is unknown.
func (ts *ThreadStore) Load(threadID string) *State {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	state := &State{ThreadID: threadID, Messages: []Message{}}
	if entry, ok := ts.threads[threadID]; ok {
		entry.lastAccess = time.Now()
		state.Messages = append(state.Messages, entry.state.Messages...)
	}
	return state
}

// Save persists a copy of the thread state and refreshes its TTL.
func (ts *ThreadStore) Save(state *State) {
	saved := &State{
		ThreadID: state.ThreadID,
		Messages: append([]Message(nil), state.Messages...),
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.threads[state.ThreadID] = &threadEntry{state: saved, lastAccess: time.Now()}
}

// Delete removes a thread.
func (ts *ThreadStore) Delete(threadID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.threads, threadID)
}

// Len returns the number of stored threads.
func (ts *ThreadStore) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.threads)
}

// Close stops the eviction loop.
func (ts *ThreadStore) Close() {
	ts.once.Do(func() { close(ts.stop) })
}

// evictLoop removes threads that haven't been accessed within the TTL window.
func (ts *ThreadStore) evictLoop() {
	interval := ts.ttl / 12
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ts.evict(time.Now())
		case <-ts.stop:
			return
		}
	}
}

func (ts *ThreadStore) evict(now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	cutoff := now.Add(-ts.ttl)
	for id, entry := range ts.threads {
		if entry.lastAccess.Before(cutoff) {
			delete(ts.threads, id)
		}
	}
}
