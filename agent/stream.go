package agent

import "context"

// Stream is the asynchronous event stream of one agent run. The producer
// calls Emit for each event and Finish exactly once; the consumer ranges
// over Events and checks Err after the channel is closed.
type Stream struct {
	events chan Event
	err    error
}

// NewStream creates a stream with the given channel buffer.
func NewStream(buffer int) *Stream {
	return &Stream{events: make(chan Event, buffer)}
}

// Events returns the channel of events. It is closed by Finish.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Emit sends an event, blocking until the consumer takes it or ctx ends.
func (s *Stream) Emit(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish records the terminal error, if any, and closes the stream.
func (s *Stream) Finish(err error) {
	s.err = err
	close(s.events)
}

// Err returns the error the run ended with. Only valid once Events is closed.
func (s *Stream) Err() error {
	return s.err
}

type streamWriterKey struct{}

// StreamWriter forwards out-of-band values from a running tool to the
// enclosing run's stream as CustomEvents.
type StreamWriter func(v any)

// WithStreamWriter stores a StreamWriter in the context.
func WithStreamWriter(ctx context.Context, w StreamWriter) context.Context {
	return context.WithValue(ctx, streamWriterKey{}, w)
}

// StreamWriterFromContext extracts the StreamWriter. When none is set the
// returned writer discards everything.
func StreamWriterFromContext(ctx context.Context) StreamWriter {
	if w, ok := ctx.Value(streamWriterKey{}).(StreamWriter); ok && w != nil {
		return w
	}
	return func(any) {}
}
