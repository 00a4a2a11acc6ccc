package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Writer sends Server-Sent Events to an http.ResponseWriter. It is safe
// for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter creates a new SSE writer. Returns nil if the ResponseWriter
// doesn't support http.Flusher.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}
}

// SendEvent writes a named SSE event with JSON data.
func (s *Writer) SendEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	return s.write("event: %s\ndata: %s\n\n", event, jsonData)
}

// SendData writes an unnamed SSE event (event type = "message") with JSON data.
func (s *Writer) SendData(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	return s.write("data: %s\n\n", jsonData)
}

// SendText writes a named SSE event with a plain text payload. Each line
// of text becomes its own data field.
func (s *Writer) SendText(event, text string) error {
	var sb strings.Builder
	for _, line := range strings.Split(text, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return s.write("event: %s\n%s\n", event, sb.String())
}

// SendComment writes an SSE comment (for keep-alive pings).
func (s *Writer) SendComment(text string) error {
	return s.write(": %s\n\n", text)
}

func (s *Writer) write(format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, format, args...); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
