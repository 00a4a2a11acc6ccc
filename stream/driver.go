package stream

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sandbox_server/agent"
)

// Closing frame sent after the agent stream is exhausted.
const (
	ClosedConnectionEvent = "closedConnection"
	ClosedConnectionText  = "Stream finished"
)

// Agent starts an agent run for a message within a conversation thread.
type Agent interface {
	Stream(ctx context.Context, message, threadID string) *agent.Stream
}

// Emitter writes frames to one client connection.
type Emitter interface {
	// SendData writes an unnamed frame with JSON data.
	SendData(data any) error
	// SendEvent writes a named frame with JSON data.
	SendEvent(event string, data any) error
	// SendText writes a named frame with a plain text payload.
	SendText(event, text string) error
	// SendComment writes a keep-alive frame the client ignores.
	SendComment(text string) error
}

// Driver runs the retrieval side of a stream: it takes the pending message,
// drives the agent and writes every normalized record to the client.
type Driver struct {
	registry *Registry
	agent    Agent
	logger   *zap.Logger

	// ForwardToolOutput sends sandbox progress as tool_output records.
	ForwardToolOutput bool
	// KeepAlive is the interval of keep-alive comments. Zero disables them.
	KeepAlive time.Duration
}

// NewDriver creates a driver.
func NewDriver(registry *Registry, ag Agent, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{registry: registry, agent: ag, logger: logger.Named("stream")}
}

// Run streams the message behind handle to em. An unknown handle is
// answered with a single error frame. A fault on one event is reported as
// an error record and streaming continues. When the agent stream itself
// fails, Run returns the error without sending the closing frame.
func (d *Driver) Run(ctx context.Context, chatID, handle string, em Emitter) error {
	log := d.logger.With(zap.String("chat_id", chatID), zap.String("stream_id", handle))

	pm, err := d.registry.Take(handle)
	if err != nil {
		log.Info("stream not found")
		return em.SendEvent("error", map[string]string{"error": ErrStreamNotFound.Error()})
	}
	if pm.ChatID != chatID {
		log.Warn("stream requested under a different chat", zap.String("submitted_chat_id", pm.ChatID))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	s := d.agent.Stream(ctx, pm.Message, pm.ChatID)
	norm := NewNormalizer(d.ForwardToolOutput)

	var tick <-chan time.Time
	if d.KeepAlive > 0 {
		ticker := time.NewTicker(d.KeepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	records, faults := 0, 0
	for done := false; !done; {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				done = true
				break
			}
			sent, err := d.emit(norm, ev, em)
			if err != nil {
				faults++
				log.Warn("failed to stream event", zap.Error(err))
				if err := em.SendData(ErrorRecord{Type: TypeError, Data: err.Error()}); err != nil {
					log.Debug("failed to send error record", zap.Error(err))
				}
				continue
			}
			if sent {
				records++
			}

		case <-tick:
			if err := em.SendComment("keep-alive"); err != nil {
				log.Debug("keep-alive failed", zap.Error(err))
			}

		case <-ctx.Done():
			d.registry.Delete(handle)
			log.Info("client disconnected", zap.Int("records", records))
			return ctx.Err()
		}
	}

	if err := s.Err(); err != nil {
		d.registry.Delete(handle)
		log.Error("agent stream failed", zap.Error(err), zap.Int("records", records))
		return fmt.Errorf("agent stream: %w", err)
	}

	if err := em.SendText(ClosedConnectionEvent, ClosedConnectionText); err != nil {
		log.Debug("failed to send closing frame", zap.Error(err))
	}
	d.registry.Delete(handle)
	log.Info("stream finished",
		zap.Int("records", records),
		zap.Int("faults", faults),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// emit normalizes and writes one event. A panic while doing so is
// returned as an error.
func (d *Driver) emit(norm *Normalizer, ev agent.Event, em Emitter) (sent bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			sent, err = false, fmt.Errorf("panic while streaming event: %v", r)
		}
	}()
	rec, ok := norm.Normalize(ev)
	if !ok {
		return false, nil
	}
	if err := em.SendData(rec); err != nil {
		return false, err
	}
	return true, nil
}
