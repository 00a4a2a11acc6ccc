package llm

import (
	"context"
	"errors"
	"time"
)

// ErrIdleTimeout is the cause of a model call cancelled because the provider
// sent nothing for longer than the configured timeout.
var ErrIdleTimeout = errors.New("model stream idle timeout")

// idleWatchdog cancels a call when no data arrives within timeout. The
// timer restarts on every reset, so a response that keeps streaming is never
// cut short. A zero timeout disables it.
type idleWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelCauseFunc
}

func newIdleWatchdog(ctx context.Context, timeout time.Duration) (context.Context, *idleWatchdog) {
	ctx, cancel := context.WithCancelCause(ctx)
	w := &idleWatchdog{timeout: timeout, cancel: cancel}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() { cancel(ErrIdleTimeout) })
	}
	return ctx, w
}

// pause stops the timer while the consumer, not the provider, is the slow side.
func (w *idleWatchdog) pause() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *idleWatchdog) reset() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatchdog) stop() {
	w.pause()
	w.cancel(nil)
}

// err replaces a cancellation caused by the watchdog with ErrIdleTimeout.
func (w *idleWatchdog) err(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrIdleTimeout) {
		return ErrIdleTimeout
	}
	return err
}

// sendWatched forwards a chunk with the timer paused.
func sendWatched(ctx context.Context, w *idleWatchdog, ch chan<- StreamChunk, chunk StreamChunk) error {
	w.pause()
	defer w.reset()
	return send(ctx, ch, chunk)
}
