// Package sandboxtest provides an in-memory sandbox.Provider for tests.
package sandboxtest

import (
	"context"
	"fmt"
	"sync"

	"sandbox_server/sandbox"
)

// Run is the scripted outcome of one RunCode call.
type Run struct {
	Notifications []sandbox.Notification
	Execution     *sandbox.Execution
	Err           error
	// Panic, when set, is raised after the notifications without closing
	// the notification channel.
	Panic any
}

// Call records one RunCode invocation.
type Call struct {
	EnvID    string
	Code     string
	Language string
}

// Provider hands out environments that replay Run. CreateErr, when set,
// fails every Create.
type Provider struct {
	Run       Run
	CreateErr error

	mu      sync.Mutex
	created int
	calls   []Call
}

// Create implements sandbox.Provider.
func (p *Provider) Create(ctx context.Context) (sandbox.Environment, error) {
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	return &environment{id: fmt.Sprintf("fake-%d", p.created), p: p}, nil
}

// Created returns the number of environments provisioned.
func (p *Provider) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Calls returns the recorded RunCode calls.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

type environment struct {
	id string
	p  *Provider
}

func (e *environment) ID() string { return e.id }

func (e *environment) RunCode(ctx context.Context, code, language string, out chan<- sandbox.Notification) (*sandbox.Execution, error) {
	e.p.mu.Lock()
	e.p.calls = append(e.p.calls, Call{EnvID: e.id, Code: code, Language: language})
	run := e.p.Run
	e.p.mu.Unlock()

	if run.Panic == nil {
		defer close(out)
	}

	for _, n := range run.Notifications {
		select {
		case out <- n:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if run.Panic != nil {
		panic(run.Panic)
	}
	if run.Err != nil {
		return nil, run.Err
	}
	if run.Execution == nil {
		return &sandbox.Execution{}, nil
	}
	return run.Execution, nil
}
