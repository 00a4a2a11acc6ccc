// Package sandbox runs untrusted code in isolated execution environments
// and reports progress as it happens.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedLanguage is returned when a provider cannot run the
// requested language.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// DefaultLanguage is used when a run does not name a language.
const DefaultLanguage = "python"

// Notification kinds, in the order a provider may emit them.
const (
	KindStdout = "stdout"
	KindStderr = "stderr"
	KindResult = "result"
	KindError  = "error"
)

// Notification is one progress report from a running execution.
type Notification struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Provider creates execution environments.
type Provider interface {
	// Create provisions a fresh environment. Environments are never shared
	// between calls; their idle lifetime is enforced by the provider.
	Create(ctx context.Context) (Environment, error)
}

// Environment runs code.
type Environment interface {
	ID() string

	// RunCode executes code and sends a Notification to out for every
	// stdout, stderr, result and error report, in arrival order. It closes
	// out before returning.
	RunCode(ctx context.Context, code, language string, out chan<- Notification) (*Execution, error)
}

// Result is one value produced by an execution.
type Result struct {
	Text         string `json:"text,omitempty"`
	IsMainResult bool   `json:"is_main_result"`
}

// Logs holds the captured output streams.
type Logs struct {
	Stdout []string `json:"stdout"`
	Stderr []string `json:"stderr"`
}

// ExecutionError describes a runtime error raised by the executed code.
type ExecutionError struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Traceback string `json:"traceback"`
}

func (e *ExecutionError) String() string {
	if e.Value == "" {
		return e.Name
	}
	return e.Name + ": " + e.Value
}

// Execution is the final outcome of a run.
type Execution struct {
	Results []Result        `json:"results"`
	Logs    Logs            `json:"logs"`
	Error   *ExecutionError `json:"error,omitempty"`
}

// Text returns the text of the main result, or "" when there is none.
func (e *Execution) Text() string {
	for _, r := range e.Results {
		if r.IsMainResult {
			return r.Text
		}
	}
	return ""
}

// Summary returns a textual representation of the execution: the main
// result when there is one, otherwise the captured output and any error.
func (e *Execution) Summary() string {
	if text := e.Text(); text != "" {
		return text
	}
	var sb strings.Builder
	if out := strings.Join(e.Logs.Stdout, ""); out != "" {
		sb.WriteString(out)
	}
	if errOut := strings.Join(e.Logs.Stderr, ""); errOut != "" {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("[stderr]\n")
		sb.WriteString(errOut)
	}
	if e.Error != nil {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString(e.Error.String())
		if e.Error.Traceback != "" {
			sb.WriteString("\n")
			sb.WriteString(e.Error.Traceback)
		}
	}
	if sb.Len() == 0 {
		return "(no output)"
	}
	return sb.String()
}

// NormalizeLanguage lowercases lang and applies DefaultLanguage when empty.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	switch lang {
	case "":
		return DefaultLanguage
	case "py", "python3":
		return "python"
	case "js", "node":
		return "javascript"
	case "sh", "shell":
		return "bash"
	}
	return lang
}

// notify sends n to out unless ctx is done.
func notify(ctx context.Context, out chan<- Notification, n Notification) error {
	select {
	case out <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func unsupported(lang string) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
}
