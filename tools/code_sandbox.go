// Package tools holds the tools exposed to the agent.
package tools

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sandbox_server/agent"
	"sandbox_server/sandbox"
)

// CodeSandboxName is the tool name the model calls.
const CodeSandboxName = "code_sandbox"

// CodeSandbox runs model-written code in a freshly provisioned sandbox and
// forwards execution progress to the run's stream writer.
type CodeSandbox struct {
	provider sandbox.Provider
	logger   *zap.Logger
}

// NewCodeSandbox creates the code_sandbox tool.
func NewCodeSandbox(provider sandbox.Provider, logger *zap.Logger) *CodeSandbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CodeSandbox{provider: provider, logger: logger.Named("code_sandbox")}
}

var _ agent.Tool = (*CodeSandbox)(nil)

func (t *CodeSandbox) Name() string { return CodeSandboxName }

func (t *CodeSandbox) Description() string {
	return "Execute code in a secure, isolated sandbox and return its output. " +
		"Use it for calculations, data processing and anything that benefits from running real code."
}

func (t *CodeSandbox) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "The code to execute.",
			},
			"lang": map[string]any{
				"type":        "string",
				"description": "Programming language of the code.",
				"default":     sandbox.DefaultLanguage,
			},
		},
		"required": []string{"code"},
	}
}

// Execute provisions an environment, runs the code and returns the
// execution's textual representation.
func (t *CodeSandbox) Execute(ctx context.Context, args map[string]any) (string, error) {
	code, ok := args["code"].(string)
	if !ok {
		return "", fmt.Errorf("missing required argument: code")
	}
	lang, _ := args["lang"].(string)
	if lang == "" {
		lang = sandbox.DefaultLanguage
	}

	env, err := t.provider.Create(ctx)
	if err != nil {
		return "", fmt.Errorf("create sandbox: %w", err)
	}
	t.logger.Debug("sandbox created", zap.String("sandbox_id", env.ID()), zap.String("lang", lang))

	write := agent.StreamWriterFromContext(ctx)
	out := make(chan sandbox.Notification, 16)
	abandon := make(chan struct{})
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for {
			select {
			case n, ok := <-out:
				if !ok {
					return
				}
				write(n)
			case <-abandon:
				return
			}
		}
	}()

	exec, err := runCode(ctx, env, code, lang, out)
	if errors.Is(err, errRunPanicked) {
		// out may never be closed.
		close(abandon)
	}
	<-forwarded
	if err != nil {
		return "", fmt.Errorf("run code in sandbox %s: %w", env.ID(), err)
	}
	return exec.Summary(), nil
}

var errRunPanicked = errors.New("sandbox run panicked")

func runCode(ctx context.Context, env sandbox.Environment, code, lang string, out chan<- sandbox.Notification) (exec *sandbox.Execution, err error) {
	defer func() {
		if r := recover(); r != nil {
			exec, err = nil, fmt.Errorf("%w: %v", errRunPanicked, r)
		}
	}()
	return env.RunCode(ctx, code, lang, out)
}
