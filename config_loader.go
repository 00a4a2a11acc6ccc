package sandboxserver

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"sandbox_server/agent"
	"sandbox_server/hooks"
	"sandbox_server/llm"
	"sandbox_server/sandbox"
	"sandbox_server/tools"
)

// Sandbox provider names.
const (
	SandboxE2B    = "e2b"
	SandboxDocker = "docker"
)

// DefaultSystemPrompt tells the model how to use the code sandbox.
const DefaultSystemPrompt = `You are a helpful assistant that can execute code to answer questions.

You have access to a tool called code_sandbox that runs code in a secure, isolated sandbox.
Arguments:
- code: the code to execute
- lang: the programming language (default "python")

Use it whenever running code gives a more reliable answer than reasoning alone,
for example calculations, data processing or checking how a snippet behaves.
Show the user the relevant result and explain it briefly.`

// AgentFile is the structure of the optional agent YAML file.
type AgentFile struct {
	Model         llm.Spec      `yaml:"model"`
	SystemPrompt  string        `yaml:"system_prompt"`
	MaxIterations int           `yaml:"max_iterations"`
	MaxToolOutput int           `yaml:"max_tool_output"`
	ThreadTTL     time.Duration `yaml:"thread_ttl"`
	Sandbox       SandboxSpec   `yaml:"sandbox"`
}

// SandboxSpec selects and configures the code execution provider.
type SandboxSpec struct {
	Provider string        `yaml:"provider"` // "e2b" or "docker"
	Template string        `yaml:"template"`
	APIURL   string        `yaml:"api_url"`
	Timeout  time.Duration `yaml:"timeout"`
	Image    string        `yaml:"image"`
	MemoryMB int64         `yaml:"memory_mb"`
	Network  bool          `yaml:"network"`
}

// DefaultAgentFile returns the configuration used when no file is given.
func DefaultAgentFile() *AgentFile {
	return &AgentFile{
		Model: llm.Spec{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 1000,
			Timeout:   10 * time.Second,
		},
		SystemPrompt:  DefaultSystemPrompt,
		MaxIterations: agent.MaxIterations,
		MaxToolOutput: hooks.DefaultMaxToolOutput,
		ThreadTTL:     agent.DefaultThreadTTL,
		Sandbox: SandboxSpec{
			Provider: SandboxE2B,
			Template: "code-interpreter-v1",
			Timeout:  5 * time.Minute,
			Image:    "python:3.11-slim",
			MemoryMB: 512,
		},
	}
}

// LoadAgentFile reads path over the defaults. An empty path returns the
// defaults.
func LoadAgentFile(path string) (*AgentFile, error) {
	cfg := DefaultAgentFile()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent config: %w", err)
	}

	switch cfg.Sandbox.Provider {
	case SandboxE2B, SandboxDocker:
	default:
		return nil, fmt.Errorf("unknown sandbox provider: %q", cfg.Sandbox.Provider)
	}
	return cfg, nil
}

// NewSandboxProvider creates the configured sandbox provider. The returned
// close function releases provider resources.
func NewSandboxProvider(spec SandboxSpec, secrets *Secrets) (sandbox.Provider, func(), error) {
	switch spec.Provider {
	case "", SandboxE2B:
		p := sandbox.NewE2BProvider(sandbox.E2BConfig{
			APIKey:   secrets.E2BAPIKey,
			APIURL:   spec.APIURL,
			Template: spec.Template,
			Timeout:  spec.Timeout,
		})
		return p, func() {}, nil
	case SandboxDocker:
		p, err := sandbox.NewDockerProvider(sandbox.DockerConfig{
			Image:       spec.Image,
			Timeout:     spec.Timeout,
			MemoryBytes: spec.MemoryMB * 1024 * 1024,
			Network:     spec.Network,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown sandbox provider: %q", spec.Provider)
	}
}

// NewAgent wires the model client, the code_sandbox tool and the hooks
// into an agent.
func NewAgent(file *AgentFile, secrets *Secrets, provider sandbox.Provider, threads *agent.ThreadStore, logger *zap.Logger) (*agent.Agent, error) {
	spec := file.Model
	switch spec.Provider {
	case "", "anthropic":
		spec.APIKey = secrets.AnthropicAPIKey
	case "openai":
		spec.APIKey = secrets.OpenAIAPIKey
	}
	client, err := llm.Resolve(spec)
	if err != nil {
		return nil, err
	}

	cfg := &agent.Config{
		Name:          "code-sandbox-agent",
		SystemPrompt:  file.SystemPrompt,
		MaxTokens:     spec.MaxTokens,
		MaxIterations: file.MaxIterations,
	}
	agentTools := []agent.Tool{tools.NewCodeSandbox(provider, logger)}
	agentHooks := []agent.Hook{
		hooks.NewLoggingHook(logger),
		hooks.NewOutputLimitHook(file.MaxToolOutput),
	}
	return agent.NewAgent(cfg, client, agentTools, agentHooks, threads), nil
}
