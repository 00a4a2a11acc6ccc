package llm

import (
	"fmt"
	"time"
)

// Spec selects and configures a model provider.
type Spec struct {
	Provider  string        `yaml:"provider"` // "anthropic", "ollama" or "openai"
	Model     string        `yaml:"name"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
	APIKey    string        `yaml:"-"`
}

// Resolve returns a Client for the given spec.
func Resolve(spec Spec) (Client, error) {
	switch spec.Provider {
	case "", "anthropic":
		if spec.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an api key")
		}
		return NewAnthropicClient(spec.APIKey, spec.Model, spec.Timeout), nil
	case "ollama":
		baseURL := spec.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return NewOllamaClient(baseURL, spec.Model, spec.Timeout)
	case "openai":
		if spec.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an api key")
		}
		return NewOpenAIClient(spec.BaseURL, spec.APIKey, spec.Model, spec.Timeout)
	default:
		return nil, fmt.Errorf("unknown provider: %q", spec.Provider)
	}
}
