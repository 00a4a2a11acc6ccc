package sandboxserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"sandbox_server/logging"
)

// DefaultFrontendURL is the frontend origin allowed when FRONTEND_URL is unset.
const DefaultFrontendURL = "http://localhost:5173"

// AppConfig holds server-level runtime configuration.
type AppConfig struct {
	Host        string
	Port        int
	FrontendURL string
	// AgentConfig is the path of an optional agent YAML file.
	AgentConfig      string
	StreamToolOutput bool
	KeepAlive        time.Duration
	Log              logging.Config
}

// SetDefaults registers the default of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("frontend_url", DefaultFrontendURL)
	v.SetDefault("agent_config", "")
	v.SetDefault("stream_tool_output", false)
	v.SetDefault("keep_alive", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// LoadAppConfig reads the settings from v. Environment variables override
// defaults; flags bound to v override both.
func LoadAppConfig(v *viper.Viper) (*AppConfig, error) {
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &AppConfig{
		Host:             v.GetString("host"),
		Port:             v.GetInt("port"),
		FrontendURL:      v.GetString("frontend_url"),
		AgentConfig:      v.GetString("agent_config"),
		StreamToolOutput: v.GetBool("stream_tool_output"),
		KeepAlive:        v.GetDuration("keep_alive"),
		Log: logging.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Origins returns the CORS allow-list: the local development origins plus
// the configured frontend.
func (c *AppConfig) Origins() []string {
	origins := []string{
		"http://localhost",
		"http://localhost:5173",
		"http://localhost:8080",
	}
	if c.FrontendURL != "" {
		for _, o := range origins {
			if o == c.FrontendURL {
				return origins
			}
		}
		origins = append(origins, c.FrontendURL)
	}
	return origins
}

// Secrets holds the API keys of the selected providers.
type Secrets struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	E2BAPIKey       string
}

type anthropicEnv struct {
	APIKey string `env:"ANTHROPIC_API_KEY,required,notEmpty"`
}

type openAIEnv struct {
	APIKey string `env:"OPENAI_API_KEY,required,notEmpty"`
}

type e2bEnv struct {
	APIKey string `env:"E2B_API_KEY,required,notEmpty"`
}

// LoadSecrets reads the keys required by the configured model and sandbox
// providers from the environment. A missing key is an error.
func LoadSecrets(file *AgentFile) (*Secrets, error) {
	s := &Secrets{}

	switch file.Model.Provider {
	case "", "anthropic":
		e, err := env.ParseAs[anthropicEnv]()
		if err != nil {
			return nil, fmt.Errorf("model provider anthropic: %w", err)
		}
		s.AnthropicAPIKey = e.APIKey
	case "openai":
		e, err := env.ParseAs[openAIEnv]()
		if err != nil {
			return nil, fmt.Errorf("model provider openai: %w", err)
		}
		s.OpenAIAPIKey = e.APIKey
	}

	if file.Sandbox.Provider == "" || file.Sandbox.Provider == SandboxE2B {
		e, err := env.ParseAs[e2bEnv]()
		if err != nil {
			return nil, fmt.Errorf("sandbox provider e2b: %w", err)
		}
		s.E2BAPIKey = e.APIKey
	}
	return s, nil
}
