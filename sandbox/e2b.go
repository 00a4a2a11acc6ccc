package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultE2BAPIURL    = "https://api.e2b.app"
	defaultE2BDomain    = "e2b.app"
	defaultE2BTemplate  = "code-interpreter-v1"
	codeInterpreterPort = 49999
)

// E2BConfig configures the E2B cloud sandbox provider.
type E2BConfig struct {
	APIKey   string
	APIURL   string
	Domain   string
	Template string
	// Timeout is the sandbox idle lifetime enforced by E2B.
	Timeout time.Duration
	// ExecURL overrides the code interpreter address of a sandbox, for
	// self-hosted deployments.
	ExecURL    func(sandboxID string) string
	HTTPClient *http.Client
}

// E2BProvider creates sandboxes through the E2B REST API.
type E2BProvider struct {
	cfg    E2BConfig
	client *http.Client
}

// NewE2BProvider creates an E2B provider.
func NewE2BProvider(cfg E2BConfig) *E2BProvider {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultE2BAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Domain == "" {
		cfg.Domain = defaultE2BDomain
	}
	if cfg.Template == "" {
		cfg.Template = defaultE2BTemplate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &E2BProvider{cfg: cfg, client: client}
}

type e2bCreateRequest struct {
	TemplateID string `json:"templateID"`
	Timeout    int    `json:"timeout"`
}

type e2bSandbox struct {
	SandboxID       string `json:"sandboxID"`
	TemplateID      string `json:"templateID"`
	ClientID        string `json:"clientID"`
	EnvdAccessToken string `json:"envdAccessToken"`
}

// Create provisions a new sandbox.
func (p *E2BProvider) Create(ctx context.Context) (Environment, error) {
	body, err := json.Marshal(e2bCreateRequest{
		TemplateID: p.cfg.Template,
		Timeout:    int(p.cfg.Timeout / time.Second),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL+"/sandboxes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("create sandbox: E2B API error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var sb e2bSandbox
	if err := json.NewDecoder(resp.Body).Decode(&sb); err != nil {
		return nil, fmt.Errorf("create sandbox: parse response: %w", err)
	}
	if sb.SandboxID == "" {
		return nil, fmt.Errorf("create sandbox: response has no sandbox id")
	}

	execURL := fmt.Sprintf("https://%d-%s.%s", codeInterpreterPort, sb.SandboxID, p.cfg.Domain)
	if p.cfg.ExecURL != nil {
		execURL = p.cfg.ExecURL(sb.SandboxID)
	}
	return &e2bEnvironment{
		id:          sb.SandboxID,
		execURL:     strings.TrimRight(execURL, "/"),
		accessToken: sb.EnvdAccessToken,
		client:      p.client,
	}, nil
}

type e2bEnvironment struct {
	id          string
	execURL     string
	accessToken string
	client      *http.Client
}

func (e *e2bEnvironment) ID() string { return e.id }

type e2bExecuteRequest struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

// e2bLine is one NDJSON line of the execute response.
type e2bLine struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	IsMainResult bool   `json:"is_main_result"`
	Name         string `json:"name"`
	Value        string `json:"value"`
	Traceback    string `json:"traceback"`
}

// RunCode streams an execution from the sandbox's code interpreter.
func (e *e2bEnvironment) RunCode(ctx context.Context, code, language string, out chan<- Notification) (*Execution, error) {
	defer close(out)

	body, err := json.Marshal(e2bExecuteRequest{Code: code, Language: NormalizeLanguage(language)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.execURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.accessToken != "" {
		req.Header.Set("X-Access-Token", e.accessToken)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute in sandbox %s: %w", e.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("execute in sandbox %s: error %d: %s", e.id, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	exec := &Execution{}
	scanner := bufio.NewScanner(resp.Body)
	// results may carry base64 images
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var l e2bLine
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, fmt.Errorf("parse execution output: %w", err)
		}

		var n *Notification
		switch l.Type {
		case "stdout":
			exec.Logs.Stdout = append(exec.Logs.Stdout, l.Text)
			n = &Notification{Kind: KindStdout, Text: l.Text}
		case "stderr":
			exec.Logs.Stderr = append(exec.Logs.Stderr, l.Text)
			n = &Notification{Kind: KindStderr, Text: l.Text}
		case "result":
			exec.Results = append(exec.Results, Result{Text: l.Text, IsMainResult: l.IsMainResult})
			n = &Notification{Kind: KindResult, Text: l.Text}
		case "error":
			exec.Error = &ExecutionError{Name: l.Name, Value: l.Value, Traceback: l.Traceback}
			n = &Notification{Kind: KindError, Text: exec.Error.String()}
		}
		if n != nil {
			if err := notify(ctx, out, *n); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read execution output: %w", err)
	}
	return exec, nil
}
