// Package sandboxserver serves a code-executing chat agent to a browser:
// messages are submitted with POST and the answer is streamed back as
// Server-Sent Events.
package sandboxserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"sandbox_server/agent"
	"sandbox_server/handlers"
	"sandbox_server/logging"
	"sandbox_server/stream"
)

// Server is the HTTP server. Create one with New() and call Start().
type Server struct {
	host              string
	port              int
	origins           []string
	forwardToolOutput bool
	keepAlive         time.Duration
	logger            *zap.Logger

	agent    stream.Agent
	registry *stream.Registry
	closers  []func()
	srv      *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithPort sets the listen port (default 8000).
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithHost sets the listen host (default "0.0.0.0").
func WithHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// WithOrigins sets the CORS allow-list.
func WithOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithLogger sets the logger (default: no-op).
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithToolOutput streams sandbox progress to clients as tool_output records.
func WithToolOutput(enabled bool) Option {
	return func(s *Server) { s.forwardToolOutput = enabled }
}

// WithKeepAlive sets the interval of SSE keep-alive comments. Zero disables them.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) { s.keepAlive = d }
}

// WithCloser registers a function run by Close.
func WithCloser(fn func()) Option {
	return func(s *Server) { s.closers = append(s.closers, fn) }
}

// New creates a Server that answers messages with ag.
func New(ag stream.Agent, opts ...Option) *Server {
	s := &Server{
		host:     "0.0.0.0",
		port:     8000,
		origins:  []string{DefaultFrontendURL},
		logger:   zap.NewNop(),
		agent:    ag,
		registry: stream.NewRegistry(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FromConfig builds a fully wired Server from cfg. Missing secrets for the
// selected providers are an error.
func FromConfig(cfg *AppConfig, logger *zap.Logger) (*Server, error) {
	file, err := LoadAgentFile(cfg.AgentConfig)
	if err != nil {
		return nil, err
	}
	secrets, err := LoadSecrets(file)
	if err != nil {
		return nil, err
	}
	provider, closeProvider, err := NewSandboxProvider(file.Sandbox, secrets)
	if err != nil {
		return nil, err
	}

	threads := agent.NewThreadStore(file.ThreadTTL)
	ag, err := NewAgent(file, secrets, provider, threads, logger)
	if err != nil {
		threads.Close()
		closeProvider()
		return nil, err
	}

	logger.Info("agent configured",
		zap.String("model_provider", file.Model.Provider),
		zap.String("model", file.Model.Model),
		zap.String("sandbox_provider", file.Sandbox.Provider),
	)

	return New(ag,
		WithHost(cfg.Host),
		WithPort(cfg.Port),
		WithOrigins(cfg.Origins()),
		WithLogger(logger),
		WithToolOutput(cfg.StreamToolOutput),
		WithKeepAlive(cfg.KeepAlive),
		WithCloser(threads.Close),
		WithCloser(closeProvider),
	), nil
}

// Handler builds the route tree wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	driver := stream.NewDriver(s.registry, s.agent, s.logger)
	driver.ForwardToolOutput = s.forwardToolOutput
	driver.KeepAlive = s.keepAlive

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	handlers.RegisterRoutes(router, &handlers.Deps{
		Streams:        s.registry,
		Driver:         driver,
		Logger:         s.logger,
		AllowedOrigins: s.origins,
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowCredentials: true,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodHead, http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
	})
	return logging.Middleware(s.logger, c.Handler(router))
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disable for SSE
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("sandbox_server starting", zap.String("addr", addr), zap.Strings("origins", s.origins))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutting down")
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// Close releases resources registered with WithCloser.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
