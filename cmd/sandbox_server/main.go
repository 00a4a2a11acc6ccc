package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	sandboxserver "sandbox_server"
	"sandbox_server/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "sandbox_server",
		Short:         "Stream a code-executing chat agent over Server-Sent Events",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	f := cmd.Flags()
	f.String("host", "0.0.0.0", "listen host")
	f.Int("port", 8000, "listen port")
	f.String("frontend-url", sandboxserver.DefaultFrontendURL, "frontend origin allowed by CORS")
	f.String("agent-config", "", "path of the agent YAML file")
	f.Bool("stream-tool-output", false, "forward sandbox output to clients while code runs")
	f.Duration("keep-alive", 15*time.Second, "interval of SSE keep-alive comments, 0 disables them")
	f.String("log-level", "info", "debug, info, warn or error")
	f.String("log-format", "console", "console or json")

	bindings := map[string]string{
		"host":               "host",
		"port":               "port",
		"frontend_url":       "frontend-url",
		"agent_config":       "agent-config",
		"stream_tool_output": "stream-tool-output",
		"keep_alive":         "keep-alive",
		"log.level":          "log-level",
		"log.format":         "log-format",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, f.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	cfg, err := sandboxserver.LoadAppConfig(v)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	srv, err := sandboxserver.FromConfig(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Start(ctx)
}
