package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scottyroges/cortex"
	"github.com/scottyroges/cortex/infrastructure/api"
)

func serveCmd() *cobra.Command {
	var (
		port  int
		debug bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP daemon",
		Long: `Start the Cortex HTTP daemon.

Configuration is loaded from <data>/config.yaml and CORTEX_* environment
variables (later sources override earlier):

  CORTEX_DATA_PATH    Data directory (default: ~/.cortex)
  CORTEX_HTTP_PORT    Port to listen on
  CORTEX_DB_PATH      SQLite database path
  CORTEX_LOG_FILE     Log file path
  CORTEX_DEBUG        Enable debug logging
  CORTEX_LLM_PROVIDER Summary provider: anthropic, claude-cli, ollama, openrouter, none`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port, debug)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (overrides config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func runServe(port int, debug bool) error {
	if debug {
		os.Setenv("CORTEX_DEBUG", "true")
	}

	client, err := cortex.New()
	if err != nil {
		return fmt.Errorf("create cortex client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			client.Logger().Error("failed to close cortex client", slog.Any("error", err))
		}
	}()

	cfg := client.Config()
	logger := client.Logger()

	if port == 0 {
		port = cfg.HTTPPort()
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	apiServer := api.NewAPIServer(api.Deps{
		Registry:     client.Registry(),
		Store:        client.Store(),
		Browse:       client.Browse,
		Capture:      client.Capture,
		IngestQueue:  client.IngestTasks,
		CaptureQueue: client.CaptureTasks,
		Delta:        client.Delta(),
		Config:       cfg,
		Version:      version,
		Log:          logger,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutting down daemon", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
	}()

	logger.Info("starting cortex daemon",
		slog.String("version", version),
		slog.String("addr", addr),
		slog.String("data_dir", cfg.DataDir()),
	)
	if err := apiServer.ListenAndServe(addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
