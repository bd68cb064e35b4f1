package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/scottyroges/cortex"
	"github.com/scottyroges/cortex/internal/config"
	"github.com/scottyroges/cortex/internal/log"
	"github.com/scottyroges/cortex/internal/mcp"
)

func stdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Start MCP server on stdio",
		Long: `Start the MCP (Model Context Protocol) server on stdio.

This lets AI assistants call the Cortex tools directly over the stdio
transport. Logging goes to the daemon log file only, since stdout carries
the protocol stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStdio()
		},
	}
}

func runStdio() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := log.Configure(log.Options{
		Debug:    cfg.Debug(),
		LogFile:  cfg.LogFile(),
		FileOnly: true,
	})

	logger.Info("starting MCP stdio server",
		slog.String("version", version),
		slog.String("data_dir", cfg.DataDir()),
	)

	client, err := cortex.New(
		cortex.WithConfig(cfg),
		cortex.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create cortex client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close cortex client", slog.Any("error", err))
		}
	}()

	mcpServer := mcp.NewServer(client.Registry(), version, logger)
	return mcpServer.ServeStdio()
}
