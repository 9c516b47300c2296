package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/multivec/internal/logging"
	"github.com/Aman-CERP/multivec/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine as MCP tools over stdio",
		Long: `Serve exposes search, ingest, models, and reindex tools over the
Model Context Protocol. stdout carries JSON-RPC exclusively; logs go to
the log file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio")
	return cmd
}

func runServe(ctx context.Context, transport string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if transport == "" {
		transport = cfg.Server.Transport
	}

	// stdout must carry only JSON-RPC from here on.
	level := cfg.Logging.Level
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupMCPMode(level, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()

	a, err := openApp(ctx)
	if err != nil {
		slog.Error("engine startup failed", slog.String("error", err.Error()))
		return err
	}
	defer func() {
		if saveErr := a.Save(); saveErr != nil {
			slog.Error("persist vector indexes failed", slog.String("error", saveErr.Error()))
		}
		_ = a.Close()
	}()

	server, err := mcp.NewServer(mcp.Deps{
		Engine:       a.Engine,
		Pipeline:     a.Pipeline,
		Orchestrator: a.Orchestrator,
		Registry:     a.Registry,
		Idempotency:  a.Idempotency,
	})
	if err != nil {
		return err
	}

	return server.Serve(ctx, transport)
}
