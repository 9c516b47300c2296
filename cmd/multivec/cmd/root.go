// Package cmd provides the CLI commands for multivec.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/multivec/internal/app"
	"github.com/Aman-CERP/multivec/internal/config"
	"github.com/Aman-CERP/multivec/internal/logging"
	"github.com/Aman-CERP/multivec/pkg/version"
)

// Persistent flags shared by every command.
var (
	configPath string
	dataDir    string
	debugMode  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the multivec CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "multivec",
		Short: "Multi-model document ingestion and fused retrieval engine",
		Long: `Multivec chunks documents, embeds them under every configured
embedding model, and serves searches that fuse per-model result lists
with reciprocal rank fusion.

Run 'multivec serve' to expose the engine as MCP tools over stdio.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("multivec version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.multivec/config.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newModelsCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging routes CLI logs to the log file so stdout stays clean
// for command output. The serve command replaces this with MCP-mode
// logging before it touches stdout.
func setupLogging(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "serve" {
		return nil
	}

	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if debugMode {
		logCfg.Level = "debug"
	}
	_, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// loadConfig loads the configuration with flag overrides applied.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(config.Default().DataDir, "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openApp assembles the engine for a command invocation.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Debug("engine opened", slog.String("data_dir", cfg.DataDir))
	return a, nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
