// Package cli implements the localsync command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arborapp/localsync/internal/config"
	"github.com/arborapp/localsync/internal/db"
	"github.com/arborapp/localsync/internal/queue"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
}

// NewRootCommand creates the root command for the localsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "localsync",
		Short: "Local-first operation queue and sync engine",
		Long: `localsync queues local mutations in a durable SQLite store, merges
redundant edits at enqueue time, and reconciles the queue against the
backend under a rate limit whenever the network allows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to configuration file (TOML)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))

	return cmd
}

// Execute runs the CLI and returns a process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// loadConfig loads and validates configuration for a command.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured database, applies migrations, and wraps
// it in a queue store. The caller closes the returned database.
func openStore(cfg *config.Config, logger *slog.Logger) (*db.DB, *queue.Store, error) {
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Database.SkipMigrations {
		if err := db.RunMigrations(database); err != nil {
			database.Close()
			return nil, nil, err
		}
	}

	return database, queue.NewStore(database, logger), nil
}

// newLogger builds the process logger from config and the verbose flag.
func newLogger(cfg *config.Config, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, options)
	} else {
		handler = slog.NewTextHandler(os.Stderr, options)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
