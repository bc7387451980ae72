package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arborapp/localsync/internal/db"
	"github.com/arborapp/localsync/internal/netmon"
	"github.com/arborapp/localsync/internal/queue"
	"github.com/arborapp/localsync/internal/ratelimit"
	"github.com/arborapp/localsync/internal/remote"
	"github.com/arborapp/localsync/internal/syncer"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: `Run the sync engine as a foreground daemon: open the local store,
start the rate limiter and network monitor, and reconcile the operation
queue against the backend until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts)
		},
	}
}

func runDaemon(opts *RootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg, opts.Verbose)
	logger.Info("starting localsync",
		"dsn", cfg.Database.DSN,
		"remote", cfg.Remote.BaseURL)

	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	if !cfg.Database.SkipMigrations {
		if err := db.RunMigrations(database); err != nil {
			return err
		}
		version, err := db.CurrentVersion(database)
		if err != nil {
			return err
		}
		logger.Info("store schema ready", "version", version)
	} else {
		logger.Info("skipping migrations", "reason", "configured to skip")
	}

	store := queue.NewStore(database, logger)
	bucket := ratelimit.NewBucket(cfg.RateLimit)
	client := remote.NewClient(cfg.Remote, logger)

	// Desktop builds assume the link is always up; reachability comes from
	// probing. Mobile ports inject a platform connectivity source here.
	source := netmon.NewStaticSource(netmon.ConnectivityWifi)
	monitor, err := netmon.NewMonitor(cfg.Network, source, logger)
	if err != nil {
		return err
	}

	manager, err := syncer.NewManager(cfg.Syncer, store, bucket, monitor, client, nil, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go bucket.Run(ctx)
	go monitor.Run(ctx)
	go manager.Run(ctx)

	// Surface terminal failures in the log; a UI layer would subscribe here
	go func() {
		for failure := range manager.Failures() {
			logger.Error("operation failed terminally",
				"merge_key", failure.Record.MergeKey(),
				"kind", failure.Record.Kind,
				"error", failure.Err)
		}
	}()

	logger.Info("localsync is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("shutting down gracefully", "signal", sig.String())
	manager.Shutdown()
	cancel()
	return nil
}
