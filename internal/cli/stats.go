package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStats(cmd, rootOpts, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit statistics as JSON")

	return cmd
}

func printStats(cmd *cobra.Command, opts *RootOptions, asJSON bool) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg, opts.Verbose)

	database, store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := store.Stats(context.Background(), time.Now())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return json.NewEncoder(out).Encode(stats)
	}

	fmt.Fprintf(out, "Total operations:   %d\n", stats.Total)
	fmt.Fprintf(out, "Due now:            %d\n", stats.Due)
	for kind, count := range stats.ByKind {
		fmt.Fprintf(out, "  %-8s %d\n", kind, count)
	}
	return nil
}
