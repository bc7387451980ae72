package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arborapp/localsync/internal/queue"
)

// NewEnqueueCommand creates the enqueue command, a development tool that
// writes an operation straight into the local store.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		priority string
		payload  string
		version  int64
	)

	cmd := &cobra.Command{
		Use:   "enqueue <object-type> <object-id> <create|update|delete>",
		Short: "Queue an operation for sync",
		Long: `Queue an operation in the local store. Operations for the same object
merge into the pending record instead of stacking up.

Example:
  localsync enqueue goal goal-123 update --payload '{"title":"Learn Spanish"}'
  localsync enqueue habit habit-7 delete --priority high`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueueOperation(cmd, rootOpts, args, priority, payload, version)
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "normal", "priority (low|normal|high|critical)")
	cmd.Flags().StringVar(&payload, "payload", "", "operation payload as JSON")
	cmd.Flags().Int64Var(&version, "version", 0, "object version for last-writer-wins merging")

	return cmd
}

func enqueueOperation(cmd *cobra.Command, opts *RootOptions, args []string, priority, payload string, version int64) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := newLogger(cfg, opts.Verbose)

	var decoded map[string]any
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
			return fmt.Errorf("invalid payload JSON: %w", err)
		}
	}

	prio, err := parsePriority(priority)
	if err != nil {
		return err
	}

	database, store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	rec := queue.NewRecord(args[0], args[1], queue.Kind(args[2]), decoded)
	rec.Priority = prio
	rec.Version = version

	stored, merged, err := store.InsertOrMerge(context.Background(), rec)
	if err != nil {
		return err
	}

	verb := "queued"
	if merged {
		verb = "merged into pending operation"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Operation %s: %s %s (priority %s)\n",
		verb, stored.Kind, stored.MergeKey(), stored.Priority)
	return nil
}

func parsePriority(s string) (queue.Priority, error) {
	switch s {
	case "low":
		return queue.PriorityLow, nil
	case "normal":
		return queue.PriorityNormal, nil
	case "high":
		return queue.PriorityHigh, nil
	case "critical":
		return queue.PriorityCritical, nil
	default:
		return 0, fmt.Errorf("invalid priority %q: must be low, normal, high, or critical", s)
	}
}
