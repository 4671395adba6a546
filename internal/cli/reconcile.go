package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"market-intel/internal/app"
)

var (
	reconcileIDs         []string
	reconcileAll         bool
	reconcileLimit       int
	reconcileConcurrency int
	reconcileTTL         string
	reconcileJSON        bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Refresh market snapshots and price flags for catalog items",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(reconcileIDs) > 0 && reconcileAll {
			return fmt.Errorf("--ids and --all are mutually exclusive")
		}
		if reconcileConcurrency < 0 {
			return fmt.Errorf("--concurrency cannot be negative")
		}

		opts := app.ReconcileOptions{
			IDs:         reconcileIDs,
			All:         reconcileAll,
			Limit:       reconcileLimit,
			Concurrency: reconcileConcurrency,
			JSON:        reconcileJSON,
		}

		if cmd.Flags().Changed("ttl") {
			ttl, err := parseTTL(reconcileTTL)
			if err != nil {
				return err
			}
			opts.TTL = &ttl
		}

		return getApp().Reconcile(cmd.Context(), opts)
	},
}

func init() {
	reconcileCmd.Flags().StringSliceVar(&reconcileIDs, "ids", nil, "Comma separated catalog item ids")
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "Reconcile every catalog item (bounded by --limit)")
	reconcileCmd.Flags().IntVar(&reconcileLimit, "limit", 0, "Maximum items with --all (defaults to reconcile.batch_size)")
	reconcileCmd.Flags().IntVar(&reconcileConcurrency, "concurrency", 0, "Items processed in parallel (defaults to config)")
	reconcileCmd.Flags().StringVar(&reconcileTTL, "ttl", "", "Snapshot time-to-live, e.g. 6h; 0 forces a refresh")
	reconcileCmd.Flags().BoolVar(&reconcileJSON, "json", false, "Print the report as JSON")
}
