package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"market-intel/internal/market"
)

// TriggerManual marks runs started from the CLI.
const TriggerManual = "manual"

// Reconcile runs one batch over the selected catalog items, records the report
// and prints it.
func (a *App) Reconcile(ctx context.Context, opts ReconcileOptions) error {
	if len(opts.IDs) == 0 && !opts.All {
		return errors.New("provide --ids or --all")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx, "reconcile")
	if err != nil {
		return err
	}
	defer closeStore()

	ids := opts.IDs
	if opts.All {
		limit := opts.Limit
		if limit <= 0 {
			limit = a.Config.Reconcile.BatchSize
		}
		ids, err = store.ListItemIDs(ctx, limit)
		if err != nil {
			return err
		}
	}

	runOpts := a.reconcileOptions()
	if opts.Concurrency > 0 {
		runOpts.Concurrency = opts.Concurrency
	}
	if opts.TTL != nil {
		runOpts.TTL = *opts.TTL
	}

	report, err := a.newReconciler(store).Reconcile(ctx, ids, runOpts)
	if err != nil {
		return err
	}

	// The report is recorded even when the run was interrupted.
	if err := store.SaveRun(context.WithoutCancel(ctx), TriggerManual, report); err != nil {
		a.Logger.Error().Err(err).Str("run_id", report.RunID).Msg("failed to record run")
	}

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return a.printReport(report)
}

func (a *App) printReport(report market.Report) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Run %s: %d succeeded, %d failed, %d not attempted, %d refreshed\n",
		report.RunID, report.Succeeded, report.Failed, report.NotAttempted, report.Refreshed)
	fmt.Fprintln(writer, "Item\tStatus\tRefreshed\tAverage\tSamples\tFlag\tPct\tError")

	for _, out := range report.Outcomes {
		avg, samples, flag, pct := "", "", "", ""
		if out.Snapshot != nil {
			avg = formatDecimal(out.Snapshot.AverageSoldPrice, 2)
			samples = fmt.Sprint(out.Snapshot.SampleSize)
		}
		if out.Flag != nil {
			flag = string(out.Flag.Status)
			pct = fmt.Sprint(out.Flag.Percentage)
		}
		fmt.Fprintf(writer, "%s\t%s\t%t\t%s\t%s\t%s\t%s\t%s\n",
			out.ItemID, out.Status, out.Refreshed, avg, samples, flag, pct, sanitizeInline(out.Error))
	}
	return writer.Flush()
}
