package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent reconciliation runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show runs")
	if err != nil {
		return err
	}
	defer closeStore()

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tRun\tTrigger\tItems\tOK\tFailed\tSkipped\tRefreshed\tDuration\tCancelled")

	for _, run := range runs {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%t\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.ID,
			run.Trigger,
			run.Total,
			run.Succeeded,
			run.Failed,
			run.NotAttempted,
			run.Refreshed,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			run.Cancelled,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
