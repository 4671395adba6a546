package app

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"market-intel/internal/pricing"
)

// Lookup prints comparable sales for a query, or the snapshot they produce.
func (a *App) Lookup(ctx context.Context, opts LookupOptions) error {
	limit := opts.Limit
	if limit <= 0 {
		limit = a.Config.Reconcile.SampleBound
	}

	engine := a.newReconciler(nil)
	if opts.Estimate {
		snap, err := engine.Estimate(ctx, opts.Query, limit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	items, err := engine.Lookup(ctx, opts.Query, limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(a.Out, "no comparable sales found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sold\tPrice\tCondition\tTitle\tLink")
	for _, item := range items {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			item.SoldDate.Format(time.DateOnly),
			formatDecimal(item.Price, 2),
			item.Condition,
			sanitizeInline(item.Title),
			item.SourceLink,
		)
	}
	return writer.Flush()
}

// Classify prints the flag a current price earns against a market average.
func (a *App) Classify(current, average decimal.Decimal) error {
	flag := pricing.Classify(current, average)
	fmt.Fprintf(a.Out, "%s (%+d%%)\n", flag.Status, flag.Percentage)
	return nil
}
