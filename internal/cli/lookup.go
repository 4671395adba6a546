package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"market-intel/internal/app"
)

var (
	lookupLimit    int
	lookupEstimate bool

	classifyPrice   string
	classifyAverage string
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <query>",
	Short: "Show comparable sold items for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.LookupOptions{
			Query:    strings.Join(args, " "),
			Limit:    lookupLimit,
			Estimate: lookupEstimate,
		}
		return getApp().Lookup(cmd.Context(), opts)
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a current price against a market average",
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := decimal.NewFromString(classifyPrice)
		if err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}
		average, err := decimal.NewFromString(classifyAverage)
		if err != nil {
			return fmt.Errorf("invalid --average value: %w", err)
		}
		if current.IsNegative() || average.IsNegative() {
			return fmt.Errorf("--price and --average cannot be negative")
		}
		return getApp().Classify(current, average)
	},
}

func init() {
	lookupCmd.Flags().IntVar(&lookupLimit, "limit", 0, "Maximum comparable sales (defaults to reconcile.sample_bound)")
	lookupCmd.Flags().BoolVar(&lookupEstimate, "estimate", false, "Print the computed snapshot instead of the sales")

	classifyCmd.Flags().StringVar(&classifyPrice, "price", "", "Current listing price")
	classifyCmd.Flags().StringVar(&classifyAverage, "average", "", "Market average sold price")
	_ = classifyCmd.MarkFlagRequired("price")
	_ = classifyCmd.MarkFlagRequired("average")
}

func parseTTL(raw string) (time.Duration, error) {
	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --ttl value: %w", err)
	}
	if ttl < 0 {
		return 0, fmt.Errorf("--ttl cannot be negative")
	}
	return ttl, nil
}
