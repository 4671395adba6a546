package estimator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-intel/internal/fetcher"
	"market-intel/internal/market"
)

// SuggestFunc derives a suggested listing price from the market average.
type SuggestFunc func(average decimal.Decimal) decimal.Decimal

// PassThrough suggests the market average unchanged.
func PassThrough(average decimal.Decimal) decimal.Decimal {
	return average
}

// Factor returns a SuggestFunc applying a markup (>1) or markdown (<1),
// rounded to cents. A non-positive or unit factor is a pass-through.
func Factor(f decimal.Decimal) SuggestFunc {
	if f.Sign() <= 0 || f.Equal(decimal.NewFromInt(1)) {
		return PassThrough
	}
	return func(average decimal.Decimal) decimal.Decimal {
		return average.Mul(f).Round(2)
	}
}

// Options tune an Estimator.
type Options struct {
	Suggest SuggestFunc
	Now     func() time.Time
}

// Estimator reduces comparable sales into a market snapshot.
type Estimator struct {
	source  fetcher.SoldItemsSource
	suggest SuggestFunc
	now     func() time.Time
	logger  zerolog.Logger
}

// New constructs an Estimator over source.
func New(source fetcher.SoldItemsSource, opts Options, logger zerolog.Logger) *Estimator {
	suggest := opts.Suggest
	if suggest == nil {
		suggest = PassThrough
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Estimator{
		source:  source,
		suggest: suggest,
		now:     now,
		logger:  logger.With().Str("component", "estimator").Logger(),
	}
}

// NormalizeQuery trims query and rejects blank input.
func NormalizeQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", fmt.Errorf("%w: query is blank", market.ErrInvalidQuery)
	}
	return q, nil
}

// Comparables returns up to sampleBound sold items for query. Source failures
// are reported as market.ErrSourceUnavailable wrapping the cause, so context
// cancellation stays detectable with errors.Is.
func (e *Estimator) Comparables(ctx context.Context, query string, sampleBound int) ([]market.SoldItem, error) {
	q, err := NormalizeQuery(query)
	if err != nil {
		return nil, err
	}
	if sampleBound <= 0 {
		return nil, fmt.Errorf("sample bound must be positive, got %d", sampleBound)
	}

	items, err := e.source.SearchSoldItems(ctx, q, sampleBound)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", market.ErrSourceUnavailable, err)
	}
	if len(items) > sampleBound {
		items = items[:sampleBound]
	}
	return items, nil
}

// Estimate queries comparable sales and computes a snapshot. An empty sample
// is a valid result with SampleSize 0.
func (e *Estimator) Estimate(ctx context.Context, query string, sampleBound int) (market.Snapshot, error) {
	items, err := e.Comparables(ctx, query, sampleBound)
	if err != nil {
		return market.Snapshot{}, err
	}

	snap := Summarize(items, e.suggest)
	snap.LastCheckedAt = e.now().UTC().Truncate(time.Microsecond)
	if linker, ok := e.source.(fetcher.ReferenceLinker); ok {
		q, _ := NormalizeQuery(query)
		snap.ReferenceLink = linker.SearchURL(q, sampleBound)
	}

	e.logger.Debug().
		Str("query", query).
		Int("sample_size", snap.SampleSize).
		Str("average", snap.AverageSoldPrice.String()).
		Msg("estimate computed")
	return snap, nil
}

// Summarize computes the arithmetic mean price, latest sold date and suggested
// price of items. No outliers are trimmed. LastCheckedAt is left unset.
func Summarize(items []market.SoldItem, suggest SuggestFunc) market.Snapshot {
	if suggest == nil {
		suggest = PassThrough
	}
	if len(items) == 0 {
		return market.Snapshot{AverageSoldPrice: decimal.Zero, SuggestedPrice: decimal.Zero}
	}

	sum := decimal.Zero
	var latest time.Time
	for _, item := range items {
		sum = sum.Add(item.Price)
		if item.SoldDate.After(latest) {
			latest = item.SoldDate
		}
	}

	avg := sum.Div(decimal.NewFromInt(int64(len(items))))
	snap := market.Snapshot{
		AverageSoldPrice: avg,
		SuggestedPrice:   suggest(avg),
		SampleSize:       len(items),
	}
	if !latest.IsZero() {
		day := time.Date(latest.Year(), latest.Month(), latest.Day(), 0, 0, 0, 0, time.UTC)
		snap.LastSoldDate = &day
	}
	return snap
}
