package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"market-intel/internal/cache"
	"market-intel/internal/market"
	"market-intel/internal/pricing"
)

// Catalog is the catalog collaborator the orchestrator reads from and writes to.
// UpdateSnapshotAndFlag must write snapshot and flag as one unit and leave every
// other item field untouched.
type Catalog interface {
	GetItem(ctx context.Context, id string) (market.CatalogItemRef, error)
	UpdateSnapshotAndFlag(ctx context.Context, id string, snap market.Snapshot, flag market.PriceFlag) error
}

// Estimator computes snapshots from comparable sales.
type Estimator interface {
	Estimate(ctx context.Context, query string, sampleBound int) (market.Snapshot, error)
	Comparables(ctx context.Context, query string, sampleBound int) ([]market.SoldItem, error)
}

// Options parameterise a single batch run.
type Options struct {
	Concurrency int
	TTL         time.Duration
	SampleBound int
	ItemTimeout time.Duration
}

// Validate rejects options a batch cannot run with.
func (o Options) Validate() error {
	if o.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", o.Concurrency)
	}
	if o.SampleBound <= 0 {
		return fmt.Errorf("sample bound must be positive, got %d", o.SampleBound)
	}
	if o.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative, got %s", o.TTL)
	}
	if o.ItemTimeout < 0 {
		return fmt.Errorf("item timeout cannot be negative, got %s", o.ItemTimeout)
	}
	return nil
}

// Reconciler drives estimation and classification across catalog items.
type Reconciler struct {
	catalog   Catalog
	estimator Estimator
	now       func() time.Time
	logger    zerolog.Logger
}

// New constructs a Reconciler.
func New(catalog Catalog, estimator Estimator, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		catalog:   catalog,
		estimator: estimator,
		now:       time.Now,
		logger:    logger.With().Str("component", "reconciler").Logger(),
	}
}

// WithClock replaces the clock used for staleness checks and run timestamps.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	if now != nil {
		r.now = now
	}
	return r
}

// Lookup returns up to limit comparable sold items for query.
func (r *Reconciler) Lookup(ctx context.Context, query string, limit int) ([]market.SoldItem, error) {
	return r.estimator.Comparables(ctx, query, limit)
}

// Estimate computes a snapshot for query without touching the catalog.
func (r *Reconciler) Estimate(ctx context.Context, query string, limit int) (market.Snapshot, error) {
	return r.estimator.Estimate(ctx, query, limit)
}

// Reconcile refreshes the snapshot and flag of every stale item in ids, at most
// opts.Concurrency at a time. The report holds one outcome per id in input
// order. Per-item failures never fail the batch; after ctx is cancelled no new
// items start and the untouched ones are reported as not attempted.
func (r *Reconciler) Reconcile(ctx context.Context, ids []string, opts Options) (market.Report, error) {
	if err := opts.Validate(); err != nil {
		return market.Report{}, err
	}

	report := market.Report{
		RunID:     uuid.NewString(),
		StartedAt: r.now().UTC(),
	}

	// Each slot is written by exactly one worker.
	outcomes := make([]market.Outcome, len(ids))
	for i, id := range ids {
		outcomes[i] = market.Outcome{ItemID: id, Status: market.OutcomeNotAttempted}
	}

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		i, id := i, id
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcomes[i] = r.reconcileItem(ctx, id, opts)
			return nil
		})
	}
	_ = g.Wait()

	report.Outcomes = outcomes
	report.FinishedAt = r.now().UTC()
	report.Cancelled = ctx.Err() != nil
	report.Tally()

	r.logger.Info().
		Str("run_id", report.RunID).
		Int("items", len(ids)).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("not_attempted", report.NotAttempted).
		Int("refreshed", report.Refreshed).
		Bool("cancelled", report.Cancelled).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("reconciliation finished")
	return report, nil
}

func (r *Reconciler) reconcileItem(ctx context.Context, id string, opts Options) market.Outcome {
	out := market.Outcome{ItemID: id}

	itemCtx := ctx
	if opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, opts.ItemTimeout)
		defer cancel()
	}

	item, err := r.catalog.GetItem(itemCtx, id)
	if err != nil {
		return r.fail(ctx, out, fmt.Errorf("load item: %w", err))
	}

	policy := cache.Policy{TTL: opts.TTL, Now: r.now}
	if !policy.IsStale(item.Snapshot) {
		flag := pricing.ClassifySnapshot(item.CurrentPrice, item.Snapshot)
		out.Status = market.OutcomeSucceeded
		out.Snapshot = item.Snapshot
		out.Flag = &flag
		r.logger.Debug().Str("item_id", id).Dur("age", policy.Age(item.Snapshot)).Msg("snapshot fresh; skipped")
		return out
	}

	snap, err := r.estimator.Estimate(itemCtx, item.Title, opts.SampleBound)
	if err != nil {
		return r.fail(ctx, out, err)
	}
	snap.LastCheckedAt = nextCheckedAt(item.Snapshot, snap.LastCheckedAt)

	flag := pricing.ClassifySnapshot(item.CurrentPrice, &snap)
	if err := r.catalog.UpdateSnapshotAndFlag(itemCtx, id, snap, flag); err != nil {
		return r.fail(ctx, out, fmt.Errorf("persist snapshot: %w", err))
	}

	out.Status = market.OutcomeSucceeded
	out.Refreshed = true
	out.Snapshot = &snap
	out.Flag = &flag
	r.logger.Debug().
		Str("item_id", id).
		Int("sample_size", snap.SampleSize).
		Str("flag", string(flag.Status)).
		Int64("pct", flag.Percentage).
		Msg("snapshot refreshed")
	return out
}

// fail turns err into a failed outcome, or a not-attempted one when the whole
// batch was cancelled while the item was in flight.
func (r *Reconciler) fail(batchCtx context.Context, out market.Outcome, err error) market.Outcome {
	if batchCtx.Err() != nil && errors.Is(err, batchCtx.Err()) {
		out.Status = market.OutcomeNotAttempted
		out.Error = "batch cancelled before completion"
		return out
	}
	out.Status = market.OutcomeFailed
	out.Error = err.Error()
	r.logger.Warn().Err(err).Str("item_id", out.ItemID).Msg("item reconciliation failed")
	return out
}

// nextCheckedAt keeps LastCheckedAt strictly increasing per item even when the
// clock has not advanced since the previous write.
func nextCheckedAt(prev *market.Snapshot, t time.Time) time.Time {
	if prev != nil && !t.After(prev.LastCheckedAt) {
		return prev.LastCheckedAt.Add(time.Microsecond)
	}
	return t
}
