package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-intel/internal/config"
	"market-intel/internal/market"
	"market-intel/internal/reconcile"
	"market-intel/internal/scheduler"
	"market-intel/internal/storage"
)

// TriggerScheduled marks runs started by the scheduler.
const TriggerScheduled = "scheduled"

// BatchReconciler runs one batch reconciliation.
type BatchReconciler interface {
	Reconcile(ctx context.Context, ids []string, opts reconcile.Options) (market.Report, error)
}

// StaleLister selects the catalog items due for a refresh.
type StaleLister interface {
	ListStalestItemIDs(ctx context.Context, checkedBefore time.Time, limit int) ([]string, error)
}

// Service periodically reconciles the stalest catalog items and records each run.
type Service struct {
	scheduler  *scheduler.Scheduler
	reconciler BatchReconciler
	catalog    StaleLister
	runs       storage.RunStore
	logger     zerolog.Logger

	opts      reconcile.Options
	batchSize int
	retention time.Duration
	locker    storage.AdvisoryLocker
	lockKey   int64
	now       func() time.Time
}

// New constructs the reconciliation service.
func New(cfg *config.Config, sched *scheduler.Scheduler, reconciler BatchReconciler, catalog StaleLister, runs storage.RunStore, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := catalog.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		reconciler: reconciler,
		catalog:    catalog,
		runs:       runs,
		logger:     logger.With().Str("component", "service").Logger(),
		opts: reconcile.Options{
			Concurrency: cfg.Reconcile.Concurrency,
			TTL:         cfg.Reconcile.TTL,
			SampleBound: cfg.Reconcile.SampleBound,
			ItemTimeout: cfg.Reconcile.ItemTimeout,
		},
		batchSize: cfg.Reconcile.BatchSize,
		retention: cfg.Reconcile.Retention,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		now:       time.Now,
	}
}

// Run begins the scheduled reconciliation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket reconciles one batch of stale items unless another instance
// holds the advisory lock.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	now := s.now().UTC()
	ids, err := s.catalog.ListStalestItemIDs(ctx, now.Add(-s.opts.TTL), s.batchSize)
	if err != nil {
		return fmt.Errorf("list stale items: %w", err)
	}
	if len(ids) == 0 {
		s.logger.Debug().Time("bucket", bucket).Msg("no stale items")
		return nil
	}

	report, err := s.reconciler.Reconcile(ctx, ids, s.opts)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	if s.runs != nil {
		// Persist even when ctx was cancelled mid-run so the partial report survives.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.runs.SaveRun(saveCtx, TriggerScheduled, report); err != nil {
			s.logger.Error().Err(err).Str("run_id", report.RunID).Msg("failed to record run")
		}
		if s.retention > 0 {
			if err := s.runs.DeleteRunsBefore(saveCtx, now.Add(-s.retention)); err != nil {
				s.logger.Error().Err(err).Msg("failed to prune run history")
			}
		}
	}

	s.logger.Info().Time("bucket", bucket).
		Str("run_id", report.RunID).
		Int("items", len(ids)).
		Int("refreshed", report.Refreshed).
		Int("failed", report.Failed).
		Msg("scheduled reconciliation recorded")
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
