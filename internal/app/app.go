package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-intel/internal/config"
	"market-intel/internal/estimator"
	"market-intel/internal/fetcher"
	"market-intel/internal/logging"
	"market-intel/internal/reconcile"
	"market-intel/internal/scheduler"
	"market-intel/internal/service"
	"market-intel/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

func (a *App) newSource() *fetcher.HTTPSource {
	return fetcher.NewHTTPSource(fetcher.HTTPSourceOptions{
		BaseURL:    a.Config.Source.BaseURL,
		SearchPath: a.Config.Source.SearchPath,
		APIKey:     a.Config.Source.APIKey,
		Timeout:    a.Config.Source.Timeout,
		UserAgent:  a.Config.Source.UserAgent,
	}, a.Logger)
}

func (a *App) newEstimator() *estimator.Estimator {
	return estimator.New(a.newSource(), estimator.Options{
		Suggest: estimator.Factor(decimal.NewFromFloat(a.Config.Reconcile.SuggestFactor)),
	}, a.Logger)
}

// newReconciler builds the engine. catalog may be nil for commands that only
// look up or estimate.
func (a *App) newReconciler(catalog reconcile.Catalog) *reconcile.Reconciler {
	return reconcile.New(catalog, a.newEstimator(), a.Logger)
}

func (a *App) reconcileOptions() reconcile.Options {
	return reconcile.Options{
		Concurrency: a.Config.Reconcile.Concurrency,
		TTL:         a.Config.Reconcile.TTL,
		SampleBound: a.Config.Reconcile.SampleBound,
		ItemTimeout: a.Config.Reconcile.ItemTimeout,
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) requireStore(ctx context.Context, purpose string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database not configured; cannot " + purpose)
	}
	return store, closeStore, nil
}

// Run executes the long-running scheduled reconciliation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx, "run reconciliation service")
	if err != nil {
		return err
	}
	defer closeStore()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Cron:         a.Config.Scheduler.Cron,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	svc := service.New(a.Config, sched, a.newReconciler(store), store, store, a.Logger)

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Str("cron", a.Config.Scheduler.Cron).
		Msg("starting reconciliation service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("reconciliation service stopped")
	return nil
}

// ReconcileOptions configure a manual batch run.
type ReconcileOptions struct {
	IDs         []string
	All         bool
	Limit       int
	Concurrency int
	TTL         *time.Duration
	JSON        bool
}

// LookupOptions configure the lookup command.
type LookupOptions struct {
	Query    string
	Limit    int
	Estimate bool
}

// ExportOptions hold parameters for exporting a run report.
type ExportOptions struct {
	RunID     string
	PNGPath   string
	CSVPath   string
	XLSXPath  string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ServeOptions configure the HTTP API.
type ServeOptions struct {
	Listen string
}
