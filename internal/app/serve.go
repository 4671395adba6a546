package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"market-intel/internal/api"
)

// Serve exposes the engine over HTTP until interrupted. Without a database
// only the lookup and estimate endpoints are useful.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	listen := opts.Listen
	if listen == "" {
		listen = a.Config.API.Listen
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	var handler *api.Handler
	if store != nil {
		defer closeStore()
		handler = api.NewHandler(a.newReconciler(store), store, a.reconcileOptions(), a.Logger)
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; reconcile endpoint disabled")
		handler = api.NewHandler(a.newReconciler(nil), nil, a.reconcileOptions(), a.Logger).WithoutReconcile()
	}

	if a.Config.App.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:         listen,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  a.Config.API.ReadTimeout,
		WriteTimeout: a.Config.API.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("listen", listen).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.Logger.Info().Msg("http api stopped")
	return nil
}
