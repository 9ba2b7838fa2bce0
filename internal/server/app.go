// Package server builds the application graph from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/daily-papers/internal/api"
	"github.com/JakeFAU/daily-papers/internal/config"
	"github.com/JakeFAU/daily-papers/internal/daily"
	"github.com/JakeFAU/daily-papers/internal/evaluation"
	"github.com/JakeFAU/daily-papers/internal/papers"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	clock           papers.Clock
	store           papers.CacheStore
	archive         papers.BlobStore
	archiveCloser   func() error
	publisher       papers.Publisher
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	daily           *daily.Service
	orchestrator    *evaluation.Orchestrator
	apiServer       *api.Server
}

// Run starts the janitor and HTTP server and blocks until ctx is canceled or
// SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interval := time.Duration(a.cfg.Cache.CleanupIntervalMinutes) * time.Minute; interval > 0 {
		go func() {
			a.logger.Info("cache janitor started", zap.Duration("interval", interval))
			a.daily.RunJanitor(ctx, interval)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close stops background evaluations and releases infrastructure.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.orchestrator != nil {
		if err := a.orchestrator.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop evaluations: %w", err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.archiveCloser != nil {
		if err := a.archiveCloser(); err != nil {
			a.logger.Warn("archive close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}
