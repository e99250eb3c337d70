// Package server runs the pipeline next to its HTTP API.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TradePipe/internal/handler/api"
	"TradePipe/internal/orchestrator"
	"TradePipe/pkg/config"
	"TradePipe/pkg/logger"
)

// Pipeline starts the orchestrated task set.
type Pipeline interface {
	Start(ctx context.Context) (*orchestrator.Handle, error)
}

// StatusSink receives the running pipeline handle.
type StatusSink interface {
	SetStatusSource(s api.StatusSource)
}

// HTTPServer is the API listener.
type HTTPServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg      *config.Config
	pipeline Pipeline
	api      StatusSink
	http     HTTPServer
	log      *logger.Logger
}

// New creates a new App instance with all dependencies. status and http may be nil.
func New(cfg *config.Config, p Pipeline, status StatusSink, http HTTPServer, log *logger.Logger) *App {
	if log == nil {
		log = logger.Nop()
	}
	return &App{cfg: cfg, pipeline: p, api: status, http: http, log: log.Named("app")}
}

// Run starts the pipeline and the HTTP API and blocks until ctx is cancelled,
// SIGINT or SIGTERM arrives, or the pipeline finishes on its own. It returns
// once every pipeline task has returned.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := a.pipeline.Start(ctx)
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	if a.api != nil {
		a.api.SetStatusSource(handle)
	}
	a.log.Info("pipeline started", logger.String("strategy", a.cfg.Strategy.Name), logger.Int("engines", len(a.cfg.Engines)))

	if a.http != nil {
		if err := a.http.Start(); err != nil {
			handle.Shutdown()
			<-handle.Done()
			return fmt.Errorf("start http: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case <-handle.Done():
		a.log.Warn("pipeline finished on its own")
	}
	return a.shutdown(handle)
}

// shutdown gracefully stops the pipeline, then the HTTP server.
func (a *App) shutdown(handle *orchestrator.Handle) error {
	handle.Shutdown()
	runErr := a.wait(handle, a.cfg.Orchestrator.StopTimeout)
	if runErr != nil {
		a.log.Error("pipeline stopped with errors", logger.Error(runErr))
	}

	if a.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.http.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", logger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return runErr
}

// wait joins every pipeline task. Past timeout it keeps waiting and warns,
// since shared clients are closed by the caller once Run returns.
func (a *App) wait(handle *orchestrator.Handle, timeout time.Duration) error {
	if timeout <= 0 {
		return handle.Wait()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-handle.Done():
	case <-t.C:
		a.log.Warn("pipeline still stopping", logger.Duration("stop_timeout_ms", timeout))
	}
	return handle.Wait()
}
