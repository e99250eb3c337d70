package repository

import (
	"context"
	"time"

	"TradePipe/internal/domain/models"
)

// ActionPublisher fans actions out to a message bus.
type ActionPublisher interface {
	Publish(ctx context.Context, a *models.Action) error
	Close() error
}

// ActionStore persists actions.
type ActionStore interface {
	Init(ctx context.Context) error // ensure tables
	Store(ctx context.Context, a *models.Action) error
	Health(ctx context.Context) error
	Close() error
}

// ActionJournal is an ActionStore that can list what it stored.
type ActionJournal interface {
	ActionStore
	// Recent returns the newest actions first. An empty strategy matches all.
	Recent(ctx context.Context, strategy string, limit int) ([]models.Action, error)
}

// Metrics is the pipeline instrumentation surface.
type Metrics interface {
	RecordEventProcessed(engine string, kind models.EventKind, d time.Duration)
	RecordStateSize(engine string, size int)
	RecordError(component, kind string)
	RecordTick(strategy, result string)
	RecordActionDispatched(executor, result string)
	RecordQueryLatency(engine string, d time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordEventProcessed(string, models.EventKind, time.Duration) {}
func (NopMetrics) RecordStateSize(string, int)                                  {}
func (NopMetrics) RecordError(string, string)                                   {}
func (NopMetrics) RecordTick(string, string)                                    {}
func (NopMetrics) RecordActionDispatched(string, string)                        {}
func (NopMetrics) RecordQueryLatency(string, time.Duration)                     {}
