// Package pipeline defines the contracts wired together by the orchestrator:
// collectors feed state engines, a strategy samples the engines on a fixed
// interval and emits actions, executors carry the actions out.
package pipeline

import (
	"context"
	"time"

	"TradePipe/internal/domain/models"
)

// Collector produces normalized events from one upstream source.
type Collector interface {
	Name() string
	Source() models.Source
	// EventStream connects upstream and returns a channel of events. The
	// channel is closed when the stream ends. An error is returned only when
	// the connection cannot be established at all.
	EventStream(ctx context.Context) (<-chan models.Event, error)
}

// StateEngine folds events into aggregated state and answers queries with a
// snapshot of type D. All methods are called from a single goroutine.
type StateEngine[D any] interface {
	Name() string
	// Sources lists the event sources this engine wants to receive.
	Sources() []models.Source
	SyncState(ctx context.Context) error
	ProcessEvent(ev models.Event) error
	// ProcessRequest must respond on req at most once. Responding with an
	// "unavailable" snapshot is valid.
	ProcessRequest(req *OneShot[D]) error
	OnShutdown() error
	StateSize() int
}

// InputBuilder assembles a strategy input from engine responses.
type InputBuilder[D, I any] interface {
	Insert(engine string, data D)
	// Build returns ErrIncompleteInput when a registered engine slot is empty.
	Build() (I, error)
}

// Strategy turns a complete input into an ordered list of actions.
type Strategy[D, I, A any] interface {
	Name() string
	Interval() time.Duration
	NewInputBuilder(engines []string) InputBuilder[D, I]
	Evaluate(input I) []A
}

// Executor performs the side effect for an action.
type Executor[A any] interface {
	Name() string
	Execute(ctx context.Context, action A) error
}
