package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	"TradePipe/pkg/logger"
)

// EngineState is the lifecycle stage of an engine task.
type EngineState int32

const (
	EngineInitializing EngineState = iota
	EngineRunning
	EngineDraining
	EngineTerminated
)

func (s EngineState) String() string {
	switch s {
	case EngineInitializing:
		return "initializing"
	case EngineRunning:
		return "running"
	case EngineDraining:
		return "draining"
	case EngineTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type engineRunner[D any] struct {
	engine  pipeline.StateEngine[D]
	name    string
	sources []models.Source
	events  chan models.Event
	queries chan *pipeline.OneShot[D]
	done    chan struct{}
	once    sync.Once

	state       atomic.Int32
	unavailable atomic.Bool
	processed   atomic.Uint64
	failed      atomic.Uint64
	answered    atomic.Uint64
}

func newEngineRunner[D any](e pipeline.StateEngine[D], buffer int) *engineRunner[D] {
	return &engineRunner[D]{
		engine:  e,
		name:    e.Name(),
		sources: e.Sources(),
		events:  make(chan models.Event, buffer),
		queries: make(chan *pipeline.OneShot[D]),
		done:    make(chan struct{}),
	}
}

// stop marks the engine as no longer accepting events or queries.
func (r *engineRunner[D]) stop() {
	r.once.Do(func() { close(r.done) })
}

func (o *Orchestrator[D, I, A]) runEngine(ctx context.Context, r *engineRunner[D]) error {
	name := r.name
	log := o.log.Named("engine:" + name)
	defer r.stop()

	r.state.Store(int32(EngineInitializing))
	syncErr := safeCall(func() error { return r.engine.SyncState(ctx) })
	if syncErr != nil {
		// reported once, by the task guard
		r.unavailable.Store(true)
		o.metrics.RecordError("engine:"+name, "sync_state")
	} else {
		r.state.Store(int32(EngineRunning))
		o.engineLoop(ctx, r, log)
	}

	r.state.Store(int32(EngineDraining))
	r.stop()
	if err := safeCall(r.engine.OnShutdown); err != nil {
		o.metrics.RecordError("engine:"+name, "shutdown")
		log.Warn("shutdown hook failed", logger.Error(err))
	}
	r.state.Store(int32(EngineTerminated))

	if syncErr != nil {
		return fmt.Errorf("engine %s unavailable: sync state: %w", name, syncErr)
	}
	return nil
}

func (o *Orchestrator[D, I, A]) engineLoop(ctx context.Context, r *engineRunner[D], log *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			o.fold(r, ev, log)
		case req := <-r.queries:
			// fold what was queued before the query so the answer reflects it
			pending := len(r.events)
			for i := 0; i < pending; i++ {
				o.fold(r, <-r.events, log)
			}
			o.answer(r, req, log)
		}
	}
}

func (o *Orchestrator[D, I, A]) fold(r *engineRunner[D], ev models.Event, log *logger.Logger) {
	name := r.name
	start := time.Now()
	if err := safeCall(func() error { return r.engine.ProcessEvent(ev) }); err != nil {
		r.failed.Add(1)
		o.metrics.RecordError("engine:"+name, "process_event")
		log.Warn("event dropped",
			logger.String("kind", string(ev.Kind())),
			logger.String("source", ev.EventSource().String()),
			logger.Error(err),
		)
		return
	}
	r.processed.Add(1)
	o.metrics.RecordEventProcessed(name, ev.Kind(), time.Since(start))
	o.metrics.RecordStateSize(name, r.engine.StateSize())
}

func (o *Orchestrator[D, I, A]) answer(r *engineRunner[D], req *pipeline.OneShot[D], log *logger.Logger) {
	defer req.Close()
	if err := safeCall(func() error { return r.engine.ProcessRequest(req) }); err != nil {
		o.metrics.RecordError("engine:"+r.name, "process_request")
		log.Warn("query failed", logger.Error(err))
		return
	}
	r.answered.Add(1)
}
