// Package orchestrator runs the pipeline: one task per collector, one per
// state engine, one strategy ticker and one per executor, all observing a
// single cancellable context.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	"TradePipe/internal/domain/repository"
	"TradePipe/pkg/logger"

	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultEventBuffer    = 1024
	DefaultExecuteTimeout = 10 * time.Second
)

var ErrAlreadyStarted = errors.New("orchestrator already started")

// Option configures Orchestrator.
type Option func(*Config)

// Config holds orchestrator tuning.
type Config struct {
	EventBuffer    int           // per-engine event inbox capacity
	QueryTimeout   time.Duration // per-engine query bound, defaults to half the strategy interval
	ExecuteTimeout time.Duration // per-action bound for a single executor
}

// WithEventBuffer sets the per-engine inbox capacity.
func WithEventBuffer(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.EventBuffer = n
		}
	}
}

// WithQueryTimeout bounds every per-tick engine query.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.QueryTimeout = d
		}
	}
}

// WithExecuteTimeout bounds a single executor invocation.
func WithExecuteTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ExecuteTimeout = d
		}
	}
}

// Orchestrator owns the lifecycle of every pipeline component.
type Orchestrator[D, I, A any] struct {
	strategy   pipeline.Strategy[D, I, A]
	engines    []pipeline.StateEngine[D]
	collectors []pipeline.Collector
	executors  []pipeline.Executor[A]
	metrics    repository.Metrics
	log        *logger.Logger
	cfg        Config
	started    atomic.Bool
}

// New validates the component set and returns an orchestrator ready to Start.
func New[D, I, A any](
	strategy pipeline.Strategy[D, I, A],
	engines []pipeline.StateEngine[D],
	collectors []pipeline.Collector,
	executors []pipeline.Executor[A],
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...Option,
) (*Orchestrator[D, I, A], error) {
	if strategy == nil {
		return nil, fmt.Errorf("strategy is required")
	}
	if strategy.Interval() <= 0 {
		return nil, fmt.Errorf("strategy %s: interval must be positive", strategy.Name())
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("at least one state engine is required")
	}
	if err := uniqueNames(engines, func(e pipeline.StateEngine[D]) string { return e.Name() }); err != nil {
		return nil, fmt.Errorf("state engines: %w", err)
	}
	if err := uniqueNames(executors, func(e pipeline.Executor[A]) string { return e.Name() }); err != nil {
		return nil, fmt.Errorf("executors: %w", err)
	}
	if metrics == nil {
		metrics = repository.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}

	cfg := Config{
		EventBuffer:    DefaultEventBuffer,
		QueryTimeout:   strategy.Interval() / 2,
		ExecuteTimeout: DefaultExecuteTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Orchestrator[D, I, A]{
		strategy:   strategy,
		engines:    engines,
		collectors: collectors,
		executors:  executors,
		metrics:    metrics,
		log:        log.Named("orchestrator"),
		cfg:        cfg,
	}, nil
}

func uniqueNames[T any](items []T, name func(T) string) error {
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		n := name(it)
		if n == "" {
			return fmt.Errorf("empty name")
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("duplicate name %q", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// Start spawns every task and returns a handle to the running set. An
// orchestrator can be started once.
func (o *Orchestrator[D, I, A]) Start(parent context.Context) (*Handle, error) {
	if !o.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(parent)
	p := pool.New().WithErrors()

	engines := make([]*engineRunner[D], len(o.engines))
	routes := make(map[models.Source][]*engineRunner[D])
	for i, e := range o.engines {
		r := newEngineRunner(e, o.cfg.EventBuffer)
		engines[i] = r
		for _, src := range r.sources {
			routes[src] = append(routes[src], r)
		}
	}

	collectors := make([]*collectorRunner, len(o.collectors))
	for i, c := range o.collectors {
		collectors[i] = &collectorRunner{collector: c}
	}

	executors := make([]*executorRunner[A], len(o.executors))
	for i, x := range o.executors {
		executors[i] = &executorRunner[A]{executor: x, inbox: make(chan execJob[A])}
	}

	tk := &ticker[D, I, A]{o: o, engines: engines, executors: executors}

	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
		snapshot: func() Status {
			return o.status(engines, collectors, tk)
		},
	}

	for _, r := range engines {
		p.Go(o.guard("engine:"+r.name, func() error { return o.runEngine(ctx, r) }))
	}
	for _, c := range collectors {
		targets := routes[c.collector.Source()]
		if len(targets) == 0 {
			c.state.Store(int32(CollectorUnrouted))
			o.log.Warn("collector has no interested engine, not started",
				logger.String("collector", c.collector.Name()),
				logger.String("source", c.collector.Source().String()),
			)
			continue
		}
		p.Go(o.guard("collector:"+c.collector.Name(), func() error { return o.runCollector(ctx, c, targets) }))
	}
	for _, x := range executors {
		p.Go(o.guard("executor:"+x.executor.Name(), func() error { return o.runExecutor(ctx, x) }))
	}
	p.Go(o.guard("ticker:"+o.strategy.Name(), func() error { return tk.run(ctx) }))

	o.log.Info("orchestrator started",
		logger.String("strategy", o.strategy.Name()),
		logger.Int("engines", len(engines)),
		logger.Int("collectors", len(collectors)),
		logger.Int("executors", len(executors)),
		logger.Duration("interval_ms", o.strategy.Interval()),
		logger.Duration("query_timeout_ms", o.cfg.QueryTimeout),
	)

	go func() {
		h.err = p.Wait()
		close(h.done)
		o.log.Info("orchestrator stopped")
	}()

	return h, nil
}

// guard turns a panic into the task's error and logs how the task ended.
func (o *Orchestrator[D, I, A]) guard(task string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", task, r)
			}
			if err != nil {
				o.metrics.RecordError(task, "task")
				o.log.Error("task failed", logger.String("task", task), logger.Error(err))
				return
			}
			o.log.Info("task finished", logger.String("task", task))
		}()
		return fn()
	}
}

// safeCall runs fn and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// Handle is the running task set.
type Handle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	snapshot func() Status
}

// Shutdown signals cancellation to every task. Safe to call repeatedly.
func (h *Handle) Shutdown() { h.cancel() }

// Done is closed once every task has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until every task has returned and reports the task errors
// joined together.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Status returns a point-in-time view of the running tasks.
func (h *Handle) Status() Status { return h.snapshot() }
