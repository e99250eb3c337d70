package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"TradePipe/internal/domain/pipeline"
	"TradePipe/pkg/logger"

	"github.com/sourcegraph/conc/iter"
)

type ticker[D, I, A any] struct {
	o         *Orchestrator[D, I, A]
	engines   []*engineRunner[D]
	executors []*executorRunner[A]

	ticks      atomic.Uint64
	incomplete atomic.Uint64
	actions    atomic.Uint64
}

type queryResult[D any] struct {
	engine string
	data   D
	err    error
}

func (t *ticker[D, I, A]) run(ctx context.Context) error {
	tk := time.NewTicker(t.o.strategy.Interval())
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			t.tick(ctx)
		}
	}
}

// tick queries every engine, builds the input and dispatches the actions.
// Any failure aborts only this tick.
func (t *ticker[D, I, A]) tick(ctx context.Context) {
	o := t.o
	name := o.strategy.Name()
	t.ticks.Add(1)

	defer func() {
		if r := recover(); r != nil {
			t.incomplete.Add(1)
			o.metrics.RecordTick(name, "panic")
			o.log.Error("tick panicked", logger.Any("panic", r))
		}
	}()

	results := iter.Map(t.engines, func(r **engineRunner[D]) queryResult[D] {
		return t.query(ctx, *r)
	})
	if ctx.Err() != nil {
		return
	}

	names := make([]string, len(t.engines))
	for i, r := range t.engines {
		names[i] = r.name
	}
	builder := o.strategy.NewInputBuilder(names)
	for _, res := range results {
		if res.err != nil {
			o.metrics.RecordError("engine:"+res.engine, "query")
			o.log.Warn("engine query failed", logger.String("engine", res.engine), logger.Error(res.err))
			continue
		}
		builder.Insert(res.engine, res.data)
	}

	input, err := builder.Build()
	if err != nil {
		t.incomplete.Add(1)
		o.metrics.RecordTick(name, "incomplete")
		o.log.Debug("tick skipped", logger.Error(err))
		return
	}

	actions := o.strategy.Evaluate(input)
	o.metrics.RecordTick(name, "ok")
	t.dispatch(ctx, actions)
}

// query asks one engine for a snapshot, bounded by the query timeout.
func (t *ticker[D, I, A]) query(ctx context.Context, r *engineRunner[D]) queryResult[D] {
	res := queryResult[D]{engine: r.name}
	qctx, cancel := context.WithTimeout(ctx, t.o.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	tx, rx := pipeline.NewOneShot[D]()
	select {
	case r.queries <- tx:
	case <-r.done:
		res.err = pipeline.ErrEngineTerminated
		return res
	case <-qctx.Done():
		tx.Close()
		res.err = queryCtxErr(ctx)
		return res
	}

	select {
	case v, ok := <-rx:
		if !ok {
			res.err = pipeline.ErrResponseDropped
			return res
		}
		res.data = v
		t.o.metrics.RecordQueryLatency(res.engine, time.Since(start))
	case <-qctx.Done():
		res.err = queryCtxErr(ctx)
	}
	return res
}

func queryCtxErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrQuery, err)
	}
	return pipeline.ErrQueryTimeout
}

// dispatch hands actions to executors one at a time. Every executor gets
// the action concurrently and all of them finish before the next action.
func (t *ticker[D, I, A]) dispatch(ctx context.Context, actions []A) {
	for _, a := range actions {
		ack := make(chan struct{}, len(t.executors))
		sent := 0
		for _, x := range t.executors {
			select {
			case <-ctx.Done():
				return
			case x.inbox <- execJob[A]{action: a, ack: ack}:
				sent++
			}
		}
		for i := 0; i < sent; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ack:
			}
		}
		t.actions.Add(1)
	}
}
