package orchestrator

import (
	"context"
	"sync/atomic"

	"TradePipe/internal/domain/pipeline"
	"TradePipe/pkg/logger"
)

type execJob[A any] struct {
	action A
	ack    chan<- struct{}
}

type executorRunner[A any] struct {
	executor  pipeline.Executor[A]
	inbox     chan execJob[A]
	succeeded atomic.Uint64
	failed    atomic.Uint64
}

func (o *Orchestrator[D, I, A]) runExecutor(ctx context.Context, x *executorRunner[A]) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-x.inbox:
			o.execute(ctx, x, job.action)
			job.ack <- struct{}{}
		}
	}
}

// execute runs one action. The side effect gets its own deadline and is
// not interrupted by cancellation once started.
func (o *Orchestrator[D, I, A]) execute(ctx context.Context, x *executorRunner[A], action A) {
	name := x.executor.Name()
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ExecuteTimeout)
	defer cancel()

	if err := safeCall(func() error { return x.executor.Execute(ectx, action) }); err != nil {
		x.failed.Add(1)
		o.metrics.RecordError("executor:"+name, "execute")
		o.metrics.RecordActionDispatched(name, "error")
		o.log.Error("action failed", logger.String("executor", name), logger.Error(err))
		return
	}
	x.succeeded.Add(1)
	o.metrics.RecordActionDispatched(name, "ok")
}
