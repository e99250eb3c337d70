package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	"TradePipe/pkg/logger"
)

// CollectorState is the lifecycle stage of a collector task.
type CollectorState int32

const (
	CollectorConnecting CollectorState = iota
	CollectorStreaming
	CollectorClosed
	CollectorFailed
	CollectorStopped
	CollectorUnrouted
)

func (s CollectorState) String() string {
	switch s {
	case CollectorConnecting:
		return "connecting"
	case CollectorStreaming:
		return "streaming"
	case CollectorClosed:
		return "closed"
	case CollectorFailed:
		return "failed"
	case CollectorStopped:
		return "stopped"
	case CollectorUnrouted:
		return "unrouted"
	default:
		return "unknown"
	}
}

type collectorRunner struct {
	collector pipeline.Collector
	state     atomic.Int32
	events    atomic.Uint64
}

func (o *Orchestrator[D, I, A]) runCollector(ctx context.Context, c *collectorRunner, targets []*engineRunner[D]) error {
	name := c.collector.Name()
	log := o.log.Named("collector:" + name)

	c.state.Store(int32(CollectorConnecting))
	stream, err := c.collector.EventStream(ctx)
	if err != nil {
		c.state.Store(int32(CollectorFailed))
		o.metrics.RecordError("collector:"+name, "connection")
		return fmt.Errorf("%w: collector %s: %v", pipeline.ErrConnection, name, err)
	}
	c.state.Store(int32(CollectorStreaming))
	log.Info("streaming", logger.String("source", c.collector.Source().String()), logger.Int("engines", len(targets)))

	for {
		select {
		case <-ctx.Done():
			c.state.Store(int32(CollectorStopped))
			return nil
		case ev, ok := <-stream:
			if !ok {
				c.state.Store(int32(CollectorClosed))
				log.Warn("event stream ended")
				return nil
			}
			c.events.Add(1)
			if ev.Kind() == models.EventKindError {
				o.metrics.RecordError("collector:"+name, "event")
			}
			if !route(ctx, ev, targets) {
				c.state.Store(int32(CollectorStopped))
				return nil
			}
		}
	}
}

// route delivers ev to every target in order, blocking while an inbox is
// full. Terminated engines are skipped. It returns false on cancellation.
func route[D any](ctx context.Context, ev models.Event, targets []*engineRunner[D]) bool {
	for _, r := range targets {
		select {
		case <-ctx.Done():
			return false
		case <-r.done:
		case r.events <- ev:
		}
	}
	return true
}
