// Package middleware holds collector decorators applied between an upstream
// stream and the orchestrator.
package middleware

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	domrepo "TradePipe/internal/domain/repository"
	"TradePipe/pkg/logger"
)

// GuardedCollector validates trades coming out of a collector and rewrites
// invalid ones into error events so engines never fold them.
type GuardedCollector struct {
	inner    pipeline.Collector
	metrics  domrepo.Metrics
	log      *logger.Logger
	rejected atomic.Uint64
}

var _ pipeline.Collector = (*GuardedCollector)(nil)

// Guard wraps c.
func Guard(c pipeline.Collector, metrics domrepo.Metrics, log *logger.Logger) *GuardedCollector {
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GuardedCollector{inner: c, metrics: metrics, log: log.Named("guard:" + c.Name())}
}

func (g *GuardedCollector) Name() string          { return g.inner.Name() }
func (g *GuardedCollector) Source() models.Source { return g.inner.Source() }

// Rejected returns how many trades failed validation.
func (g *GuardedCollector) Rejected() uint64 { return g.rejected.Load() }

func (g *GuardedCollector) EventStream(ctx context.Context) (<-chan models.Event, error) {
	in, err := g.inner.EventStream(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan models.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-in:
				if !ok {
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- g.check(ev):
				}
			}
		}
	}()
	return out, nil
}

func (g *GuardedCollector) check(ev models.Event) models.Event {
	te, ok := ev.(models.TradeEvent)
	if !ok {
		return ev
	}
	if err := validateTrade(te.Trade, g.Source()); err != nil {
		g.rejected.Add(1)
		g.metrics.RecordError("collector:"+g.Name(), "invalid_trade")
		g.log.Debug("trade rejected", logger.Error(err))
		return models.NewErrorEvent(g.Source(), "invalid trade: %v", err)
	}
	return ev
}

func validateTrade(t models.Trade, source models.Source) error {
	if t.Source != source {
		return fmt.Errorf("source %q from %s collector", t.Source, source)
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return fmt.Errorf("price %v", t.Price)
	}
	if math.IsNaN(t.Size) || math.IsInf(t.Size, 0) || t.Size < 0 {
		return fmt.Errorf("size %v", t.Size)
	}
	if t.Timestamp == 0 {
		return fmt.Errorf("timestamp invalid")
	}
	return nil
}
