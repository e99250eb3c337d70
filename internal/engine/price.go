// Package engine holds the state engines folded by the orchestrator.
package engine

import (
	"context"
	"fmt"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	"TradePipe/internal/services/features"
	"TradePipe/pkg/logger"
)

const (
	DefaultPriceEngineName  = "price_state_engine"
	DefaultMaxCandles       = 500
	DefaultVolatilityWindow = 30
)

// Option configures PriceEngine.
type Option func(*PriceEngine)

// WithName overrides the engine name.
func WithName(name string) Option {
	return func(e *PriceEngine) {
		if name != "" {
			e.name = name
		}
	}
}

// WithSources restricts the engine to a subset of sources.
func WithSources(sources ...models.Source) Option {
	return func(e *PriceEngine) {
		if len(sources) > 0 {
			e.sources = sources
		}
	}
}

// WithMaxCandles caps the closed candle history per source.
func WithMaxCandles(n int) Option {
	return func(e *PriceEngine) {
		if n > 0 {
			e.maxCandles = n
		}
	}
}

// WithPeriod sets the RSI/NATR lookback.
func WithPeriod(n int) Option {
	return func(e *PriceEngine) {
		if n > 0 {
			e.period = n
		}
	}
}

// WithVolatilityWindow sets the realized volatility window in closed candles.
func WithVolatilityWindow(n int) Option {
	return func(e *PriceEngine) {
		if n > 1 {
			e.volWindow = n
		}
	}
}

// WithClock overrides the clock used to stamp responses.
func WithClock(now func() time.Time) Option {
	return func(e *PriceEngine) {
		if now != nil {
			e.now = now
		}
	}
}

// PriceEngine keeps one candle series per source and answers with the
// latest price and indicators for each of them.
type PriceEngine struct {
	name       string
	timeframe  uint64
	sources    []models.Source
	maxCandles int
	period     int
	volWindow  int
	now        func() time.Time
	log        *logger.Logger

	series map[models.Source]*features.CandleSeries
}

var _ pipeline.StateEngine[models.StateOutput] = (*PriceEngine)(nil)

// NewPriceEngine creates a price engine with candles of timeframeMs width.
func NewPriceEngine(timeframeMs uint64, log *logger.Logger, opts ...Option) (*PriceEngine, error) {
	if timeframeMs == 0 {
		return nil, features.ErrInvalidTimeframe
	}
	if log == nil {
		log = logger.Nop()
	}
	e := &PriceEngine{
		name:       DefaultPriceEngineName,
		timeframe:  timeframeMs,
		sources:    models.AllSources(),
		maxCandles: DefaultMaxCandles,
		period:     features.DefaultPeriod,
		volWindow:  DefaultVolatilityWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = log.Named(e.name)
	return e, nil
}

func (e *PriceEngine) Name() string { return e.name }

func (e *PriceEngine) Sources() []models.Source { return e.sources }

// SyncState allocates an empty series for every source.
func (e *PriceEngine) SyncState(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	series := make(map[models.Source]*features.CandleSeries, len(e.sources))
	for _, src := range e.sources {
		s, err := features.NewCandleSeries(e.timeframe, e.maxCandles)
		if err != nil {
			return fmt.Errorf("candle series %s: %w", src, err)
		}
		series[src] = s
	}
	e.series = series
	e.log.Info("state synced",
		logger.Int("sources", len(e.sources)),
		logger.Uint64("timeframe_ms", e.timeframe),
	)
	return nil
}

// ProcessEvent folds trades into the series of their source. Error events
// are surfaced as errors, unsupported ones are ignored.
func (e *PriceEngine) ProcessEvent(ev models.Event) error {
	switch ev := ev.(type) {
	case models.TradeEvent:
		return e.addTrade(ev.Trade)
	case models.ErrorEvent:
		return fmt.Errorf("%w: %s reported: %s", pipeline.ErrStateUpdate, ev.Source, ev.Message)
	case models.UnsupportedEvent:
		e.log.Debug("unsupported event ignored", logger.String("source", ev.Source.String()))
		return nil
	default:
		return fmt.Errorf("%w: unknown event %T", pipeline.ErrStateUpdate, ev)
	}
}

func (e *PriceEngine) addTrade(t models.Trade) error {
	s, ok := e.series[t.Source]
	if !ok {
		return fmt.Errorf("%w: no candle series for source %s", pipeline.ErrStateUpdate, t.Source)
	}
	if err := s.Push(t.Price, t.Size, t.Timestamp); err != nil {
		return fmt.Errorf("%w: %s: %v", pipeline.ErrStateUpdate, t.Source, err)
	}
	return nil
}

// ProcessRequest answers with a snapshot of every source, in source order.
func (e *PriceEngine) ProcessRequest(req *pipeline.OneShot[models.StateOutput]) error {
	if err := req.Respond(e.Snapshot()); err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	return nil
}

// Snapshot builds the current state output.
func (e *PriceEngine) Snapshot() models.StateOutput {
	out := models.StateOutput{
		Engine: e.name,
		Prices: make([]models.PriceData, 0, len(e.sources)),
		At:     e.now(),
	}
	for _, src := range e.sources {
		s, ok := e.series[src]
		if !ok {
			continue
		}
		out.Prices = append(out.Prices, e.priceData(src, s))
	}
	return out
}

func (e *PriceEngine) priceData(src models.Source, s *features.CandleSeries) models.PriceData {
	pd := models.PriceData{Source: src, Closed: s.ClosedLen()}

	if p, ok := s.LastPrice(); ok {
		pd.Price = models.Some(p)
	}
	candles := s.Candles()
	if v, ok := features.RSI(candles, e.period); ok {
		pd.RSI = models.Some(v)
	}
	if v, ok := features.NATR(candles, e.period); ok {
		pd.NATR = models.Some(v)
	}
	bars := features.BarsPerYear(time.Duration(e.timeframe) * time.Millisecond)
	if v, ok := features.RealizedVolatility(features.ComputeLogReturns(s.Closed()), e.volWindow, bars); ok {
		pd.Volatility = models.Some(v)
	}
	if c, ok := s.LastClosed(); ok {
		pd.LastClosed = models.Some(c)
	}
	return pd
}

// OnShutdown logs the final candle count per source.
func (e *PriceEngine) OnShutdown() error {
	for _, src := range e.sources {
		n := 0
		if s, ok := e.series[src]; ok {
			n = s.Len()
		}
		e.log.Info("final state", logger.String("source", src.String()), logger.Int("candles", n))
	}
	return nil
}

// StateSize returns the number of candles held across all sources.
func (e *PriceEngine) StateSize() int {
	n := 0
	for _, s := range e.series {
		n += s.Len()
	}
	return n
}
