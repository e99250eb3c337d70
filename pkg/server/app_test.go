package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	"TradePipe/internal/engine"
	"TradePipe/internal/executor"
	"TradePipe/internal/handler/api"
	"TradePipe/internal/orchestrator"
	"TradePipe/internal/strategy"
	"TradePipe/pkg/config"
	"TradePipe/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tradeCollector struct{}

func (tradeCollector) Name() string          { return "test_collector" }
func (tradeCollector) Source() models.Source { return models.SourceBinance }

func (tradeCollector) EventStream(ctx context.Context) (<-chan models.Event, error) {
	ch := make(chan models.Event, 1)
	ch <- models.NewTradeEvent(models.SourceBinance, 100, 1, uint64(time.Now().UnixMilli()))
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type fakeHTTP struct {
	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (f *fakeHTTP) Start() error {
	f.started.Store(true)
	return f.startErr
}

func (f *fakeHTTP) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

type fakeSink struct {
	set atomic.Bool
}

func (f *fakeSink) SetStatusSource(api.StatusSource) { f.set.Store(true) }

type failingPipeline struct{}

func (failingPipeline) Start(context.Context) (*orchestrator.Handle, error) {
	return nil, errors.New("boom")
}

// slowExecutor ignores cancellation and holds its first action for hold.
type slowExecutor struct {
	hold    time.Duration
	entered atomic.Bool
	exited  atomic.Bool
}

func (e *slowExecutor) Name() string { return "slow_executor" }

func (e *slowExecutor) Execute(context.Context, models.Action) error {
	if e.entered.Swap(true) {
		return nil
	}
	time.Sleep(e.hold)
	e.exited.Store(true)
	return nil
}

// tickStrategy emits one action per tick, complete prices or not.
type tickStrategy struct {
	*strategy.Echo
}

func (s tickStrategy) Evaluate(strategy.PriceInput) []models.Action {
	return []models.Action{models.NewAction(s.Name(), models.ActionEcho, models.PriceData{Source: models.SourceBinance}, "tick")}
}

// handleRecorder keeps the handle Run starts.
type handleRecorder struct {
	Pipeline
	handle atomic.Pointer[orchestrator.Handle]
}

func (r *handleRecorder) Start(ctx context.Context) (*orchestrator.Handle, error) {
	h, err := r.Pipeline.Start(ctx)
	if h != nil {
		r.handle.Store(h)
	}
	return h, err
}

func newPipeline(t *testing.T, extra ...pipeline.Executor[models.Action]) Pipeline {
	t.Helper()
	var strat pipeline.Strategy[models.StateOutput, strategy.PriceInput, models.Action] = strategy.NewEcho(20 * time.Millisecond)
	if len(extra) > 0 {
		strat = tickStrategy{strategy.NewEcho(20 * time.Millisecond)}
	}
	eng, err := engine.NewPriceEngine(1000, logger.Nop(), engine.WithSources(models.SourceBinance))
	require.NoError(t, err)
	o, err := orchestrator.New[models.StateOutput, strategy.PriceInput, models.Action](
		strat,
		[]pipeline.StateEngine[models.StateOutput]{eng},
		[]pipeline.Collector{tradeCollector{}},
		append([]pipeline.Executor[models.Action]{executor.NewLog(logger.Nop())}, extra...),
		nil, logger.Nop(),
	)
	require.NoError(t, err)
	return o
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Orchestrator.StopTimeout = 2 * time.Second
	cfg.Server.ShutdownTimeout = time.Second
	return cfg
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := &fakeHTTP{}
	sink := &fakeSink{}
	app := New(testConfig(), newPipeline(t), sink, srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, srv.started.Load, time.Second, 5*time.Millisecond)
	assert.True(t, sink.set.Load())
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, srv.stopped.Load())
}

func TestRunPipelineStartError(t *testing.T) {
	srv := &fakeHTTP{}
	app := New(testConfig(), failingPipeline{}, nil, srv, nil)

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start pipeline")
	assert.False(t, srv.started.Load())
}

func TestRunHTTPStartError(t *testing.T) {
	srv := &fakeHTTP{startErr: errors.New("address in use")}
	app := New(testConfig(), newPipeline(t), nil, srv, nil)

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start http")
}

func TestRunJoinsTasksPastStopTimeout(t *testing.T) {
	slow := &slowExecutor{hold: 300 * time.Millisecond}
	p := &handleRecorder{Pipeline: newPipeline(t, slow)}
	cfg := testConfig()
	cfg.Orchestrator.StopTimeout = 20 * time.Millisecond
	app := New(cfg, p, nil, &fakeHTTP{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, slow.entered.Load, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, slow.exited.Load(), "executor was still running when Run returned")
	h := p.handle.Load()
	require.NotNil(t, h)
	select {
	case <-h.Done():
	default:
		t.Fatal("pipeline tasks still running after Run returned")
	}
}
