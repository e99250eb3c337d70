package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	"TradePipe/internal/engine"
	"TradePipe/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine answers queries with the number of trades it has folded.
type fakeEngine struct {
	name    string
	sources []models.Source
	syncErr error
	stall   chan struct{}
	entered chan struct{} // signalled when a query starts, if set

	folded    []models.Event
	count     int
	shutdowns atomic.Int32
	responded atomic.Int32

	// responses delivered before OnShutdown ran
	respondedBeforeShutdown atomic.Int32
}

func (e *fakeEngine) Name() string                     { return e.name }
func (e *fakeEngine) Sources() []models.Source         { return e.sources }
func (e *fakeEngine) SyncState(context.Context) error { return e.syncErr }
func (e *fakeEngine) StateSize() int                   { return e.count }

func (e *fakeEngine) ProcessEvent(ev models.Event) error {
	if _, ok := ev.(models.ErrorEvent); ok {
		return fmt.Errorf("%w: upstream error", pipeline.ErrStateUpdate)
	}
	e.folded = append(e.folded, ev)
	e.count++
	return nil
}

func (e *fakeEngine) ProcessRequest(req *pipeline.OneShot[int]) error {
	if e.entered != nil {
		select {
		case e.entered <- struct{}{}:
		default:
		}
	}
	if e.stall != nil {
		<-e.stall
	}
	if err := req.Respond(e.count); err != nil {
		return err
	}
	e.responded.Add(1)
	return nil
}

func (e *fakeEngine) OnShutdown() error {
	e.respondedBeforeShutdown.Store(e.responded.Load())
	e.shutdowns.Add(1)
	return nil
}

// fakeCollector emits its events and then either closes or idles until
// cancellation.
type fakeCollector struct {
	name       string
	source     models.Source
	events     []models.Event
	connectErr error
	closeAfter bool
}

func (c *fakeCollector) Name() string          { return c.name }
func (c *fakeCollector) Source() models.Source { return c.source }

func (c *fakeCollector) EventStream(ctx context.Context) (<-chan models.Event, error) {
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	ch := make(chan models.Event)
	go func() {
		if c.closeAfter {
			defer close(ch)
		}
		for _, ev := range c.events {
			select {
			case <-ctx.Done():
				return
			case ch <- ev:
			}
		}
		if !c.closeAfter {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

type countInput map[string]int

type countBuilder struct {
	engines []string
	got     countInput
}

func (b *countBuilder) Insert(engine string, data int) {
	for _, e := range b.engines {
		if e == engine {
			b.got[engine] = data
		}
	}
}

func (b *countBuilder) Build() (countInput, error) {
	for _, e := range b.engines {
		if _, ok := b.got[e]; !ok {
			return nil, fmt.Errorf("%w: missing %s", pipeline.ErrIncompleteInput, e)
		}
	}
	return b.got, nil
}

type fakeStrategy struct {
	interval time.Duration
	evaluate func(countInput) []string

	mu     sync.Mutex
	inputs []countInput
}

func (s *fakeStrategy) Name() string            { return "fake_strategy" }
func (s *fakeStrategy) Interval() time.Duration { return s.interval }

func (s *fakeStrategy) NewInputBuilder(engines []string) pipeline.InputBuilder[int, countInput] {
	return &countBuilder{engines: engines, got: countInput{}}
}

func (s *fakeStrategy) Evaluate(in countInput) []string {
	s.mu.Lock()
	s.inputs = append(s.inputs, in)
	s.mu.Unlock()
	if s.evaluate == nil {
		return nil
	}
	return s.evaluate(in)
}

func (s *fakeStrategy) evaluated() []countInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]countInput(nil), s.inputs...)
}

type recordingExecutor struct {
	name string
	err  error

	mu  sync.Mutex
	got []string
}

func (x *recordingExecutor) Name() string { return x.name }

func (x *recordingExecutor) Execute(_ context.Context, a string) error {
	x.mu.Lock()
	x.got = append(x.got, a)
	x.mu.Unlock()
	return x.err
}

func (x *recordingExecutor) actions() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.got...)
}

func trades(src models.Source, n int) []models.Event {
	out := make([]models.Event, n)
	for i := range out {
		out[i] = models.NewTradeEvent(src, 100+float64(i), 1, uint64(1000+i))
	}
	return out
}

func engineStatus(t *testing.T, h *Handle, name string) EngineStatus {
	t.Helper()
	for _, e := range h.Status().Engines {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("engine %s not in status", name)
	return EngineStatus{}
}

func stop(t *testing.T, h *Handle) error {
	t.Helper()
	h.Shutdown()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	return h.Wait()
}

func TestNewValidatesComponents(t *testing.T) {
	st := &fakeStrategy{interval: 10 * time.Millisecond}
	a := &fakeEngine{name: "a"}

	_, err := New[int, countInput, string](nil, []pipeline.StateEngine[int]{a}, nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = New[int, countInput, string](st, nil, nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = New[int, countInput, string](st, []pipeline.StateEngine[int]{a, &fakeEngine{name: "a"}}, nil, nil, nil, nil)
	assert.ErrorContains(t, err, "duplicate")

	_, err = New[int, countInput, string](&fakeStrategy{}, []pipeline.StateEngine[int]{a}, nil, nil, nil, nil)
	assert.ErrorContains(t, err, "interval")

	execs := []pipeline.Executor[string]{&recordingExecutor{name: "x"}, &recordingExecutor{name: "x"}}
	_, err = New[int, countInput, string](st, []pipeline.StateEngine[int]{a}, nil, execs, nil, nil)
	assert.ErrorContains(t, err, "executors")

	o, err := New[int, countInput, string](st, []pipeline.StateEngine[int]{a}, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, o.cfg.QueryTimeout)
	assert.Equal(t, DefaultEventBuffer, o.cfg.EventBuffer)
}

func TestStartTwice(t *testing.T) {
	o, err := New[int, countInput, string](
		&fakeStrategy{interval: 10 * time.Millisecond},
		[]pipeline.StateEngine[int]{&fakeEngine{name: "a"}}, nil, nil, nil, nil,
	)
	require.NoError(t, err)

	h, err := o.Start(context.Background())
	require.NoError(t, err)

	_, err = o.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	assert.NoError(t, stop(t, h))
}

func TestEventsRoutedBySource(t *testing.T) {
	binanceOnly := &fakeEngine{name: "binance_only", sources: []models.Source{models.SourceBinance}}
	both := &fakeEngine{name: "both", sources: []models.Source{models.SourceBybit, models.SourceBinance}}
	collectors := []pipeline.Collector{
		&fakeCollector{name: "binance", source: models.SourceBinance, events: trades(models.SourceBinance, 3)},
		&fakeCollector{name: "bybit", source: models.SourceBybit, events: trades(models.SourceBybit, 2)},
		&fakeCollector{name: "coinbase", source: models.SourceCoinbase, events: trades(models.SourceCoinbase, 4)},
	}

	o, err := New[int, countInput, string](
		&fakeStrategy{interval: time.Hour},
		[]pipeline.StateEngine[int]{binanceOnly, both}, collectors, nil, nil, nil,
	)
	require.NoError(t, err)
	h, err := o.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return engineStatus(t, h, "binance_only").Processed == 3 && engineStatus(t, h, "both").Processed == 5
	}, time.Second, 5*time.Millisecond)

	st := h.Status()
	require.Len(t, st.Collectors, 3)
	assert.Equal(t, "unrouted", st.Collectors[2].State)

	require.NoError(t, stop(t, h))

	for _, ev := range binanceOnly.folded {
		assert.Equal(t, models.SourceBinance, ev.EventSource())
	}
	perSource := map[models.Source][]float64{}
	for _, ev := range both.folded {
		te := ev.(models.TradeEvent)
		perSource[te.Trade.Source] = append(perSource[te.Trade.Source], te.Trade.Price)
	}
	// order from one collector is preserved
	assert.Equal(t, []float64{100, 101, 102}, perSource[models.SourceBinance])
	assert.Equal(t, []float64{100, 101}, perSource[models.SourceBybit])
}

func TestQueryReflectsQueuedEvents(t *testing.T) {
	e := &fakeEngine{name: "a", sources: []models.Source{models.SourceBinance}}
	o, err := New[int, countInput, string](&fakeStrategy{interval: time.Hour}, []pipeline.StateEngine[int]{e}, nil, nil, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := newEngineRunner[int](e, 64)
	done := make(chan error, 1)
	go func() { done <- o.runEngine(ctx, r) }()

	const n = 40
	for _, ev := range trades(models.SourceBinance, n) {
		r.events <- ev
	}
	tx, rx := pipeline.NewOneShot[int]()
	r.queries <- tx
	got, ok := <-rx
	require.True(t, ok)
	assert.Equal(t, n, got)

	for _, ev := range trades(models.SourceBinance, 5) {
		r.events <- ev
	}
	tx, rx = pipeline.NewOneShot[int]()
	r.queries <- tx
	got, ok = <-rx
	require.True(t, ok)
	assert.Equal(t, n+5, got)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), e.shutdowns.Load())
	assert.Equal(t, EngineTerminated, EngineState(r.state.Load()))
}

func TestEveryExecutorGetsEveryActionOnce(t *testing.T) {
	var ticks atomic.Int32
	st := &fakeStrategy{
		interval: 5 * time.Millisecond,
		evaluate: func(countInput) []string {
			n := ticks.Add(1)
			if n > 2 {
				return nil
			}
			return []string{fmt.Sprintf("t%d-a", n), fmt.Sprintf("t%d-b", n)}
		},
	}
	ok := &recordingExecutor{name: "ok"}
	failing := &recordingExecutor{name: "failing", err: errors.New("boom")}

	o, err := New[int, countInput, string](st,
		[]pipeline.StateEngine[int]{&fakeEngine{name: "a"}}, nil,
		[]pipeline.Executor[string]{failing, ok}, nil, nil,
	)
	require.NoError(t, err)
	h, err := o.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(ok.actions()) == 4 && len(failing.actions()) == 4 && h.Status().Ticks.Actions == 4
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, stop(t, h))

	want := []string{"t1-a", "t1-b", "t2-a", "t2-b"}
	assert.Equal(t, want, ok.actions())
	assert.Equal(t, want, failing.actions())

	var okStatus, failStatus ExecutorStatus
	for _, x := range h.Status().Executors {
		switch x.Name {
		case "ok":
			okStatus = x
		case "failing":
			failStatus = x
		}
	}
	assert.Equal(t, uint64(4), okStatus.Succeeded)
	assert.Equal(t, uint64(4), failStatus.Failed)
	assert.Equal(t, uint64(4), h.Status().Ticks.Actions)
}

func TestIncompleteInputSkipsTick(t *testing.T) {
	errSync := errors.New("snapshot unavailable")
	st := &fakeStrategy{
		interval: 5 * time.Millisecond,
		evaluate: func(countInput) []string { return []string{"never"} },
	}
	x := &recordingExecutor{name: "x"}

	o, err := New[int, countInput, string](st,
		[]pipeline.StateEngine[int]{&fakeEngine{name: "a"}, &fakeEngine{name: "b", syncErr: errSync}},
		nil, []pipeline.Executor[string]{x}, nil, nil,
	)
	require.NoError(t, err)
	h, err := o.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Status().Ticks.Incomplete >= 3 }, time.Second, 5*time.Millisecond)

	b := engineStatus(t, h, "b")
	assert.False(t, b.Available)
	assert.Equal(t, "terminated", b.State)
	assert.True(t, engineStatus(t, h, "a").Available)

	err = stop(t, h)
	assert.ErrorIs(t, err, errSync)
	assert.Empty(t, st.evaluated())
	assert.Empty(t, x.actions())
}

func TestStalledEngineTimesOutQuery(t *testing.T) {
	stall := make(chan struct{})
	st := &fakeStrategy{interval: 10 * time.Millisecond}

	o, err := New[int, countInput, string](st,
		[]pipeline.StateEngine[int]{&fakeEngine{name: "fast"}, &fakeEngine{name: "slow", stall: stall}},
		nil, nil, nil, nil, WithQueryTimeout(2*time.Millisecond),
	)
	require.NoError(t, err)
	h, err := o.Start(context.Background())
	require.NoError(t, err)

	// the ticker keeps running while one engine is stuck
	require.Eventually(t, func() bool { return h.Status().Ticks.Incomplete >= 3 }, time.Second, 5*time.Millisecond)

	close(stall)
	require.NoError(t, stop(t, h))
}

func TestShutdownFinishesInFlightQuery(t *testing.T) {
	stall := make(chan struct{})
	eng := &fakeEngine{name: "slow", stall: stall, entered: make(chan struct{}, 1)}

	o, err := New[int, countInput, string](&fakeStrategy{interval: 10 * time.Millisecond},
		[]pipeline.StateEngine[int]{eng}, nil, nil, nil, nil, WithQueryTimeout(time.Second),
	)
	require.NoError(t, err)
	h, err := o.Start(context.Background())
	require.NoError(t, err)

	select {
	case <-eng.entered:
	case <-time.After(time.Second):
		t.Fatal("query never reached the engine")
	}
	h.Shutdown()

	// the engine task is still answering, so the join must not complete
	select {
	case <-h.Done():
		t.Fatal("orchestrator stopped with a query in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, eng.shutdowns.Load())

	close(stall)
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
	require.NoError(t, h.Wait())

	assert.Equal(t, int32(1), eng.responded.Load())
	assert.Equal(t, int32(1), eng.respondedBeforeShutdown.Load())
	assert.Equal(t, int32(1), eng.shutdowns.Load())
	assert.Equal(t, EngineTerminated.String(), engineStatus(t, h, "slow").State)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSyncFailureLoggedOnce(t *testing.T) {
	var out lockedBuffer
	log := logger.FromZerolog(zerolog.New(&out))

	o, err := New[int, countInput, string](&fakeStrategy{interval: 5 * time.Millisecond},
		[]pipeline.StateEngine[int]{&fakeEngine{name: "cold", syncErr: errors.New("snapshot missing")}},
		nil, nil, nil, log,
	)
	require.NoError(t, err)
	h, err := o.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !engineStatus(t, h, "cold").Available }, time.Second, 5*time.Millisecond)
	err = stop(t, h)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine cold unavailable")
	assert.Equal(t, 1, strings.Count(out.String(), "snapshot missing"))
}

func TestShutdownRunsHooksOnce(t *testing.T) {
	errSync := errors.New("sync failed")
	engines := []*fakeEngine{
		{name: "a", sources: []models.Source{models.SourceBinance}},
		{name: "b", sources: []models.Source{models.SourceBinance, models.SourceBybit}},
		{name: "c", sources: []models.Source{models.SourceBybit}, syncErr: errSync},
	}
	list := make([]pipeline.StateEngine[int], len(engines))
	for i, e := range engines {
		list[i] = e
	}
	collectors := []pipeline.Collector{
		&fakeCollector{name: "binance", source: models.SourceBinance, events: trades(models.SourceBinance, 50)},
		&fakeCollector{name: "bybit", source: models.SourceBybit, events: trades(models.SourceBybit, 50)},
	}

	o, err := New[int, countInput, string](&fakeStrategy{interval: 5 * time.Millisecond},
		list, collectors, []pipeline.Executor[string]{&recordingExecutor{name: "x"}}, nil, nil,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := o.Start(ctx)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop after parent cancellation")
	}
	assert.ErrorIs(t, h.Wait(), errSync)

	for _, e := range engines {
		assert.Equal(t, int32(1), e.shutdowns.Load(), e.name)
		assert.Equal(t, "terminated", engineStatus(t, h, e.name).State)
	}
	for _, c := range h.Status().Collectors {
		assert.Equal(t, "stopped", c.State, c.Name)
	}
}

func TestCollectorFailureIsIsolated(t *testing.T) {
	e := &fakeEngine{name: "a", sources: []models.Source{models.SourceBinance, models.SourceBybit}}
	collectors := []pipeline.Collector{
		&fakeCollector{name: "broken", source: models.SourceBybit, connectErr: errors.New("dial refused")},
		&fakeCollector{name: "binance", source: models.SourceBinance, events: trades(models.SourceBinance, 3), closeAfter: true},
	}

	o, err := New[int, countInput, string](&fakeStrategy{interval: time.Hour},
		[]pipeline.StateEngine[int]{e}, collectors, nil, nil, nil)
	require.NoError(t, err)
	h, err := o.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return engineStatus(t, h, "a").Processed == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		st := h.Status()
		return st.Collectors[0].State == "failed" && st.Collectors[1].State == "closed"
	}, time.Second, 5*time.Millisecond)

	err = stop(t, h)
	assert.ErrorIs(t, err, pipeline.ErrConnection)
}

func TestBadEventDoesNotStopEngine(t *testing.T) {
	e := &fakeEngine{name: "a", sources: []models.Source{models.SourceBinance}}
	events := []models.Event{
		models.NewTradeEvent(models.SourceBinance, 1, 1, 1),
		models.NewErrorEvent(models.SourceBinance, "socket reset"),
		models.NewTradeEvent(models.SourceBinance, 2, 1, 2),
	}
	o, err := New[int, countInput, string](&fakeStrategy{interval: time.Hour},
		[]pipeline.StateEngine[int]{e},
		[]pipeline.Collector{&fakeCollector{name: "binance", source: models.SourceBinance, events: events}},
		nil, nil, nil)
	require.NoError(t, err)
	h, err := o.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := engineStatus(t, h, "a")
		return s.Processed == 2 && s.Failed == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, engineStatus(t, h, "a").Available)
	require.NoError(t, stop(t, h))
}

func TestPanickingExecutorIsRecovered(t *testing.T) {
	var ticks atomic.Int32
	st := &fakeStrategy{
		interval: 5 * time.Millisecond,
		evaluate: func(countInput) []string {
			if ticks.Add(1) > 3 {
				return nil
			}
			return []string{"a"}
		},
	}
	ok := &recordingExecutor{name: "ok"}

	o, err := New[int, countInput, string](st,
		[]pipeline.StateEngine[int]{&fakeEngine{name: "a"}}, nil,
		[]pipeline.Executor[string]{panicExecutor{}, ok}, nil, nil)
	require.NoError(t, err)
	h, err := o.Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(ok.actions()) == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, stop(t, h))
}

type panicExecutor struct{}

func (panicExecutor) Name() string                          { return "panics" }
func (panicExecutor) Execute(context.Context, string) error { panic("executor bug") }

// Delivering the same trades through inboxes of different sizes must end in
// the same engine state.
func TestEngineStateIndependentOfBuffering(t *testing.T) {
	var events []models.Event
	for i := 0; i < 300; i++ {
		src := models.SourceBinance
		if i%3 == 0 {
			src = models.SourceBybit
		}
		price := 100 + float64(i%17) - float64(i%5)
		events = append(events, models.NewTradeEvent(src, price, 0.5, uint64(i*250)))
	}
	split := map[models.Source][]models.Event{}
	for _, ev := range events {
		split[ev.EventSource()] = append(split[ev.EventSource()], ev)
	}

	clock := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	var snapshots []models.StateOutput
	for _, buffer := range []int{1, 7, 1024} {
		pe, err := engine.NewPriceEngine(1000, nil,
			engine.WithSources(models.SourceBinance, models.SourceBybit), engine.WithClock(clock))
		require.NoError(t, err)

		collectors := []pipeline.Collector{
			&fakeCollector{name: "binance", source: models.SourceBinance, events: split[models.SourceBinance]},
			&fakeCollector{name: "bybit", source: models.SourceBybit, events: split[models.SourceBybit]},
		}
		o, err := New[models.StateOutput, countInput, string](
			&priceProbe{}, []pipeline.StateEngine[models.StateOutput]{pe}, collectors, nil, nil, nil,
			WithEventBuffer(buffer),
		)
		require.NoError(t, err)
		h, err := o.Start(context.Background())
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return h.Status().Engines[0].Processed == uint64(len(events))
		}, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, stop(t, h))

		snapshots = append(snapshots, pe.Snapshot())
	}

	require.Len(t, snapshots[0].Prices, 2)
	for _, s := range snapshots[1:] {
		assert.Equal(t, snapshots[0], s)
	}
}

// priceProbe is a strategy that never fires within a test.
type priceProbe struct{}

func (priceProbe) Name() string            { return "probe" }
func (priceProbe) Interval() time.Duration { return time.Hour }
func (priceProbe) NewInputBuilder([]string) pipeline.InputBuilder[models.StateOutput, countInput] {
	return nil
}
func (priceProbe) Evaluate(countInput) []string { return nil }
