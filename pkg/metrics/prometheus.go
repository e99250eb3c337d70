package metrics

import (
	"time"

	"TradePipe/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	registry        *prometheus.Registry
	eventsProcessed *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	stateSize       *prometheus.GaugeVec
	errorsTotal     *prometheus.CounterVec
	ticksTotal      *prometheus.CounterVec
	actionsTotal    *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
}

// NewRegistry returns a registry carrying the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates a recorder whose metrics are registered on reg.
func New(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		eventsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepipe_engine_events_processed_total",
				Help: "Total number of events folded by state engines",
			},
			[]string{"engine", "event_kind"},
		),
		eventDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradepipe_engine_event_processing_seconds",
				Help:    "Time spent folding a single event",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
			[]string{"engine", "event_kind"},
		),
		stateSize: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepipe_engine_state_size",
				Help: "Number of candles held by a state engine",
			},
			[]string{"engine"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepipe_component_errors_total",
				Help: "Total number of errors by component",
			},
			[]string{"component", "kind"},
		),
		ticksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepipe_ticks_total",
				Help: "Strategy ticks by result",
			},
			[]string{"strategy", "result"},
		),
		actionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepipe_actions_dispatched_total",
				Help: "Actions handed to executors by result",
			},
			[]string{"executor", "result"},
		),
		queryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradepipe_query_duration_seconds",
				Help:    "Round trip of a state engine query",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"engine"},
		),
	}
}

// Registry returns the registry the recorder writes to.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// RecordEventProcessed records a folded event and its processing time.
func (r *Recorder) RecordEventProcessed(engine string, kind models.EventKind, d time.Duration) {
	r.eventsProcessed.WithLabelValues(engine, string(kind)).Inc()
	r.eventDuration.WithLabelValues(engine, string(kind)).Observe(d.Seconds())
}

// RecordStateSize sets the current state size of an engine.
func (r *Recorder) RecordStateSize(engine string, size int) {
	r.stateSize.WithLabelValues(engine).Set(float64(size))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(component, kind string) {
	r.errorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordTick records the outcome of a strategy tick.
func (r *Recorder) RecordTick(strategy, result string) {
	r.ticksTotal.WithLabelValues(strategy, result).Inc()
}

// RecordActionDispatched records an executor outcome.
func (r *Recorder) RecordActionDispatched(executor, result string) {
	r.actionsTotal.WithLabelValues(executor, result).Inc()
}

// RecordQueryLatency records how long an engine took to answer.
func (r *Recorder) RecordQueryLatency(engine string, d time.Duration) {
	r.queryDuration.WithLabelValues(engine).Observe(d.Seconds())
}
