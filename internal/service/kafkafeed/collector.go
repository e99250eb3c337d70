// Package kafkafeed replays trades recorded on a Kafka topic as a collector.
package kafkafeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	"TradePipe/pkg/kafka"
	"TradePipe/pkg/logger"

	segkafka "github.com/segmentio/kafka-go"
)

const (
	DefaultBuffer      = 1024
	DefaultStopTimeout = 5 * time.Second
)

// Record is the JSON shape of a trade on the feed topic.
type Record struct {
	Source    models.Source `json:"source"`
	Price     float64       `json:"price"`
	Size      float64       `json:"size"`
	Timestamp uint64        `json:"ts"`
}

// Consumer is the part of kafka.Consumer the collector drives.
type Consumer interface {
	Ping(ctx context.Context) error
	RegisterHandler(h kafka.MessageHandler)
	WithConsumerHook(h kafka.ConsumerHook)
	Start() error
	Stop(ctx context.Context) error
}

// Collector emits the trades of one source found on a topic.
type Collector struct {
	source      models.Source
	topic       string
	newConsumer func() (Consumer, error)
	buffer      int
	log         *logger.Logger
}

var _ pipeline.Collector = (*Collector)(nil)

// New builds a replay collector; opts configure the underlying consumer.
func New(source models.Source, topic string, log *logger.Logger, opts ...kafka.ConsumerOption) *Collector {
	return NewWithConsumer(source, topic, log, func() (Consumer, error) {
		return kafka.NewConsumer(append(opts, kafka.WithConsumerLogger(log))...)
	})
}

// NewWithConsumer builds a collector on a custom consumer factory.
func NewWithConsumer(source models.Source, topic string, log *logger.Logger, factory func() (Consumer, error)) *Collector {
	if log == nil {
		log = logger.Nop()
	}
	c := &Collector{source: source, topic: topic, newConsumer: factory, buffer: DefaultBuffer}
	c.log = log.Named(c.Name())
	return c
}

func (c *Collector) Name() string          { return c.source.String() + "_kafka_collector" }
func (c *Collector) Source() models.Source { return c.source }

func (c *Collector) EventStream(ctx context.Context) (<-chan models.Event, error) {
	consumer, err := c.newConsumer()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pipeline.ErrConnection, c.Name(), err)
	}
	if err := consumer.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", pipeline.ErrConnection, c.Name(), err)
	}

	out := make(chan models.Event, c.buffer)
	h := &tradeHandler{topic: c.topic, source: c.source, ctx: ctx, out: out}
	consumer.RegisterHandler(h)
	consumer.WithConsumerHook(rejectEmpty)
	if err := consumer.Start(); err != nil {
		c.stop(consumer)
		return nil, fmt.Errorf("%w: %s: %v", pipeline.ErrConnection, c.Name(), err)
	}
	c.log.Info("consuming", logger.String("topic", c.topic))

	go func() {
		<-ctx.Done()
		c.stop(consumer)
		h.close()
	}()
	return out, nil
}

func (c *Collector) stop(consumer Consumer) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultStopTimeout)
	defer cancel()
	if err := consumer.Stop(ctx); err != nil {
		c.log.Warn("consumer stop", logger.Error(err))
	}
}

// rejectEmpty sends tombstones down the failure path instead of decoding them.
var rejectEmpty = kafka.HookFuncs{
	Before: func(ctx context.Context, _ string, km segkafka.Message, data []byte) (context.Context, segkafka.Message, []byte, error) {
		if len(data) == 0 {
			return ctx, km, data, &kafka.HookError{Code: "ERR_EMPTY"}
		}
		return ctx, km, data, nil
	},
}

type tradeHandler struct {
	topic  string
	source models.Source
	ctx    context.Context
	out    chan<- models.Event

	// held for reading while a worker sends on out
	mu     sync.RWMutex
	closed bool
}

func (h *tradeHandler) Topic() string { return h.topic }

// Handle never asks for a retry; bad records become error events.
func (h *tradeHandler) Handle(_ context.Context, data []byte) error {
	ev := h.decode(data)
	if ev == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	select {
	case <-h.ctx.Done():
	case h.out <- ev:
	}
	return nil
}

// close ends the stream. Workers still inside Handle leave on ctx, so the
// write lock is reached even when the consumer failed to stop.
func (h *tradeHandler) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.out)
	}
}

// decode returns nil for trades of other sources sharing the topic.
func (h *tradeHandler) decode(data []byte) models.Event {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return models.NewErrorEvent(h.source, "%v: %v", pipeline.ErrMessageParse, err)
	}
	if r.Source == "" {
		r.Source = h.source
	}
	if r.Source != h.source {
		return nil
	}
	return models.NewTradeEvent(r.Source, r.Price, r.Size, r.Timestamp)
}
