// Package exchange streams public trades from exchange websockets.
package exchange

import (
	"context"
	"fmt"
	"math"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
	"TradePipe/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	DefaultPingInterval      = 15 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultReconnectDelay    = time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
	DefaultMaxReconnects     = 5
	DefaultBuffer            = 1024

	writeTimeout = 5 * time.Second
	readLimit    = 1 << 20
)

// Codec translates one venue's websocket protocol into events.
type Codec interface {
	Source() models.Source
	Endpoint() string
	SubscribeMessages() []any
	Decode(frame []byte) []models.Event
}

// Options tunes a websocket collector.
type Options struct {
	URL               string // overrides the venue endpoint
	Symbol            string
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	HandshakeTimeout  time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	MaxReconnects     int // consecutive attempts without a delivered frame; 0 disables reconnects
	Buffer            int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxReconnectDelay < o.ReconnectDelay {
		o.MaxReconnectDelay = max(DefaultMaxReconnectDelay, o.ReconnectDelay)
	}
	if o.MaxReconnects < 0 {
		o.MaxReconnects = 0
	}
	if o.Buffer <= 0 {
		o.Buffer = DefaultBuffer
	}
	return o
}

// Collector is a pipeline.Collector backed by a venue websocket.
type Collector struct {
	codec  Codec
	opts   Options
	dialer *websocket.Dialer
	log    *logger.Logger
}

var _ pipeline.Collector = (*Collector)(nil)

// NewCollector wires a codec to the generic websocket driver.
func NewCollector(codec Codec, opts Options, log *logger.Logger) *Collector {
	opts = opts.withDefaults()
	if log == nil {
		log = logger.Nop()
	}
	c := &Collector{
		codec:  codec,
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
	}
	c.log = log.Named(c.Name())
	return c
}

func (c *Collector) Name() string          { return c.codec.Source().String() + "_collector" }
func (c *Collector) Source() models.Source { return c.codec.Source() }

func (c *Collector) url() string {
	if c.opts.URL != "" {
		return c.opts.URL
	}
	return c.codec.Endpoint()
}

// EventStream dials the venue and streams its trades until ctx is done or
// reconnect attempts run out.
func (c *Collector) EventStream(ctx context.Context) (<-chan models.Event, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan models.Event, c.opts.Buffer)
	go c.run(ctx, conn, out)
	return out, nil
}

func (c *Collector) connect(ctx context.Context) (*websocket.Conn, error) {
	u := c.url()
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s dial %s: %v", pipeline.ErrConnection, c.Source(), u, err)
	}
	for _, msg := range c.codec.SubscribeMessages() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %s subscribe: %v", pipeline.ErrConnection, c.Source(), err)
		}
	}
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})
	c.log.Info("connected", logger.String("url", u))
	return conn, nil
}

func (c *Collector) run(ctx context.Context, conn *websocket.Conn, out chan<- models.Event) {
	defer close(out)
	src := c.Source()
	backoff := c.opts.ReconnectDelay
	attempts := 0

	for {
		delivered, err := c.consume(ctx, conn, out)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		if delivered {
			attempts = 0
			backoff = c.opts.ReconnectDelay
		}
		c.log.Warn("disconnected", logger.Error(err))
		if !emit(ctx, out, models.NewErrorEvent(src, "disconnected: %v", err)) {
			return
		}

		conn = nil
		for conn == nil {
			if attempts >= c.opts.MaxReconnects {
				if c.opts.MaxReconnects > 0 {
					c.log.Error("giving up", logger.Int("attempts", attempts))
					emit(ctx, out, models.NewErrorEvent(src, "giving up after %d reconnect attempts", attempts))
				}
				return
			}
			attempts++
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = time.Duration(math.Min(float64(c.opts.MaxReconnectDelay), float64(backoff)*1.8))

			conn, err = c.connect(ctx)
			if err != nil {
				c.log.Warn("reconnect failed", logger.Int("attempt", attempts), logger.Error(err))
				conn = nil
			}
		}
	}
}

// consume reads frames until the connection fails. delivered reports whether
// at least one event went out on this connection.
func (c *Collector) consume(ctx context.Context, conn *websocket.Conn, out chan<- models.Event) (delivered bool, err error) {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.ping(pingCtx, conn)

	// unblock ReadMessage on cancellation
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return delivered, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		for _, ev := range c.codec.Decode(frame) {
			if !emit(ctx, out, ev) {
				return delivered, ctx.Err()
			}
			delivered = true
		}
	}
}

func (c *Collector) ping(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.log.Debug("ping failed", logger.Error(err))
				return
			}
		}
	}
}

func emit(ctx context.Context, out chan<- models.Event, ev models.Event) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}
