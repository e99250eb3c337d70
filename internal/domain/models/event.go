package models

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the upstream venue an event came from.
type Source string

const (
	SourceBinance  Source = "binance"
	SourceBybit    Source = "bybit"
	SourceCoinbase Source = "coinbase"
)

// AllSources returns every known source in a stable order.
func AllSources() []Source {
	return []Source{SourceBinance, SourceBybit, SourceCoinbase}
}

// ParseSource converts a config string to a Source.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllSources() {
		if src == known {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

func (s Source) String() string { return string(s) }

// Trade is a single executed trade reported by a venue.
type Trade struct {
	Source    Source  `json:"source"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Timestamp uint64  `json:"ts"` // unix ms
}

// Time returns the trade timestamp as time.Time.
func (t Trade) Time() time.Time {
	return time.UnixMilli(int64(t.Timestamp))
}

// EventKind labels an event variant.
type EventKind string

const (
	EventKindTrade       EventKind = "trade"
	EventKindError       EventKind = "error"
	EventKindUnsupported EventKind = "unsupported"
)

// Event is a normalized domain event produced by a collector.
// The set of variants is closed: TradeEvent, ErrorEvent and UnsupportedEvent.
type Event interface {
	Kind() EventKind
	EventSource() Source
	isEvent()
}

// TradeEvent carries a trade.
type TradeEvent struct {
	Trade Trade
}

func (e TradeEvent) Kind() EventKind     { return EventKindTrade }
func (e TradeEvent) EventSource() Source { return e.Trade.Source }
func (TradeEvent) isEvent()              {}

// ErrorEvent reports a collector-side problem (decode failure, disconnect).
type ErrorEvent struct {
	Source  Source
	Message string
}

func (e ErrorEvent) Kind() EventKind     { return EventKindError }
func (e ErrorEvent) EventSource() Source { return e.Source }
func (ErrorEvent) isEvent()              {}

// UnsupportedEvent wraps a frame the collector does not understand.
type UnsupportedEvent struct {
	Source  Source
	Message string
}

func (e UnsupportedEvent) Kind() EventKind     { return EventKindUnsupported }
func (e UnsupportedEvent) EventSource() Source { return e.Source }
func (UnsupportedEvent) isEvent()              {}

// NewTradeEvent builds a trade event.
func NewTradeEvent(source Source, price, size float64, tsMillis uint64) Event {
	return TradeEvent{Trade: Trade{Source: source, Price: price, Size: size, Timestamp: tsMillis}}
}

// NewErrorEvent builds an error event with a formatted message.
func NewErrorEvent(source Source, format string, args ...interface{}) Event {
	return ErrorEvent{Source: source, Message: fmt.Sprintf(format, args...)}
}

// NewUnsupportedEvent builds an unsupported event.
func NewUnsupportedEvent(source Source, msg string) Event {
	return UnsupportedEvent{Source: source, Message: msg}
}
