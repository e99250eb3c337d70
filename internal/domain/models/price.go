package models

import (
	"encoding/json"
	"time"
)

// Candle represents an OHLCV bucket built from trades.
type Candle struct {
	Start  uint64  `json:"start"` // bucket start, unix ms
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Trades int     `json:"trades"`
}

// Bucket returns the bucket start time.
func (c Candle) Bucket() time.Time { return time.UnixMilli(int64(c.Start)) }

// Optional is a value that may be unavailable.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some wraps an available value.
func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Valid: true} }

// None returns an unavailable value.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it is available.
func (o Optional[T]) Get() (T, bool) { return o.Value, o.Valid }

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

func (o *Optional[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// PriceData is the per-source snapshot answered by a price engine.
type PriceData struct {
	Source     Source            `json:"source"`
	Price      Optional[float64] `json:"price"`
	RSI        Optional[float64] `json:"rsi"`
	NATR       Optional[float64] `json:"natr"`
	Volatility Optional[float64] `json:"volatility"`
	Closed     int               `json:"closed_candles"`
	LastClosed Optional[Candle]  `json:"last_closed"`
}

// Complete reports whether price, RSI and NATR are all available.
func (p PriceData) Complete() bool {
	return p.Price.Valid && p.RSI.Valid && p.NATR.Valid
}

// StateOutput is a state engine response.
type StateOutput struct {
	Engine string      `json:"engine"`
	Prices []PriceData `json:"prices"`
	At     time.Time   `json:"at"`
}

// Available reports whether at least one source has complete data.
func (o StateOutput) Available() bool {
	for _, p := range o.Prices {
		if p.Complete() {
			return true
		}
	}
	return false
}

// Complete returns only the sources with complete data.
func (o StateOutput) Complete() []PriceData {
	out := make([]PriceData, 0, len(o.Prices))
	for _, p := range o.Prices {
		if p.Complete() {
			out = append(out, p)
		}
	}
	return out
}
