package features

import (
	"errors"
	"fmt"

	"TradePipe/internal/domain/models"
)

var (
	ErrOutOfOrder       = errors.New("trade older than current candle")
	ErrInvalidTimeframe = errors.New("timeframe must be positive")
)

// CandleSeries buckets trades into fixed-width OHLCV candles. The newest
// candle stays open until a trade lands in a later bucket.
type CandleSeries struct {
	timeframe uint64
	maxClosed int
	closed    []models.Candle
	current   models.Candle
	hasOpen   bool
}

// NewCandleSeries creates a series with the given bucket width in ms.
// maxClosed caps the closed history; zero means unbounded.
func NewCandleSeries(timeframeMs uint64, maxClosed int) (*CandleSeries, error) {
	if timeframeMs == 0 {
		return nil, ErrInvalidTimeframe
	}
	return &CandleSeries{timeframe: timeframeMs, maxClosed: maxClosed}, nil
}

// Timeframe returns the bucket width in ms.
func (s *CandleSeries) Timeframe() uint64 { return s.timeframe }

// Push folds a trade into the series. A trade belonging to a bucket older
// than the open candle is rejected and leaves the series unchanged.
func (s *CandleSeries) Push(price, size float64, tsMillis uint64) error {
	bucket := tsMillis - tsMillis%s.timeframe

	if !s.hasOpen {
		s.open(bucket, price, size)
		return nil
	}

	switch {
	case bucket == s.current.Start:
		c := &s.current
		if price > c.High {
			c.High = price
		}
		if price < c.Low {
			c.Low = price
		}
		c.Close = price
		c.Volume += size
		c.Trades++
	case bucket > s.current.Start:
		s.closed = append(s.closed, s.current)
		if s.maxClosed > 0 && len(s.closed) > s.maxClosed {
			s.closed = append(s.closed[:0], s.closed[len(s.closed)-s.maxClosed:]...)
		}
		s.open(bucket, price, size)
	default:
		return fmt.Errorf("%w: bucket %d before %d", ErrOutOfOrder, bucket, s.current.Start)
	}
	return nil
}

func (s *CandleSeries) open(bucket uint64, price, size float64) {
	s.current = models.Candle{
		Start:  bucket,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: size,
		Trades: 1,
	}
	s.hasOpen = true
}

// Len returns the number of candles including the open one.
func (s *CandleSeries) Len() int {
	if s.hasOpen {
		return len(s.closed) + 1
	}
	return len(s.closed)
}

// ClosedLen returns the number of closed candles.
func (s *CandleSeries) ClosedLen() int { return len(s.closed) }

// LastPrice returns the most recent trade price.
func (s *CandleSeries) LastPrice() (float64, bool) {
	if !s.hasOpen {
		return 0, false
	}
	return s.current.Close, true
}

// LastClosed returns the most recently closed candle.
func (s *CandleSeries) LastClosed() (models.Candle, bool) {
	if len(s.closed) == 0 {
		return models.Candle{}, false
	}
	return s.closed[len(s.closed)-1], true
}

// Closed returns a copy of the closed candles, oldest first.
func (s *CandleSeries) Closed() []models.Candle {
	out := make([]models.Candle, len(s.closed))
	copy(out, s.closed)
	return out
}

// Candles returns closed candles followed by the open one.
func (s *CandleSeries) Candles() []models.Candle {
	out := make([]models.Candle, 0, s.Len())
	out = append(out, s.closed...)
	if s.hasOpen {
		out = append(out, s.current)
	}
	return out
}
