package strategy

import (
	"fmt"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
)

// PriceStrategy is the strategy shape used by the price pipeline.
type PriceStrategy = pipeline.Strategy[models.StateOutput, PriceInput, models.Action]

// Settings selects and parameterizes a strategy.
type Settings struct {
	Name       string
	Interval   time.Duration
	Oversold   float64
	Overbought float64
}

// New builds the strategy named in s.
func New(s Settings) (PriceStrategy, error) {
	switch s.Name {
	case "", "echo":
		return NewEcho(s.Interval), nil
	case "rsi":
		st, err := NewRSIThreshold(s.Interval, s.Oversold, s.Overbought)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", s.Name)
	}
}
