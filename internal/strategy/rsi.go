package strategy

import (
	"fmt"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
)

const RSIName = "rsi_strategy"

// RSIThreshold signals buy below the oversold level and sell above the
// overbought level. Sources in between produce nothing.
type RSIThreshold struct {
	interval   time.Duration
	oversold   float64
	overbought float64
}

var _ pipeline.Strategy[models.StateOutput, PriceInput, models.Action] = (*RSIThreshold)(nil)

// NewRSIThreshold creates the strategy. oversold must be below overbought.
func NewRSIThreshold(interval time.Duration, oversold, overbought float64) (*RSIThreshold, error) {
	if oversold >= overbought {
		return nil, fmt.Errorf("oversold %.2f must be below overbought %.2f", oversold, overbought)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &RSIThreshold{interval: interval, oversold: oversold, overbought: overbought}, nil
}

func (s *RSIThreshold) Name() string { return RSIName }

func (s *RSIThreshold) Interval() time.Duration { return s.interval }

func (s *RSIThreshold) NewInputBuilder(engines []string) pipeline.InputBuilder[models.StateOutput, PriceInput] {
	return NewPriceInputBuilder(engines)
}

func (s *RSIThreshold) Evaluate(in PriceInput) []models.Action {
	var actions []models.Action
	for _, p := range in.Prices() {
		switch rsi := p.RSI.Value; {
		case rsi <= s.oversold:
			actions = append(actions, models.NewAction(RSIName, models.ActionBuy, p,
				fmt.Sprintf("rsi %.2f <= %.2f on %s", rsi, s.oversold, p.Source)))
		case rsi >= s.overbought:
			actions = append(actions, models.NewAction(RSIName, models.ActionSell, p,
				fmt.Sprintf("rsi %.2f >= %.2f on %s", rsi, s.overbought, p.Source)))
		}
	}
	return actions
}
