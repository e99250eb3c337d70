package strategy

import (
	"fmt"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"
)

const (
	EchoName        = "echo_strategy"
	DefaultInterval = time.Second
)

// Echo emits one action per complete price, describing it.
type Echo struct {
	interval time.Duration
}

var _ pipeline.Strategy[models.StateOutput, PriceInput, models.Action] = (*Echo)(nil)

// NewEcho creates an echo strategy ticking every interval.
func NewEcho(interval time.Duration) *Echo {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Echo{interval: interval}
}

func (s *Echo) Name() string { return EchoName }

func (s *Echo) Interval() time.Duration { return s.interval }

func (s *Echo) NewInputBuilder(engines []string) pipeline.InputBuilder[models.StateOutput, PriceInput] {
	return NewPriceInputBuilder(engines)
}

func (s *Echo) Evaluate(in PriceInput) []models.Action {
	prices := in.Prices()
	actions := make([]models.Action, 0, len(prices))
	for _, p := range prices {
		actions = append(actions, models.NewAction(EchoName, models.ActionEcho, p, Describe(p)))
	}
	return actions
}

// Describe formats a complete price for humans.
func Describe(p models.PriceData) string {
	return fmt.Sprintf("%s: Price: %g, RSI: %.2f, NATR: %.4f", p.Source, p.Price.Value, p.RSI.Value, p.NATR.Value)
}
