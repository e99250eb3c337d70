package strategy

import (
	"testing"
	"time"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func complete(src models.Source, price, rsi float64) models.PriceData {
	return models.PriceData{
		Source: src,
		Price:  models.Some(price),
		RSI:    models.Some(rsi),
		NATR:   models.Some(0.5),
	}
}

func output(engine string, prices ...models.PriceData) models.StateOutput {
	return models.StateOutput{Engine: engine, Prices: prices}
}

func TestBuilderRequiresEveryEngine(t *testing.T) {
	b := NewPriceInputBuilder([]string{"a", "b"})
	b.Insert("a", output("a", complete(models.SourceBinance, 1, 50)))

	_, err := b.Build()
	require.ErrorIs(t, err, pipeline.ErrIncompleteInput)
	assert.Contains(t, err.Error(), "b")

	b.Insert("b", output("b", complete(models.SourceBybit, 2, 50)))
	in, err := b.Build()
	require.NoError(t, err)
	assert.Len(t, in.Prices(), 2)
}

func TestBuilderTreatsUnavailableAsEmpty(t *testing.T) {
	b := NewPriceInputBuilder([]string{"a"})
	b.Insert("a", output("a", models.PriceData{Source: models.SourceBinance, Price: models.Some(100.0)}))
	b.Insert("ghost", output("ghost", complete(models.SourceBinance, 1, 50)))

	_, err := b.Build()
	assert.ErrorIs(t, err, pipeline.ErrIncompleteInput)
}

func TestInputPricesSkipIncompleteSources(t *testing.T) {
	b := NewPriceInputBuilder([]string{"a"})
	b.Insert("a", output("a",
		complete(models.SourceBinance, 1, 50),
		models.PriceData{Source: models.SourceBybit, Price: models.Some(2.0)},
		complete(models.SourceCoinbase, 3, 50),
	))
	in, err := b.Build()
	require.NoError(t, err)

	prices := in.Prices()
	require.Len(t, prices, 2)
	assert.Equal(t, models.SourceBinance, prices[0].Source)
	assert.Equal(t, models.SourceCoinbase, prices[1].Source)
}

func TestEchoEvaluatePreservesOrder(t *testing.T) {
	s := NewEcho(0)
	assert.Equal(t, time.Second, s.Interval())

	b := s.NewInputBuilder([]string{"first", "second"})
	b.Insert("second", output("second", complete(models.SourceCoinbase, 30, 40)))
	b.Insert("first", output("first", complete(models.SourceBinance, 10, 60), complete(models.SourceBybit, 20, 50)))
	in, err := b.Build()
	require.NoError(t, err)

	actions := s.Evaluate(in)
	require.Len(t, actions, 3)
	assert.Equal(t, models.SourceBinance, actions[0].Source)
	assert.Equal(t, models.SourceBybit, actions[1].Source)
	assert.Equal(t, models.SourceCoinbase, actions[2].Source)
	assert.Equal(t, "binance: Price: 10, RSI: 60.00, NATR: 0.5000", actions[0].Message)
	for _, a := range actions {
		assert.Equal(t, models.ActionEcho, a.Kind)
		assert.Equal(t, EchoName, a.Strategy)
	}
	assert.NotEqual(t, actions[0].ID, actions[1].ID)
}

func TestRSIThresholdSignals(t *testing.T) {
	s, err := NewRSIThreshold(time.Second, 30, 70)
	require.NoError(t, err)

	b := s.NewInputBuilder([]string{"px"})
	b.Insert("px", output("px",
		complete(models.SourceBinance, 1, 25),
		complete(models.SourceBybit, 1, 50),
		complete(models.SourceCoinbase, 1, 80),
	))
	in, err := b.Build()
	require.NoError(t, err)

	actions := s.Evaluate(in)
	require.Len(t, actions, 2)
	assert.Equal(t, models.ActionBuy, actions[0].Kind)
	assert.Equal(t, models.SourceBinance, actions[0].Source)
	assert.Equal(t, models.ActionSell, actions[1].Kind)
	assert.Equal(t, models.SourceCoinbase, actions[1].Source)
}

func TestNewSelectsStrategy(t *testing.T) {
	s, err := New(Settings{Name: "echo", Interval: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, EchoName, s.Name())
	assert.Equal(t, 2*time.Second, s.Interval())

	s, err = New(Settings{Name: "rsi", Oversold: 20, Overbought: 80})
	require.NoError(t, err)
	assert.Equal(t, RSIName, s.Name())

	_, err = New(Settings{Name: "rsi", Oversold: 80, Overbought: 20})
	assert.Error(t, err)

	_, err = New(Settings{Name: "nope"})
	assert.Error(t, err)
}
