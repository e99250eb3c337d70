package features

import (
	"math"

	"TradePipe/internal/domain/models"
)

// DefaultPeriod is the lookback used for RSI and NATR.
const DefaultPeriod = 14

// RSI computes the latest Wilder relative strength index over candle closes.
// It needs at least period+1 candles.
func RSI(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := candles[i].Close - candles[i-1].Close
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	p := float64(period)
	avgGain := gain / p
	avgLoss := loss / p

	for i := period + 1; i < len(candles); i++ {
		d := candles[i].Close - candles[i-1].Close
		up, down := 0.0, 0.0
		if d > 0 {
			up = d
		} else {
			down = -d
		}
		avgGain = (avgGain*(p-1) + up) / p
		avgLoss = (avgLoss*(p-1) + down) / p
	}

	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50, true
	case avgLoss == 0:
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// TrueRange returns the true range of cur given the previous close.
func TrueRange(cur models.Candle, prevClose float64) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prevClose), math.Abs(cur.Low-prevClose)))
}

// ATR computes the latest Wilder average true range. It needs at least
// period+1 candles.
func ATR(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	p := float64(period)
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += TrueRange(candles[i], candles[i-1].Close)
	}
	atr := sum / p
	for i := period + 1; i < len(candles); i++ {
		atr = (atr*(p-1) + TrueRange(candles[i], candles[i-1].Close)) / p
	}
	return atr, true
}

// NATR is the ATR expressed as a percentage of the latest close.
func NATR(candles []models.Candle, period int) (float64, bool) {
	atr, ok := ATR(candles, period)
	if !ok {
		return 0, false
	}
	last := candles[len(candles)-1].Close
	if last <= 0 {
		return 0, false
	}
	return atr / last * 100, true
}
