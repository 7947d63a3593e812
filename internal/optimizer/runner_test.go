package optimizer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ledunk1/bot/internal/params"
	"github.com/ledunk1/bot/pkg/types"
)

func sweepCandles(n int) []types.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]types.Candle, n)
	for i := range candles {
		price := 100 + float64(i)*0.05 + 3*math.Sin(float64(i)/7)
		candles[i] = types.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price, High: price * 1.001, Low: price * 0.999,
			Close: price, Volume: 100,
		}
	}
	return candles
}

func sweepRanges() params.Ranges {
	return params.Ranges{
		Fast:     params.IntRange{Min: 3, Max: 5, Step: 2},
		Slow:     params.IntRange{Min: 7, Max: 9, Step: 2},
		Signal:   params.IntRange{Min: 3, Max: 3, Step: 1},
		Trend:    params.IntRange{Min: 20, Max: 20, Step: 1},
		TPBase:   params.FloatRange{Min: 0.5, Max: 0.5, Step: 0.5},
		StopLoss: params.FloatRange{Min: 1.0, Max: 1.5, Step: 0.5},
	}
}

func sweepTrading() types.TradingParams {
	return types.TradingParams{InitialBalance: 1000, Leverage: 10, MarginPercent: 10}
}

func TestRunCombination(t *testing.T) {
	runner := NewRunner(zap.NewNop(), nil)
	combo := types.Combination{Fast: 3, Slow: 7, Signal: 3, Trend: 20, TPBase: 0.5, StopLoss: 1.25}

	result, err := runner.RunCombination(sweepCandles(300), combo, sweepTrading(), DefaultRiskDefaults())
	assert.NoError(t, err)
	assert.Equal(t, combo, result.Parameters)
	assert.False(t, math.IsNaN(result.Score))
	assert.Greater(t, result.FinalBalance, 0.0)
}

func TestRunCombination_InsufficientData(t *testing.T) {
	runner := NewRunner(zap.NewNop(), nil)
	combo := types.Combination{Fast: 3, Slow: 7, Signal: 3, Trend: 500, TPBase: 0.5, StopLoss: 1.25}

	_, err := runner.RunCombination(sweepCandles(100), combo, sweepTrading(), DefaultRiskDefaults())
	assert.Error(t, err)
}

func TestOptimizeSymbol_RankedDescending(t *testing.T) {
	runner := NewRunner(zap.NewNop(), nil)
	combos, err := params.Expand(sweepRanges())
	assert.NoError(t, err)

	results := runner.OptimizeSymbol("BTCUSDT", sweepCandles(300), combos,
		sweepTrading(), DefaultRiskDefaults(), 4, nil, nil)

	assert.Len(t, results, len(combos))
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Score, results[i-1].Score)
	}
}

func TestOptimizeSymbol_Deterministic(t *testing.T) {
	runner := NewRunner(zap.NewNop(), nil)
	combos, err := params.Expand(sweepRanges())
	assert.NoError(t, err)
	candles := sweepCandles(300)

	a := runner.OptimizeSymbol("BTCUSDT", candles, combos, sweepTrading(), DefaultRiskDefaults(), 4, nil, nil)
	b := runner.OptimizeSymbol("BTCUSDT", candles, combos, sweepTrading(), DefaultRiskDefaults(), 1, nil, nil)
	assert.Equal(t, a, b)
}

func TestOptimizeSymbol_ProgressReported(t *testing.T) {
	runner := NewRunner(zap.NewNop(), nil)
	combos, err := params.Expand(sweepRanges())
	assert.NoError(t, err)

	var last int
	runner.OptimizeSymbol("BTCUSDT", sweepCandles(300), combos,
		sweepTrading(), DefaultRiskDefaults(), 1,
		func(n int) { last = n }, nil)

	assert.Equal(t, len(combos), last)
}

func TestOptimizeSymbol_CooperativeCancel(t *testing.T) {
	runner := NewRunner(zap.NewNop(), nil)
	combos, err := params.Expand(sweepRanges())
	assert.NoError(t, err)

	results := runner.OptimizeSymbol("BTCUSDT", sweepCandles(300), combos,
		sweepTrading(), DefaultRiskDefaults(), 1, nil,
		func() bool { return false })

	assert.Empty(t, results)
}

func TestOptimizeSymbol_BadDataYieldsNoResults(t *testing.T) {
	runner := NewRunner(zap.NewNop(), nil)
	combos, err := params.Expand(sweepRanges())
	assert.NoError(t, err)

	// Too few candles for every combination's trend length.
	results := runner.OptimizeSymbol("BTCUSDT", sweepCandles(5), combos,
		sweepTrading(), DefaultRiskDefaults(), 2, nil, nil)
	assert.Empty(t, results)
}

func TestLessCombination(t *testing.T) {
	a := types.Combination{Fast: 3, Slow: 7, Signal: 3, Trend: 20, TPBase: 0.5, StopLoss: 1.0}
	b := a
	b.StopLoss = 1.5
	assert.True(t, lessCombination(a, b))
	assert.False(t, lessCombination(b, a))

	c := a
	c.Fast = 5
	assert.True(t, lessCombination(a, c))
	assert.False(t, lessCombination(a, a))
}
