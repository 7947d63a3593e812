// Package indicator computes the SMA-based MACD oscillator and the
// long-horizon trend filter, and derives directional entry signals
// from them.
package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/ledunk1/bot/pkg/types"
	"go.uber.org/zap"
)

// ErrInsufficientData is returned when a series is shorter than the
// configured trend length.
var ErrInsufficientData = errors.New("insufficient candle data")

const (
	// strengthWindow is the rolling window used to normalize
	// oscillator and histogram magnitudes.
	strengthWindow = 20
	// strengthEpsilon guards the normalization against division by
	// zero on flat series.
	strengthEpsilon = 1e-8
	// minStrength is the weak-signal floor: anything below it is
	// forced flat.
	minStrength = 0.2
)

// Series holds the computed indicator columns, one value per candle.
// After Compute returns, no NaN remains in any column: warm-up gaps
// are forward-filled then back-filled before signal generation.
type Series struct {
	FastMA     []float64
	SlowMA     []float64
	TrendMA    []float64
	MACD       []float64
	MACDSignal []float64
	Histogram  []float64
}

// Engine computes indicators and signals for one OHLCV series.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an indicator engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger}
}

// Compute derives the indicator series for the given candles.
func (e *Engine) Compute(candles []types.Candle, params types.StrategyParams) (*Series, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy parameters: %w", err)
	}
	if len(candles) < params.TrendLength {
		return nil, fmt.Errorf("%w: need at least %d candles, have %d",
			ErrInsufficientData, params.TrendLength, len(candles))
	}

	closes := types.Closes(candles)

	s := &Series{
		FastMA:  sma(closes, params.FastLength),
		SlowMA:  sma(closes, params.SlowLength),
		TrendMA: sma(closes, params.TrendLength),
	}

	n := len(closes)
	s.MACD = make([]float64, n)
	for i := 0; i < n; i++ {
		s.MACD[i] = s.FastMA[i] - s.SlowMA[i]
	}
	s.MACDSignal = sma(s.MACD, params.SignalLength)
	s.Histogram = make([]float64, n)
	for i := 0; i < n; i++ {
		s.Histogram[i] = s.MACD[i] - s.MACDSignal[i]
	}

	// Second pass: fill warm-up gaps so no NaN reaches signal
	// generation.
	for _, col := range [][]float64{s.FastMA, s.SlowMA, s.TrendMA, s.MACD, s.MACDSignal, s.Histogram} {
		fillForward(col)
		fillBackward(col)
	}

	return s, nil
}

// Signals derives the per-candle entry signals from a computed series.
func (e *Engine) Signals(candles []types.Candle, s *Series, params types.StrategyParams) ([]types.SignalPoint, error) {
	if s == nil || len(s.Histogram) != len(candles) {
		return nil, errors.New("indicator series does not match candle series")
	}

	n := len(candles)
	points := make([]types.SignalPoint, n)
	closes := types.Closes(candles)

	macdMean := rollingMeanAbs(s.MACD, strengthWindow)
	histMean := rollingMeanAbs(s.Histogram, strengthWindow)

	longs, shorts := 0, 0
	for i := 0; i < n; i++ {
		points[i] = types.SignalPoint{
			Timestamp: candles[i].Timestamp,
			Price:     closes[i],
			Direction: types.DirectionFlat,
		}
		if i == 0 {
			continue
		}

		crossUp := s.Histogram[i] > 0 && s.Histogram[i-1] <= 0
		crossDown := s.Histogram[i] < 0 && s.Histogram[i-1] >= 0

		// The trend filter looks at the close shifted back by the
		// slow length; bars without that much history never signal.
		shifted := i - params.SlowLength
		if shifted < 0 {
			continue
		}

		direction := types.DirectionFlat
		switch {
		case crossUp && s.MACD[i] > 0 && s.FastMA[i] > s.SlowMA[i] && closes[shifted] > s.TrendMA[i]:
			direction = types.DirectionLong
		case crossDown && s.MACD[i] < 0 && s.FastMA[i] < s.SlowMA[i] && closes[shifted] < s.TrendMA[i]:
			direction = types.DirectionShort
		}

		// Cancel overrides: the slow MA on the wrong side of the
		// trend MA vetoes the raw crossover.
		if direction == types.DirectionLong && s.SlowMA[i] < s.TrendMA[i] {
			direction = types.DirectionFlat
		}
		if direction == types.DirectionShort && s.SlowMA[i] > s.TrendMA[i] {
			direction = types.DirectionFlat
		}

		if direction == types.DirectionFlat {
			continue
		}

		strength := e.strength(direction, closes[i], s.MACD[i], s.Histogram[i],
			s.TrendMA[i], macdMean[i], histMean[i])
		if strength < minStrength {
			// Weak-signal suppression is a hard invariant of the
			// default strategy.
			continue
		}

		points[i].Direction = direction
		points[i].Strength = strength
		if direction == types.DirectionLong {
			longs++
		} else {
			shorts++
		}
	}

	e.logger.Debug("Generated signals",
		zap.Int("bars", n),
		zap.Int("long", longs),
		zap.Int("short", shorts),
	)

	return points, nil
}

// strength blends oscillator magnitude, histogram magnitude and trend
// distance into a [0,1] confidence score.
func (e *Engine) strength(direction types.Direction, close, macd, hist, trendMA, macdMean, histMean float64) float64 {
	macdStrength := math.Abs(macd) / (macdMean + strengthEpsilon)
	histStrength := math.Abs(hist) / (histMean + strengthEpsilon)

	var trendStrength float64
	if trendMA > 0 {
		switch direction {
		case types.DirectionLong:
			trendStrength = math.Max(0, (close-trendMA)/trendMA)
		case types.DirectionShort:
			trendStrength = math.Max(0, (trendMA-close)/trendMA)
		}
	}

	blended := macdStrength*0.4 + histStrength*0.4 + trendStrength*0.2
	return math.Min(1.0, blended)
}

// sma computes a simple moving average. Leading NaN inputs are
// skipped: the window opens at the first finite value, and every bar
// before it holds period finite points is NaN for the fill pass to
// replace. The signal line feeds on the MACD column, whose own warm-up
// is NaN, so the running sum must never touch those bars.
func sma(values []float64, period int) []float64 {
	out := make([]float64, len(values))

	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		out[start] = math.NaN()
		start++
	}

	var sum float64
	for i := start; i < len(values); i++ {
		sum += values[i]
		if i-start >= period {
			sum -= values[i-period]
		}
		if i-start >= period-1 {
			out[i] = sum / float64(period)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// rollingMeanAbs computes a trailing mean of absolute values over up
// to window bars. The window expands at the start of the series so
// every bar gets a finite value.
func rollingMeanAbs(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += math.Abs(v)
		width := window
		if i >= window {
			sum -= math.Abs(values[i-window])
		} else {
			width = i + 1
		}
		out[i] = sum / float64(width)
	}
	return out
}

// fillForward propagates the last finite value over NaN gaps.
func fillForward(values []float64) {
	last := math.NaN()
	for i, v := range values {
		if math.IsNaN(v) {
			values[i] = last
		} else {
			last = v
		}
	}
}

// fillBackward propagates the next finite value over leading NaN gaps.
func fillBackward(values []float64) {
	next := math.NaN()
	for i := len(values) - 1; i >= 0; i-- {
		if math.IsNaN(values[i]) {
			values[i] = next
		} else {
			next = values[i]
		}
	}
}
