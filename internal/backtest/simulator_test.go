package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ledunk1/bot/pkg/types"
)

func testTrading() types.TradingParams {
	return types.TradingParams{InitialBalance: 1000, Leverage: 10, MarginPercent: 10}
}

func testRisk() types.RiskParams {
	return types.RiskParams{
		TPBasePercent:   0.5,
		StopLossPercent: 1.25,
		MaxTPLevels:     5,
		TPCloseFraction: 0.25,
	}
}

// priceSeries builds matching candle and signal series. A non-flat
// direction in dirs[i] emits a signal on bar i.
func priceSeries(prices []float64, dirs []types.Direction) ([]types.Candle, []types.SignalPoint) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]types.Candle, len(prices))
	signals := make([]types.SignalPoint, len(prices))
	for i, p := range prices {
		ts := base.Add(time.Duration(i) * time.Hour)
		candles[i] = types.Candle{Timestamp: ts, Open: p, High: p, Low: p, Close: p, Volume: 1}
		signals[i] = types.SignalPoint{Timestamp: ts, Price: p, Direction: dirs[i]}
		if dirs[i] != types.DirectionFlat {
			signals[i].Strength = 0.5
		}
	}
	return candles, signals
}

func TestRun_NoSignals(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	prices := []float64{100, 101, 102, 101, 100}
	candles, signals := priceSeries(prices, make([]types.Direction, len(prices)))

	result, err := sim.Run(candles, signals, testTrading(), testRisk())
	assert.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.Empty(t, result.EntrySetups)
	assert.Len(t, result.EquityCurve, len(prices))
	for _, pt := range result.EquityCurve {
		assert.Equal(t, 1000.0, pt.Equity)
	}
	assert.Equal(t, 1000.0, result.Statistics.FinalBalance)
	assert.Zero(t, result.Statistics.TotalTrades)
}

func TestRun_LongTPLadder(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	prices := []float64{100, 100.5, 101, 101}
	dirs := []types.Direction{types.DirectionLong, 0, 0, 0}
	candles, signals := priceSeries(prices, dirs)

	result, err := sim.Run(candles, signals, testTrading(), testRisk())
	assert.NoError(t, err)
	assert.Len(t, result.Trades, 2)

	// Entry: margin 100, size 100*10/100 = 10 units at 100.
	// TP1 at 100.5 closes 25%: value 2.5*100 = 250, pnl
	// 0.5%*250*10 = 12.5, commission 250*0.0004*2 = 0.2.
	tp1 := result.Trades[0]
	assert.Equal(t, "TP1", tp1.ExitReason)
	assert.Equal(t, types.DirectionLong, tp1.Side)
	assert.Equal(t, 0.25, tp1.SizeClosed)
	assert.InDelta(t, 12.3, tp1.PnL, 1e-9)
	assert.InDelta(t, 0.2, tp1.Commission, 1e-9)

	// TP2 at 101 closes 25% of the remaining 7.5: value
	// 1.875*100 = 187.5, pnl 1%*187.5*10 = 18.75, commission 0.15.
	tp2 := result.Trades[1]
	assert.Equal(t, "TP2", tp2.ExitReason)
	assert.InDelta(t, 18.6, tp2.PnL, 1e-9)
	assert.InDelta(t, 0.15, tp2.Commission, 1e-9)

	assert.InDelta(t, 1030.9, result.Statistics.FinalBalance, 1e-9)
	assert.Equal(t, 2, result.Statistics.TotalTrades)
	assert.Equal(t, 2, result.Statistics.WinningTrades)
	assert.Equal(t, 100.0, result.Statistics.WinRatePct)
}

func TestRun_ShortTPLadder(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	prices := []float64{100, 99.5, 99.5}
	dirs := []types.Direction{types.DirectionShort, 0, 0}
	candles, signals := priceSeries(prices, dirs)

	result, err := sim.Run(candles, signals, testTrading(), testRisk())
	assert.NoError(t, err)
	assert.Len(t, result.Trades, 1)

	// Same magnitude as the long case: 0.5% favorable move on 250
	// value at 10x.
	trade := result.Trades[0]
	assert.Equal(t, "TP1", trade.ExitReason)
	assert.Equal(t, types.DirectionShort, trade.Side)
	assert.InDelta(t, 12.3, trade.PnL, 1e-9)
}

func TestRun_StopLoss(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	prices := []float64{100, 98}
	dirs := []types.Direction{types.DirectionLong, 0}
	candles, signals := priceSeries(prices, dirs)

	result, err := sim.Run(candles, signals, testTrading(), testRisk())
	assert.NoError(t, err)
	assert.Len(t, result.Trades, 1)

	// Fixed SL at 98.75; full close of 10 units: value 1000, pnl
	// -2%*1000*10 = -200, commission 0.8.
	trade := result.Trades[0]
	assert.Equal(t, ReasonStopLoss, trade.ExitReason)
	assert.Equal(t, 1.0, trade.SizeClosed)
	assert.InDelta(t, -200.8, trade.PnL, 1e-9)
	assert.InDelta(t, 0.8, trade.Commission, 1e-9)

	assert.InDelta(t, 799.2, result.Statistics.FinalBalance, 1e-9)
	assert.Zero(t, result.Statistics.WinningTrades)
	assert.Greater(t, result.Statistics.MaxDrawdownPct, 0.0)
}

func TestRun_TrailingStopAfterTP1(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	prices := []float64{100, 100.5, 100}
	dirs := []types.Direction{types.DirectionLong, 0, 0}
	candles, signals := priceSeries(prices, dirs)

	result, err := sim.Run(candles, signals, testTrading(), testRisk())
	assert.NoError(t, err)
	assert.Len(t, result.Trades, 2)

	// TP1 arms the trailing stop at breakeven; the pullback to 100
	// closes the remaining 7.5 units. Zero price change means the
	// trade loses exactly the commission: 750*0.0008 = 0.6.
	trail := result.Trades[1]
	assert.Equal(t, ReasonTrailingStop, trail.ExitReason)
	assert.Equal(t, 1.0, trail.SizeClosed)
	assert.InDelta(t, -0.6, trail.PnL, 1e-9)

	// 1000 + 12.3 - 0.6
	assert.InDelta(t, 1011.7, result.Statistics.FinalBalance, 1e-9)
	assert.Equal(t, 50.0, result.Statistics.WinRatePct)
}

func TestRun_OppositeSignalClosesAndBlocksReentry(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	prices := []float64{100, 102, 102}
	dirs := []types.Direction{types.DirectionLong, types.DirectionShort, 0}
	candles, signals := priceSeries(prices, dirs)

	result, err := sim.Run(candles, signals, testTrading(), testRisk())
	assert.NoError(t, err)
	assert.Len(t, result.Trades, 1)

	// The opposite signal preempts TP checks even though 102 is past
	// TP1: full close at 2% for 199.2 net.
	trade := result.Trades[0]
	assert.Equal(t, ReasonOppositeSignal, trade.ExitReason)
	assert.Equal(t, 1.0, trade.SizeClosed)
	assert.InDelta(t, 199.2, trade.PnL, 1e-9)

	// The short signal on the closing bar must not open a new
	// position.
	assert.Len(t, result.EntrySetups, 1)
	last := result.EquityCurve[len(result.EquityCurve)-1]
	assert.Zero(t, last.UnrealizedPnL)
}

func TestRun_MarginShortfallStaysFlat(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	prices := []float64{100, 101}
	dirs := []types.Direction{types.DirectionLong, 0}
	candles, signals := priceSeries(prices, dirs)

	trading := testTrading()
	trading.MarginPercent = 150 // required margin exceeds balance

	result, err := sim.Run(candles, signals, trading, testRisk())
	assert.NoError(t, err)
	assert.Empty(t, result.Trades)
	assert.Empty(t, result.EntrySetups)
	assert.Equal(t, 1000.0, result.Statistics.FinalBalance)
}

func TestRun_UnrealizedPnLOnEquityCurve(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	prices := []float64{100, 100.2}
	dirs := []types.Direction{types.DirectionLong, 0}
	candles, signals := priceSeries(prices, dirs)

	result, err := sim.Run(candles, signals, testTrading(), testRisk())
	assert.NoError(t, err)

	// 0.2% move at 10x on 10% margin of 1000: 0.2*10*100/100 = 2.
	assert.InDelta(t, 2.0, result.EquityCurve[1].UnrealizedPnL, 1e-9)
	assert.InDelta(t, 1002.0, result.EquityCurve[1].Equity, 1e-9)
}

func TestRun_SeriesMismatch(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	prices := []float64{100, 101, 102}
	candles, signals := priceSeries(prices, make([]types.Direction, len(prices)))

	_, err := sim.Run(candles, signals[:2], testTrading(), testRisk())
	assert.Error(t, err)
}

func TestRun_InvalidParams(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	prices := []float64{100}
	candles, signals := priceSeries(prices, make([]types.Direction, 1))

	_, err := sim.Run(candles, signals, types.TradingParams{}, testRisk())
	assert.Error(t, err)

	_, err = sim.Run(candles, signals, testTrading(), types.RiskParams{})
	assert.Error(t, err)
}

func TestBuildLevels(t *testing.T) {
	levels, sl := buildLevels(100, types.DirectionLong, testRisk())
	assert.Len(t, levels, 5)
	assert.InDelta(t, 100.5, levels[0].Price, 1e-9)
	assert.InDelta(t, 101.0, levels[1].Price, 1e-9)
	assert.InDelta(t, 102.5, levels[4].Price, 1e-9)
	assert.InDelta(t, 98.75, sl, 1e-9)

	levels, sl = buildLevels(100, types.DirectionShort, testRisk())
	assert.InDelta(t, 99.5, levels[0].Price, 1e-9)
	assert.InDelta(t, 101.25, sl, 1e-9)
}

func TestTrailingStop_Progression(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	risk := testRisk()

	pos := &position{direction: types.DirectionLong, entryPrice: 100, tpsHit: 1}
	// Breakeven beats the fixed SL at 98.75.
	assert.InDelta(t, 100.0, sim.trailingStop(pos, risk), 1e-9)

	pos.tpsHit = 2
	assert.InDelta(t, 100.5, sim.trailingStop(pos, risk), 1e-9)

	pos.tpsHit = 3
	assert.InDelta(t, 101.0, sim.trailingStop(pos, risk), 1e-9)

	// Short breakeven sits below the fixed SL at 101.25, so no clamp
	// applies.
	short := &position{direction: types.DirectionShort, entryPrice: 100, tpsHit: 1}
	assert.InDelta(t, 100.0, sim.trailingStop(short, risk), 1e-9)
}
