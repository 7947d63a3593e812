package report

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ledunk1/bot/pkg/types"
)

func TestBacktestReport(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	result := &types.BacktestResult{
		Statistics: types.Statistics{
			InitialBalance: 1000,
			FinalBalance:   1150.5,
			TotalReturnPct: 15.05,
			TotalPnL:       150.5,
			TotalTrades:    12,
			WinningTrades:  8,
			WinRatePct:     66.67,
			MaxDrawdownPct: 9.3,
			LeverageUsed:   10,
		},
		Trades: []types.Trade{
			{PnL: 50, Commission: 0.4},
			{PnL: -20, Commission: 0.35},
		},
	}
	w.Backtest("BTCUSDT", result)

	out := buf.String()
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "$1150.50")
	assert.Contains(t, out, "15.05%")
	assert.Contains(t, out, "12 (8W / 4L)")
	assert.Contains(t, out, "10x")
	// Summed from the trade log: 0.4 + 0.35.
	assert.Contains(t, out, "$0.7500")
}

func TestTradesReport(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	exit := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	w.Trades([]types.Trade{
		{
			Side:       types.DirectionLong,
			EntryPrice: 50000,
			ExitPrice:  50500,
			SizeClosed: 0.25,
			PnL:        12.3,
			ExitReason: "TP1",
			ExitTime:   exit,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Long")
	assert.Contains(t, out, "TP1")
	assert.Contains(t, out, "50000.0000")
	assert.Contains(t, out, "12.3000")
}

func TestTradesReport_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf).Trades(nil)
	assert.Contains(t, buf.String(), "no trades")
}

func TestRankingReport(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	results := []types.OptimizationResult{
		{
			Parameters:   types.Combination{Fast: 14, Slow: 32, Signal: 10, Trend: 150, TPBase: 0.5, StopLoss: 1.25},
			Score:        7.5,
			TotalReturn:  42.1,
			WinRate:      60,
			TotalTrades:  80,
			MaxDrawdown:  11.2,
			ProfitFactor: math.Inf(1),
		},
		{
			Parameters:   types.Combination{Fast: 12, Slow: 30, Signal: 8, Trend: 100, TPBase: 0.75, StopLoss: 1.5},
			Score:        6.1,
			ProfitFactor: 1.85,
		},
	}
	w.Ranking("ETHUSDT", results, 10)

	out := buf.String()
	assert.Contains(t, out, "top 2 of 2 combinations")
	assert.Contains(t, out, "7.50")
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, "1.85")
}

func TestRankingReport_LimitApplied(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	results := make([]types.OptimizationResult, 5)
	w.Ranking("BTCUSDT", results, 3)
	assert.Contains(t, buf.String(), "top 3 of 5 combinations")
}

func TestSettingsReport(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	optimized := types.DefaultCoinSettings("BTCUSDT")
	optimized.OptimizationScore = 6.2
	optimized.OptimizedAt = "2025-06-15T10:00:00Z"

	w.Settings([]types.CoinSettings{optimized, types.DefaultCoinSettings("ETHUSDT")})

	out := buf.String()
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "2025-06-15T10:00:00Z")
	assert.Contains(t, out, "ETHUSDT")
}

func TestProfitFactorLabel(t *testing.T) {
	assert.Equal(t, "INF", ProfitFactorLabel(math.Inf(1)))
	assert.Equal(t, "1.50", ProfitFactorLabel(1.5))
	assert.Equal(t, "0.00", ProfitFactorLabel(0))
}
