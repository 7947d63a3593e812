// Package scoring reduces backtest statistics to a single comparable
// optimization score and derives profit-factor and Sharpe metrics.
package scoring

import (
	"math"

	"github.com/ledunk1/bot/pkg/types"
)

// Score combines return, win rate, drawdown and trade count into a
// scalar on a 0-10 scale. Degenerate input yields 0, never an error.
func Score(stats types.Statistics) float64 {
	if stats.TotalTrades <= 0 {
		return 0
	}
	if !isFinite(stats.TotalReturnPct) || !isFinite(stats.WinRatePct) || !isFinite(stats.MaxDrawdownPct) {
		return 0
	}

	returnScore := math.Min(stats.TotalReturnPct/100, 5)
	winRateScore := stats.WinRatePct / 100
	drawdownPenalty := math.Max(0, 1-stats.MaxDrawdownPct/50)
	tradeCountBonus := math.Min(float64(stats.TotalTrades)/100, 1)

	score := (returnScore*0.4 + winRateScore*0.3 + drawdownPenalty*0.2 + tradeCountBonus*0.1) * 10
	return math.Round(score*100) / 100
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ProfitFactor is gross profit over gross loss. It is +Inf when there
// are profits but no losses, and 0 when there is no data.
func ProfitFactor(trades []types.Trade) float64 {
	if len(trades) == 0 {
		return 0
	}

	var totalProfit, totalLoss float64
	for _, t := range trades {
		if t.PnL > 0 {
			totalProfit += t.PnL
		} else if t.PnL < 0 {
			totalLoss += -t.PnL
		}
	}

	if totalLoss == 0 {
		if totalProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return totalProfit / totalLoss
}

// SharpeRatio annualizes the mean/stddev of per-bar equity returns
// with a 365-day factor. Fewer than two equity points or zero variance
// yield 0.
func SharpeRatio(curve []types.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev > 0 {
			returns = append(returns, (curve[i].Equity-prev)/prev)
		}
	}
	if len(returns) == 0 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	// Population standard deviation, matching numpy's default. Steps
	// that are constant up to float rounding count as zero variance.
	std := math.Sqrt(variance / float64(len(returns)))
	if std < 1e-12 {
		return 0
	}

	sharpe := mean / std * math.Sqrt(365)
	return math.Round(sharpe*10000) / 10000
}
