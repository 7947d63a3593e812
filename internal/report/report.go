// Package report renders backtest and optimization results as console
// tables.
package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ledunk1/bot/pkg/types"
	"github.com/olekukonko/tablewriter"
)

// Writer renders result tables to a single output stream.
type Writer struct {
	out io.Writer
}

// NewWriter creates a report writer targeting out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Backtest prints the statistics block of one run.
func (w *Writer) Backtest(symbol string, result *types.BacktestResult) {
	stats := result.Statistics

	fmt.Fprintf(w.out, "\n%s — %d trades, %.2f%% return\n",
		symbol, stats.TotalTrades, stats.TotalReturnPct)

	commission := 0.0
	for _, t := range result.Trades {
		commission += t.Commission
	}

	table := tablewriter.NewWriter(w.out)
	table.Header("Metric", "Value")
	table.Append("Initial Balance", fmt.Sprintf("$%.2f", stats.InitialBalance))
	table.Append("Final Balance", fmt.Sprintf("$%.2f", stats.FinalBalance))
	table.Append("Total Return", fmt.Sprintf("%.2f%%", stats.TotalReturnPct))
	table.Append("Total PnL", fmt.Sprintf("$%.4f", stats.TotalPnL))
	table.Append("Win Rate", fmt.Sprintf("%.2f%%", stats.WinRatePct))
	table.Append("Trades", fmt.Sprintf("%d (%dW / %dL)",
		stats.TotalTrades, stats.WinningTrades, stats.TotalTrades-stats.WinningTrades))
	table.Append("Max Drawdown", fmt.Sprintf("%.2f%%", stats.MaxDrawdownPct))
	table.Append("Leverage", fmt.Sprintf("%.0fx", stats.LeverageUsed))
	table.Append("Total Commission", fmt.Sprintf("$%.4f", commission))
	table.Render()
}

// Trades prints the closed-trade log of one run.
func (w *Writer) Trades(trades []types.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(w.out, "no trades")
		return
	}

	table := tablewriter.NewWriter(w.out)
	table.Header("#", "Side", "Entry", "Exit", "Size", "PnL", "Reason", "Exit Time")
	for i, t := range trades {
		table.Append(
			fmt.Sprintf("%d", i+1),
			t.Side.String(),
			fmt.Sprintf("%.4f", t.EntryPrice),
			fmt.Sprintf("%.4f", t.ExitPrice),
			fmt.Sprintf("$%.2f", t.SizeClosed),
			fmt.Sprintf("$%.4f", t.PnL),
			t.ExitReason,
			t.ExitTime.Format(time.RFC3339),
		)
	}
	table.Render()
}

// Ranking prints the top optimization results for one symbol.
func (w *Writer) Ranking(symbol string, results []types.OptimizationResult, limit int) {
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}

	fmt.Fprintf(w.out, "\n%s — top %d of %d combinations\n", symbol, limit, len(results))

	table := tablewriter.NewWriter(w.out)
	table.Header("#", "Fast", "Slow", "Signal", "Trend", "TP%", "SL%", "Score", "Return", "WinRate", "Trades", "MaxDD", "PF")
	for i, r := range results[:limit] {
		p := r.Parameters
		table.Append(
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%d", p.Fast),
			fmt.Sprintf("%d", p.Slow),
			fmt.Sprintf("%d", p.Signal),
			fmt.Sprintf("%d", p.Trend),
			fmt.Sprintf("%.2f", p.TPBase),
			fmt.Sprintf("%.2f", p.StopLoss),
			fmt.Sprintf("%.2f", r.Score),
			fmt.Sprintf("%.2f%%", r.TotalReturn),
			fmt.Sprintf("%.2f%%", r.WinRate),
			fmt.Sprintf("%d", r.TotalTrades),
			fmt.Sprintf("%.2f%%", r.MaxDrawdown),
			ProfitFactorLabel(r.ProfitFactor),
		)
	}
	table.Render()
}

// Settings prints the persisted per-symbol configurations.
func (w *Writer) Settings(all []types.CoinSettings) {
	table := tablewriter.NewWriter(w.out)
	table.Header("Symbol", "Fast", "Slow", "Signal", "Trend", "TP%", "SL%", "Score", "Optimized")
	for _, cs := range all {
		optimized := "-"
		if cs.OptimizedAt != "" {
			optimized = cs.OptimizedAt
		}
		table.Append(
			cs.Symbol,
			fmt.Sprintf("%d", cs.Strategy.FastLength),
			fmt.Sprintf("%d", cs.Strategy.SlowLength),
			fmt.Sprintf("%d", cs.Strategy.SignalLength),
			fmt.Sprintf("%d", cs.Strategy.TrendLength),
			fmt.Sprintf("%.2f", cs.Risk.TPBasePercent),
			fmt.Sprintf("%.2f", cs.Risk.StopLossPercent),
			fmt.Sprintf("%.2f", cs.OptimizationScore),
			optimized,
		)
	}
	table.Render()
}

// ProfitFactorLabel formats a profit factor, including the no-loss
// infinity case.
func ProfitFactorLabel(pf float64) string {
	if math.IsInf(pf, 1) {
		return "INF"
	}
	return fmt.Sprintf("%.2f", pf)
}
