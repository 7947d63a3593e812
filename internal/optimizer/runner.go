package optimizer

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/ledunk1/bot/internal/backtest"
	"github.com/ledunk1/bot/internal/indicator"
	"github.com/ledunk1/bot/internal/scoring"
	"github.com/ledunk1/bot/internal/workers"
	"github.com/ledunk1/bot/pkg/types"
	"go.uber.org/zap"
)

// topResultsCap bounds how many ranked results one symbol retains.
const topResultsCap = 100

// BacktestMetrics receives per-backtest counters. Nil is allowed.
type BacktestMetrics interface {
	BacktestRun()
	BacktestFailed()
}

// Runner executes the indicator → simulator → scoring pipeline for
// single parameter combinations and for full per-symbol sweeps.
type Runner struct {
	logger    *zap.Logger
	engine    *indicator.Engine
	simulator *backtest.Simulator
	metrics   BacktestMetrics
}

// NewRunner creates a runner.
func NewRunner(logger *zap.Logger, metrics BacktestMetrics) *Runner {
	return &Runner{
		logger:    logger,
		engine:    indicator.NewEngine(logger),
		simulator: backtest.NewSimulator(logger),
		metrics:   metrics,
	}
}

// RunCombination backtests one parameter combination against one
// candle series and scores the result.
func (r *Runner) RunCombination(candles []types.Candle, combo types.Combination,
	trading types.TradingParams, risk RiskDefaults) (types.OptimizationResult, error) {

	strategy := combo.Strategy()
	riskParams := combo.Risk(risk.MaxTPLevels, risk.TPCloseFraction)

	series, err := r.engine.Compute(candles, strategy)
	if err != nil {
		return types.OptimizationResult{}, err
	}
	signals, err := r.engine.Signals(candles, series, strategy)
	if err != nil {
		return types.OptimizationResult{}, err
	}

	result, err := r.simulator.Run(candles, signals, trading, riskParams)
	if err != nil {
		return types.OptimizationResult{}, err
	}

	stats := result.Statistics
	return types.OptimizationResult{
		Parameters:    combo,
		TotalReturn:   stats.TotalReturnPct,
		WinRate:       stats.WinRatePct,
		TotalTrades:   stats.TotalTrades,
		TotalPnL:      stats.TotalPnL,
		MaxDrawdown:   stats.MaxDrawdownPct,
		FinalBalance:  stats.FinalBalance,
		WinningTrades: stats.WinningTrades,
		ProfitFactor:  scoring.ProfitFactor(result.Trades),
		SharpeRatio:   scoring.SharpeRatio(result.EquityCurve),
		Score:         scoring.Score(stats),
	}, nil
}

// RiskDefaults are the fixed ladder settings applied to every swept
// combination.
type RiskDefaults struct {
	MaxTPLevels     int
	TPCloseFraction float64
}

// DefaultRiskDefaults returns the stock ladder settings.
func DefaultRiskDefaults() RiskDefaults {
	return RiskDefaults{
		MaxTPLevels:     types.DefaultMaxTPLevels,
		TPCloseFraction: types.DefaultTPCloseFraction,
	}
}

// OptimizeSymbol runs every combination through the pipeline on a
// bounded worker pool and returns results ranked descending by score,
// capped at the top 100. A combination whose simulation errors is
// skipped, never fatal. onProgress (optional) is invoked with the
// completed-combination count; keepGoing (optional) is polled between
// combinations for cooperative cancellation.
func (r *Runner) OptimizeSymbol(symbol string, candles []types.Candle,
	combos []types.Combination, trading types.TradingParams, risk RiskDefaults,
	maxWorkers int, onProgress func(int), keepGoing func() bool) []types.OptimizationResult {

	if maxWorkers < 1 {
		maxWorkers = 1
	}

	pool := workers.NewPool(r.logger, workers.Config{
		Name:       fmt.Sprintf("optimize-%s", symbol),
		NumWorkers: maxWorkers,
		QueueSize:  maxWorkers * 2,
	})

	resultCh := make(chan types.OptimizationResult, len(combos))

	// Single consumer: workers only send, the collection loop below
	// is the sole place results are aggregated.
	done := make(chan []types.OptimizationResult, 1)
	go func() {
		collected := make([]types.OptimizationResult, 0, len(combos))
		for result := range resultCh {
			collected = append(collected, result)
		}
		done <- collected
	}()

	var completed atomic.Int64

	for _, combo := range combos {
		if keepGoing != nil && !keepGoing() {
			break
		}
		combo := combo
		err := pool.Submit(workers.TaskFunc(func() error {
			defer func() {
				n := int(completed.Add(1))
				if onProgress != nil {
					onProgress(n)
				}
			}()

			result, err := r.RunCombination(candles, combo, trading, risk)
			if err != nil {
				if r.metrics != nil {
					r.metrics.BacktestFailed()
				}
				r.logger.Debug("Skipping failed combination",
					zap.String("symbol", symbol),
					zap.Error(err),
				)
				return err
			}
			if r.metrics != nil {
				r.metrics.BacktestRun()
			}
			resultCh <- result
			return nil
		}))
		if err != nil {
			// The pool only rejects after Close, which this loop owns.
			break
		}
	}

	pool.Close()
	close(resultCh)
	results := <-done

	// Deterministic ranking: score descending, grid order on ties.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return lessCombination(results[i].Parameters, results[j].Parameters)
	})
	if len(results) > topResultsCap {
		results = results[:topResultsCap]
	}

	r.logger.Debug("Symbol sweep finished",
		zap.String("symbol", symbol),
		zap.Int("results", len(results)),
	)

	return results
}

// lessCombination orders combinations the way the grid emits them.
func lessCombination(a, b types.Combination) bool {
	if a.Fast != b.Fast {
		return a.Fast < b.Fast
	}
	if a.Slow != b.Slow {
		return a.Slow < b.Slow
	}
	if a.Signal != b.Signal {
		return a.Signal < b.Signal
	}
	if a.Trend != b.Trend {
		return a.Trend < b.Trend
	}
	if a.TPBase != b.TPBase {
		return a.TPBase < b.TPBase
	}
	return a.StopLoss < b.StopLoss
}
