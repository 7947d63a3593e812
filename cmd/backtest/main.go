// Package main provides a command line runner for one-off backtests
// and local parameter sweeps.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ledunk1/bot/internal/backtest"
	"github.com/ledunk1/bot/internal/config"
	"github.com/ledunk1/bot/internal/indicator"
	"github.com/ledunk1/bot/internal/marketdata"
	"github.com/ledunk1/bot/internal/optimizer"
	"github.com/ledunk1/bot/internal/params"
	"github.com/ledunk1/bot/internal/report"
	"github.com/ledunk1/bot/internal/settings"
	"github.com/ledunk1/bot/pkg/types"
	"github.com/ledunk1/bot/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	symbol := flag.String("symbol", "BTCUSDT", "Futures symbol")
	interval := flag.String("interval", "1h", "Kline interval")
	startStr := flag.String("start", "", "Start date (YYYY-MM-DD), default 90 days ago")
	endStr := flag.String("end", "", "End date (YYYY-MM-DD), default today")
	balance := flag.Float64("balance", 1000, "Initial balance")
	leverage := flag.Float64("leverage", 10, "Leverage")
	margin := flag.Float64("margin", 10, "Margin percent per trade")
	showTrades := flag.Bool("trades", false, "Print the trade log")
	optimize := flag.Bool("optimize", false, "Sweep the default parameter grid instead of a single run")
	top := flag.Int("top", 10, "Rows to print for -optimize")
	listSettings := flag.Bool("settings", false, "Print stored per-symbol settings and exit")
	workers := flag.Int("workers", 4, "Workers for -optimize")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	logger := zap.NewNop()
	out := report.NewWriter(os.Stdout)

	store, err := settings.NewStore(logger, cfg.Data.SettingsDB)
	if err != nil {
		fatalf("open settings store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	if *listSettings {
		all, err := store.All(ctx)
		if err != nil {
			fatalf("load settings: %v", err)
		}
		out.Settings(all)
		return
	}

	sym := utils.NormalizeSymbol(*symbol)
	start, end, err := dateRange(*startStr, *endStr)
	if err != nil {
		fatalf("%v", err)
	}

	binance := marketdata.NewBinanceClient(logger, marketdata.BinanceConfig{
		BaseURL:           cfg.Binance.BaseURL,
		RequestsPerSecond: cfg.Binance.RequestsPerSec,
		Timeout:           cfg.Binance.Timeout,
	})
	cache, err := marketdata.NewCache(logger, binance, cfg.Data.CacheDir, nil)
	if err != nil {
		fatalf("init cache: %v", err)
	}

	fmt.Fprintf(os.Stderr, "fetching %s %s %s..%s\n",
		sym, *interval, start.Format("2006-01-02"), end.Format("2006-01-02"))
	candles, err := cache.Get(ctx, sym, *interval, start, end)
	if err != nil {
		fatalf("fetch candles: %v", err)
	}

	trading := types.TradingParams{
		InitialBalance: *balance,
		Leverage:       *leverage,
		MarginPercent:  *margin,
	}

	if *optimize {
		runSweep(logger, out, sym, candles, trading, cfg, *workers, *top)
		return
	}

	cs, err := store.Load(ctx, sym)
	if err != nil {
		fatalf("load settings: %v", err)
	}

	engine := indicator.NewEngine(logger)
	series, err := engine.Compute(candles, cs.Strategy)
	if err != nil {
		fatalf("compute indicators: %v", err)
	}
	signals, err := engine.Signals(candles, series, cs.Strategy)
	if err != nil {
		fatalf("generate signals: %v", err)
	}

	result, err := backtest.NewSimulator(logger).Run(candles, signals, trading, cs.Risk)
	if err != nil {
		fatalf("run backtest: %v", err)
	}

	out.Backtest(sym, result)
	if *showTrades {
		out.Trades(result.Trades)
	}
}

func runSweep(logger *zap.Logger, out *report.Writer, sym string,
	candles []types.Candle, trading types.TradingParams,
	cfg *config.Config, workers, top int) {

	space, err := params.NewSpace(logger, cfg.Data.ParamsDir)
	if err != nil {
		fatalf("init parameter space: %v", err)
	}
	combos, err := space.Combinations(params.DefaultRanges())
	if err != nil {
		fatalf("expand ranges: %v", err)
	}

	fmt.Fprintf(os.Stderr, "sweeping %d combinations on %d workers\n", len(combos), workers)
	started := time.Now()

	runner := optimizer.NewRunner(logger, nil)
	results := runner.OptimizeSymbol(sym, candles, combos, trading,
		optimizer.DefaultRiskDefaults(), workers, nil, nil)

	fmt.Fprintf(os.Stderr, "done in %s\n", utils.FormatDuration(time.Since(started)))
	out.Ranking(sym, results, top)
}

func dateRange(startStr, endStr string) (time.Time, time.Time, error) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -90)

	var err error
	if startStr != "" {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q", startStr)
		}
	}
	if endStr != "" {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q", endStr)
		}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
	}
	return start, end, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
