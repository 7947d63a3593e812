// Package main provides the entry point for the backtest and
// optimization server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ledunk1/bot/internal/api"
	"github.com/ledunk1/bot/internal/backtest"
	"github.com/ledunk1/bot/internal/config"
	"github.com/ledunk1/bot/internal/indicator"
	"github.com/ledunk1/bot/internal/marketdata"
	"github.com/ledunk1/bot/internal/metrics"
	"github.com/ledunk1/bot/internal/notify"
	"github.com/ledunk1/bot/internal/optimizer"
	"github.com/ledunk1/bot/internal/params"
	"github.com/ledunk1/bot/internal/scanner"
	"github.com/ledunk1/bot/internal/settings"
	"github.com/ledunk1/bot/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger := setupLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting server",
		zap.String("addr", cfg.Addr()),
		zap.String("cacheDir", cfg.Data.CacheDir),
		zap.String("settingsDB", cfg.Data.SettingsDB),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	binance := marketdata.NewBinanceClient(logger, marketdata.BinanceConfig{
		BaseURL:           cfg.Binance.BaseURL,
		RequestsPerSecond: cfg.Binance.RequestsPerSec,
		Timeout:           cfg.Binance.Timeout,
	})

	cache, err := marketdata.NewCache(logger, binance, cfg.Data.CacheDir, m)
	if err != nil {
		logger.Fatal("Failed to initialize market data cache", zap.Error(err))
	}
	bulk, err := marketdata.NewBulkCache(logger, cache, cfg.Data.CacheDir)
	if err != nil {
		logger.Fatal("Failed to initialize bulk cache", zap.Error(err))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Data.SettingsDB), 0o755); err != nil {
		logger.Fatal("Failed to create settings directory", zap.Error(err))
	}
	store, err := settings.NewStore(logger, cfg.Data.SettingsDB)
	if err != nil {
		logger.Fatal("Failed to open settings store", zap.Error(err))
	}
	defer store.Close()

	space, err := params.NewSpace(logger, cfg.Data.ParamsDir)
	if err != nil {
		logger.Fatal("Failed to initialize parameter space", zap.Error(err))
	}

	runner := optimizer.NewRunner(logger, m)
	scheduler := optimizer.NewScheduler(logger, space, bulk, store, runner, m, cfg.Data.SummaryDir)

	engine := indicator.NewEngine(logger)
	simulator := backtest.NewSimulator(logger)

	dispatcher := notify.NewDispatcher(logger, cfg.Scanner.Cooldown)
	dispatcher.Register(notify.NewLogSink(logger))

	var liveScanner *scanner.Scanner
	if cfg.Scanner.Enabled && len(cfg.Scanner.Symbols) > 0 {
		liveScanner = scanner.New(logger, scanner.Config{
			Interval:     cfg.Scanner.Interval,
			ScanEvery:    cfg.Scanner.ScanEvery,
			LookbackBars: cfg.Scanner.LookbackBars,
			Symbols:      cfg.Scanner.Symbols,
		}, binance, store, engine, dispatcher)
	}

	server := api.NewServer(logger, api.Config{
		Addr:         cfg.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, api.Deps{
		Store:     store,
		Cache:     cache,
		Lister:    binance,
		Scheduler: scheduler,
		Engine:    engine,
		Simulator: simulator,
		Metrics:   m.Handler(),
		Scanner:   liveScanner,
	})

	dispatcher.Register(api.NewAlertSink(server.Hub()))

	// Push run progress to WebSocket subscribers while a run is
	// active.
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if status, ok := scheduler.ActiveStatus(); ok {
					server.Hub().BroadcastOptimizationStatus(status)
				}
			}
		}
	}()

	var stream *marketdata.Stream
	if liveScanner != nil {
		if err := liveScanner.Start(ctx); err != nil {
			logger.Error("Failed to start scanner", zap.Error(err))
		}

		streamCfg := marketdata.DefaultStreamConfig(cfg.Scanner.Symbols, cfg.Scanner.Interval)
		if cfg.Binance.StreamURL != "" {
			streamCfg.URL = cfg.Binance.StreamURL
		}
		stream = marketdata.NewStream(logger, streamCfg)
		stream.OnCandle(func(symbol string, candle types.Candle) {
			server.Hub().PublishToChannel("klines:"+symbol, api.MsgTypeKline, candle)
		})
		if err := stream.Start(ctx); err != nil {
			logger.Error("Failed to start kline stream", zap.Error(err))
		}
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	cancel()

	if stream != nil {
		stream.Stop()
	}
	if liveScanner != nil {
		liveScanner.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func setupLogger(cfg config.LogConfig) *zap.Logger {
	var zapLevel zapcore.Level
	switch cfg.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := "console"
	encodeLevel := zapcore.CapitalColorLevelEncoder
	if cfg.Format == "json" {
		encoding = "json"
		encodeLevel = zapcore.LowercaseLevelEncoder
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
