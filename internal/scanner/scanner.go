// Package scanner polls recent market data and raises alerts when the
// strategy produces a fresh signal on the latest closed bar.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ledunk1/bot/internal/indicator"
	"github.com/ledunk1/bot/internal/marketdata"
	"github.com/ledunk1/bot/internal/notify"
	"github.com/ledunk1/bot/internal/settings"
	"github.com/ledunk1/bot/pkg/types"
	"github.com/ledunk1/bot/pkg/utils"
	"go.uber.org/zap"
)

// Config controls the scan loop.
type Config struct {
	Interval     string        `json:"interval"`
	ScanEvery    time.Duration `json:"scanEvery"`
	LookbackBars int           `json:"lookbackBars"`
	Symbols      []string      `json:"symbols"`
}

// DefaultConfig returns a 1h scan over enough history for the longest
// default trend filter.
func DefaultConfig() Config {
	return Config{
		Interval:     "1h",
		ScanEvery:    5 * time.Minute,
		LookbackBars: 500,
	}
}

// Scanner runs the strategy against fresh data for every configured
// symbol and dispatches alerts for signals on the latest bar.
type Scanner struct {
	logger     *zap.Logger
	config     Config
	source     marketdata.Source
	store      *settings.Store
	engine     *indicator.Engine
	dispatcher *notify.Dispatcher

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	lastScan time.Time
	lastSeen map[string]types.Direction
}

// New creates a scanner. The source is typically the caching layer.
func New(logger *zap.Logger, config Config, source marketdata.Source,
	store *settings.Store, engine *indicator.Engine, dispatcher *notify.Dispatcher) *Scanner {
	if config.LookbackBars < 1 {
		config.LookbackBars = DefaultConfig().LookbackBars
	}
	if config.ScanEvery <= 0 {
		config.ScanEvery = DefaultConfig().ScanEvery
	}
	return &Scanner{
		logger:     logger,
		config:     config,
		source:     source,
		store:      store,
		engine:     engine,
		dispatcher: dispatcher,
		lastSeen:   make(map[string]types.Direction),
	}
}

// Start launches the scan loop. It is a no-op if already running.
func (s *Scanner) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scanner already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.logger.Info("Starting signal scanner",
		zap.String("interval", s.config.Interval),
		zap.Duration("scanEvery", s.config.ScanEvery),
		zap.Int("symbols", len(s.config.Symbols)),
	)

	go s.loop(ctx)
	return nil
}

// Stop terminates the scan loop and waits for it to exit.
func (s *Scanner) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Signal scanner stopped")
}

// LastScan reports when the previous full scan cycle finished.
func (s *Scanner) LastScan() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScan
}

func (s *Scanner) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.config.ScanEvery)
	defer ticker.Stop()

	s.scanAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanAll(ctx)
		}
	}
}

func (s *Scanner) scanAll(ctx context.Context) {
	for _, symbol := range s.config.Symbols {
		if ctx.Err() != nil {
			return
		}
		if err := s.scanSymbol(ctx, symbol); err != nil {
			s.logger.Warn("Symbol scan failed",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}
	}

	s.mu.Lock()
	s.lastScan = time.Now()
	s.mu.Unlock()
}

// scanSymbol evaluates the strategy for one symbol using its persisted
// parameters and raises an alert when the latest closed bar carries a
// signal that differs from the previously observed one.
func (s *Scanner) scanSymbol(ctx context.Context, symbol string) error {
	cs, err := s.store.Load(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	end := time.Now().UTC()
	start := end.Add(-barDuration(s.config.Interval) * time.Duration(s.config.LookbackBars))

	candles, err := utils.Retry(utils.DefaultRetryConfig(), func() ([]types.Candle, error) {
		return s.source.Fetch(ctx, symbol, s.config.Interval, start, end)
	})
	if err != nil {
		return fmt.Errorf("failed to fetch candles: %w", err)
	}
	if len(candles) < cs.Strategy.SlowLength+cs.Strategy.SignalLength {
		return fmt.Errorf("insufficient data: %d bars", len(candles))
	}

	series, err := s.engine.Compute(candles, cs.Strategy)
	if err != nil {
		return err
	}
	signals, err := s.engine.Signals(candles, series, cs.Strategy)
	if err != nil {
		return err
	}

	last := candles[len(candles)-1]
	direction := types.DirectionFlat
	strength := 0.0
	for i := len(signals) - 1; i >= 0; i-- {
		if signals[i].Timestamp.Equal(last.Timestamp) {
			direction = signals[i].Direction
			strength = signals[i].Strength
			break
		}
	}

	s.mu.Lock()
	previous := s.lastSeen[symbol]
	s.lastSeen[symbol] = direction
	s.mu.Unlock()

	if direction == types.DirectionFlat || direction == previous {
		return nil
	}

	s.dispatcher.Dispatch(notify.Alert{
		Symbol:    symbol,
		Interval:  s.config.Interval,
		Direction: direction,
		Strength:  strength,
		Price:     last.Close,
		Score:     cs.OptimizationScore,
		Time:      last.Timestamp,
	})
	return nil
}

// barDuration maps an exchange interval string to a duration. Unknown
// intervals fall back to one hour.
func barDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "8h":
		return 8 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	case "3d":
		return 72 * time.Hour
	case "1w":
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}
