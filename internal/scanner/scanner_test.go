package scanner

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ledunk1/bot/internal/indicator"
	"github.com/ledunk1/bot/internal/notify"
	"github.com/ledunk1/bot/internal/settings"
	"github.com/ledunk1/bot/pkg/types"
)

// fixedSource replays a pre-built candle series for every symbol.
type fixedSource struct {
	candles []types.Candle
	err     error
}

func (f *fixedSource) Fetch(context.Context, string, string, time.Time, time.Time) ([]types.Candle, error) {
	return f.candles, f.err
}

type captureSink struct {
	alerts []notify.Alert
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Notify(alert notify.Alert) error {
	c.alerts = append(c.alerts, alert)
	return nil
}

func scanParams() types.StrategyParams {
	return types.StrategyParams{FastLength: 3, SlowLength: 5, SignalLength: 3, TrendLength: 10}
}

func scanCandles(n int) []types.Candle {
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

// signalEndingCandles builds a series whose final bar carries a
// non-flat signal under scanParams.
func signalEndingCandles(t *testing.T) ([]types.Candle, types.Direction) {
	t.Helper()
	engine := indicator.NewEngine(zap.NewNop())
	candles := scanCandles(400)

	series, err := engine.Compute(candles, scanParams())
	assert.NoError(t, err)
	signals, err := engine.Signals(candles, series, scanParams())
	assert.NoError(t, err)

	for i := len(signals) - 1; i >= 20; i-- {
		if signals[i].Direction != types.DirectionFlat {
			return candles[:i+1], signals[i].Direction
		}
	}
	t.Fatal("no signal found in synthetic series")
	return nil, types.DirectionFlat
}

type scannerFixture struct {
	scanner *Scanner
	store   *settings.Store
	sink    *captureSink
}

func newScannerFixture(t *testing.T, source *fixedSource, symbols []string) *scannerFixture {
	t.Helper()
	logger := zap.NewNop()

	store, err := settings.NewStore(logger, filepath.Join(t.TempDir(), "settings.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sink := &captureSink{}
	dispatcher := notify.NewDispatcher(logger, time.Hour)
	dispatcher.Register(sink)

	config := Config{
		Interval:     "1h",
		ScanEvery:    50 * time.Millisecond,
		LookbackBars: 400,
		Symbols:      symbols,
	}
	s := New(logger, config, source, store, indicator.NewEngine(logger), dispatcher)
	return &scannerFixture{scanner: s, store: store, sink: sink}
}

func saveScanParams(t *testing.T, store *settings.Store, symbol string) {
	t.Helper()
	cs := types.CoinSettings{
		Symbol:   symbol,
		Strategy: scanParams(),
		Risk:     types.DefaultRiskParams(),
	}
	assert.NoError(t, store.Save(context.Background(), cs))
}

func TestScanSymbol_AlertsOnFreshSignal(t *testing.T) {
	candles, direction := signalEndingCandles(t)
	fixture := newScannerFixture(t, &fixedSource{candles: candles}, nil)
	saveScanParams(t, fixture.store, "BTCUSDT")

	assert.NoError(t, fixture.scanner.scanSymbol(context.Background(), "BTCUSDT"))
	if assert.Len(t, fixture.sink.alerts, 1) {
		alert := fixture.sink.alerts[0]
		assert.Equal(t, "BTCUSDT", alert.Symbol)
		assert.Equal(t, direction, alert.Direction)
		assert.Equal(t, candles[len(candles)-1].Close, alert.Price)
		assert.Equal(t, candles[len(candles)-1].Timestamp, alert.Time)
	}
}

func TestScanSymbol_DedupesRepeatedDirection(t *testing.T) {
	candles, _ := signalEndingCandles(t)
	fixture := newScannerFixture(t, &fixedSource{candles: candles}, nil)
	saveScanParams(t, fixture.store, "BTCUSDT")

	ctx := context.Background()
	assert.NoError(t, fixture.scanner.scanSymbol(ctx, "BTCUSDT"))
	assert.NoError(t, fixture.scanner.scanSymbol(ctx, "BTCUSDT"))
	assert.Len(t, fixture.sink.alerts, 1)
}

func TestScanSymbol_FlatLatestBarIsQuiet(t *testing.T) {
	// A flat tail ends without a signal on the last bar.
	flat := make([]types.Candle, 100)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range flat {
		flat[i] = types.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      100, High: 100, Low: 100, Close: 100, Volume: 1,
		}
	}
	fixture := newScannerFixture(t, &fixedSource{candles: flat}, nil)
	saveScanParams(t, fixture.store, "BTCUSDT")

	assert.NoError(t, fixture.scanner.scanSymbol(context.Background(), "BTCUSDT"))
	assert.Empty(t, fixture.sink.alerts)
}

func TestScanSymbol_InsufficientData(t *testing.T) {
	fixture := newScannerFixture(t, &fixedSource{candles: scanCandles(4)}, nil)
	saveScanParams(t, fixture.store, "BTCUSDT")

	err := fixture.scanner.scanSymbol(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestScanner_StartStop(t *testing.T) {
	fixture := newScannerFixture(t, &fixedSource{candles: scanCandles(400)}, []string{"BTCUSDT"})
	saveScanParams(t, fixture.store, "BTCUSDT")

	assert.NoError(t, fixture.scanner.Start(context.Background()))
	assert.Error(t, fixture.scanner.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return !fixture.scanner.LastScan().IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	fixture.scanner.Stop()
	// Stop is idempotent.
	fixture.scanner.Stop()
}

func TestScanAll_SourceErrorIsNonFatal(t *testing.T) {
	fixture := newScannerFixture(t,
		&fixedSource{err: errors.New("exchange down")}, []string{"BTCUSDT"})

	fixture.scanner.scanAll(context.Background())
	assert.False(t, fixture.scanner.LastScan().IsZero())
	assert.Empty(t, fixture.sink.alerts)
}

func TestBarDuration(t *testing.T) {
	assert.Equal(t, time.Minute, barDuration("1m"))
	assert.Equal(t, 4*time.Hour, barDuration("4h"))
	assert.Equal(t, 24*time.Hour, barDuration("1d"))
	assert.Equal(t, 7*24*time.Hour, barDuration("1w"))
	// Unknown intervals fall back to one hour.
	assert.Equal(t, time.Hour, barDuration("weird"))
}
