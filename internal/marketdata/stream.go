package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ledunk1/bot/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultStreamURL = "wss://fstream.binance.com/ws"

// Stream subscribes to live kline updates over WebSocket and invokes
// a callback for every closed candle.
type Stream struct {
	logger *zap.Logger
	config StreamConfig

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	cancel  context.CancelFunc

	onCandle func(symbol string, candle types.Candle)
}

// StreamConfig configures the live kline stream.
type StreamConfig struct {
	URL            string
	Symbols        []string
	Interval       string
	ReconnectDelay time.Duration
}

// DefaultStreamConfig returns a stream config for the given symbols.
func DefaultStreamConfig(symbols []string, interval string) StreamConfig {
	return StreamConfig{
		URL:            defaultStreamURL,
		Symbols:        symbols,
		Interval:       interval,
		ReconnectDelay: 5 * time.Second,
	}
}

// NewStream creates a live kline stream.
func NewStream(logger *zap.Logger, config StreamConfig) *Stream {
	if config.URL == "" {
		config.URL = defaultStreamURL
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	return &Stream{logger: logger, config: config}
}

// OnCandle registers the closed-candle callback. Must be called
// before Start.
func (s *Stream) OnCandle(fn func(symbol string, candle types.Candle)) {
	s.onCandle = fn
}

// Start connects and begins delivering candles until the context is
// cancelled or Stop is called. Reconnects with a fixed delay on read
// errors.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("stream already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.readLoop(ctx)
	return nil
}

// Stop terminates the stream.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Stream) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			s.logger.Warn("Stream connect failed, retrying",
				zap.Error(err),
				zap.Duration("delay", s.config.ReconnectDelay),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.ReconnectDelay):
			}
			continue
		}

		s.consume(ctx)
	}
}

func (s *Stream) connect(ctx context.Context) error {
	streams := make([]string, 0, len(s.config.Symbols))
	for _, symbol := range s.config.Symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), s.config.Interval))
	}
	url := fmt.Sprintf("%s/%s", s.config.URL, strings.Join(streams, "/"))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("Kline stream connected",
		zap.Int("symbols", len(s.config.Symbols)),
		zap.String("interval", s.config.Interval),
	)
	return nil
}

// klineEvent is the kline payload shape on the futures stream.
type klineEvent struct {
	Symbol string `json:"s"`
	Kline  struct {
		StartTime int64  `json:"t"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

func (s *Stream) consume(ctx context.Context) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.logger.Warn("Stream read error, reconnecting", zap.Error(err))
			conn.Close()
			return
		}

		var event klineEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			continue
		}
		if !event.Kline.Closed || s.onCandle == nil {
			continue
		}

		candle, err := candleFromStrings(event.Kline.StartTime,
			event.Kline.Open, event.Kline.High, event.Kline.Low,
			event.Kline.Close, event.Kline.Volume)
		if err != nil {
			s.logger.Debug("Skipping malformed kline event", zap.Error(err))
			continue
		}

		s.onCandle(event.Symbol, candle)
	}
}

func candleFromStrings(startMs int64, open, high, low, closePrice, volume string) (types.Candle, error) {
	parse := func(s string) (float64, error) {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return 0, err
		}
		return d.InexactFloat64(), nil
	}

	var (
		candle types.Candle
		err    error
	)
	candle.Timestamp = time.UnixMilli(startMs).UTC()
	if candle.Open, err = parse(open); err != nil {
		return candle, err
	}
	if candle.High, err = parse(high); err != nil {
		return candle, err
	}
	if candle.Low, err = parse(low); err != nil {
		return candle, err
	}
	if candle.Close, err = parse(closePrice); err != nil {
		return candle, err
	}
	if candle.Volume, err = parse(volume); err != nil {
		return candle, err
	}
	return candle, nil
}
