// Package notify delivers live signal alerts to configured sinks.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/ledunk1/bot/pkg/types"
	"go.uber.org/zap"
)

// Alert is one actionable signal event produced by the scanner.
type Alert struct {
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	Direction types.Direction `json:"direction"`
	Strength  float64         `json:"strength"`
	Price     float64         `json:"price"`
	Score     float64         `json:"score,omitempty"`
	Time      time.Time       `json:"time"`
}

// Sink receives alerts. Implementations must be safe for concurrent
// use.
type Sink interface {
	Notify(alert Alert) error
	Name() string
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(alert Alert) error {
	s.logger.Info("Signal alert",
		zap.String("symbol", alert.Symbol),
		zap.String("interval", alert.Interval),
		zap.String("direction", alert.Direction.String()),
		zap.Float64("strength", alert.Strength),
		zap.Float64("price", alert.Price),
	)
	return nil
}

// Dispatcher fans alerts out to every registered sink and dedupes
// repeat alerts for the same symbol and direction within the cooldown
// window.
type Dispatcher struct {
	logger   *zap.Logger
	cooldown time.Duration

	mu    sync.Mutex
	sinks []Sink
	last  map[string]time.Time
}

// NewDispatcher creates a dispatcher with the given repeat-alert
// cooldown.
func NewDispatcher(logger *zap.Logger, cooldown time.Duration) *Dispatcher {
	return &Dispatcher{
		logger:   logger,
		cooldown: cooldown,
		last:     make(map[string]time.Time),
	}
}

// Register adds a sink.
func (d *Dispatcher) Register(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// Dispatch delivers the alert to every sink unless an identical alert
// fired within the cooldown window. It reports whether the alert was
// delivered.
func (d *Dispatcher) Dispatch(alert Alert) bool {
	key := fmt.Sprintf("%s|%s|%d", alert.Symbol, alert.Interval, alert.Direction)

	d.mu.Lock()
	if fired, ok := d.last[key]; ok && alert.Time.Sub(fired) < d.cooldown {
		d.mu.Unlock()
		return false
	}
	d.last[key] = alert.Time
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Notify(alert); err != nil {
			d.logger.Warn("Alert delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("symbol", alert.Symbol),
				zap.Error(err),
			)
		}
	}
	return true
}
