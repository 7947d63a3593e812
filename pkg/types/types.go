// Package types provides shared type definitions for the futures
// backtesting and optimization backend.
package types

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

// Direction of a signal or position. Long is 1, short is -1, flat is 0.
type Direction int

const (
	DirectionShort Direction = -1
	DirectionFlat  Direction = 0
	DirectionLong  Direction = 1
)

// String returns a human readable side name.
func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "Long"
	case DirectionShort:
		return "Short"
	default:
		return "Flat"
	}
}

// Candle is a single OHLCV bar. Candles are immutable once produced by
// the data source; timestamps are strictly increasing within a series.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Closes extracts the close series from a candle slice.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// ValidateSeries checks that candle timestamps are strictly increasing.
func ValidateSeries(candles []Candle) error {
	for i := 1; i < len(candles); i++ {
		if !candles[i].Timestamp.After(candles[i-1].Timestamp) {
			return errors.New("candle timestamps must be strictly increasing")
		}
	}
	return nil
}

// SignalPoint is a per-candle directional entry signal with a
// normalized strength score. Strength below 0.2 always forces the
// direction to flat.
type SignalPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"`
}

// TPLevel is a single rung of the take-profit ladder.
type TPLevel struct {
	Level   int     `json:"level"`
	Price   float64 `json:"price"`
	Percent float64 `json:"percent"`
	Hit     bool    `json:"hit"`
}

// Trade is a closed-trade record. Partial closes from the TP ladder
// each produce their own record.
type Trade struct {
	EntryTime  time.Time `json:"entryTime"`
	ExitTime   time.Time `json:"exitTime"`
	EntryPrice float64   `json:"entryPrice"`
	ExitPrice  float64   `json:"exitPrice"`
	Side       Direction `json:"side"`
	PnL        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
	ExitReason string    `json:"exitReason"`
	SizeClosed float64   `json:"sizeClosed"`
}

// EquityPoint is a single row of the equity curve, appended once per
// bar regardless of position state.
type EquityPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Balance       float64   `json:"balance"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	Equity        float64   `json:"equity"`
}

// EntrySetup records the TP/SL levels computed when a position was
// opened. Kept for charting and notification formatting downstream.
type EntrySetup struct {
	Timestamp  time.Time `json:"timestamp"`
	EntryPrice float64   `json:"entryPrice"`
	Direction  Direction `json:"direction"`
	TPLevels   []TPLevel `json:"tpLevels"`
	SLPrice    float64   `json:"slPrice"`
}

// Statistics summarizes a backtest run.
type Statistics struct {
	InitialBalance float64 `json:"initialBalance"`
	FinalBalance   float64 `json:"finalBalance"`
	TotalReturnPct float64 `json:"totalReturn"`
	TotalPnL       float64 `json:"totalPnl"`
	TotalTrades    int     `json:"totalTrades"`
	WinningTrades  int     `json:"winningTrades"`
	WinRatePct     float64 `json:"winRate"`
	MaxDrawdownPct float64 `json:"maxDrawdown"`
	LeverageUsed   float64 `json:"leverageUsed"`
}

// BacktestResult is the full output of a single simulation run.
// Immutable after creation.
type BacktestResult struct {
	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equityCurve"`
	Statistics  Statistics    `json:"statistics"`
	EntrySetups []EntrySetup  `json:"entrySetups"`
}

// OptimizationResult holds the scored outcome for one parameter
// combination.
type OptimizationResult struct {
	Parameters    Combination `json:"parameters"`
	TotalReturn   float64     `json:"totalReturn"`
	WinRate       float64     `json:"winRate"`
	TotalTrades   int         `json:"totalTrades"`
	TotalPnL      float64     `json:"totalPnl"`
	MaxDrawdown   float64     `json:"maxDrawdown"`
	FinalBalance  float64     `json:"finalBalance"`
	WinningTrades int         `json:"winningTrades"`
	ProfitFactor  float64     `json:"profitFactor"`
	SharpeRatio   float64     `json:"sharpeRatio"`
	Score         float64     `json:"score"`
}

// ProfitFactorCap stands in for an infinite profit factor in JSON
// output; encoding/json rejects IEEE infinities, which a winning run
// without a single losing trade would otherwise produce.
const ProfitFactorCap = 1e6

// JSONSafe maps non-finite ratios onto encodable values: infinities
// clamp to ±ProfitFactorCap and NaN becomes 0.
func JSONSafe(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return ProfitFactorCap
	case math.IsInf(v, -1):
		return -ProfitFactorCap
	}
	return v
}

// MarshalJSON clamps the ratio fields so results with no losing
// trades survive strict JSON encoding.
func (r OptimizationResult) MarshalJSON() ([]byte, error) {
	type plain OptimizationResult
	p := plain(r)
	p.ProfitFactor = JSONSafe(p.ProfitFactor)
	p.SharpeRatio = JSONSafe(p.SharpeRatio)
	return json.Marshal(p)
}

// Combination is one point of the optimization grid: strategy lengths
// plus the TP base / stop-loss pair swept alongside them.
type Combination struct {
	Fast     int     `json:"fast"`
	Slow     int     `json:"slow"`
	Signal   int     `json:"signal"`
	Trend    int     `json:"trend"`
	TPBase   float64 `json:"tpBase"`
	StopLoss float64 `json:"stopLoss"`
}

// Strategy extracts the indicator parameters of the combination.
func (c Combination) Strategy() StrategyParams {
	return StrategyParams{
		FastLength:   c.Fast,
		SlowLength:   c.Slow,
		SignalLength: c.Signal,
		TrendLength:  c.Trend,
	}
}

// Risk merges the swept TP/SL pair with the fixed ladder settings.
func (c Combination) Risk(maxTPLevels int, tpCloseFraction float64) RiskParams {
	return RiskParams{
		TPBasePercent:   c.TPBase,
		StopLossPercent: c.StopLoss,
		MaxTPLevels:     maxTPLevels,
		TPCloseFraction: tpCloseFraction,
	}
}
