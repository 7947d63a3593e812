package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Defaults matching the stock MACD+SMA strategy configuration.
const (
	DefaultFastLength   = 14
	DefaultSlowLength   = 32
	DefaultSignalLength = 10
	DefaultTrendLength  = 150

	DefaultTPBasePercent   = 0.5
	DefaultStopLossPercent = 1.25
	DefaultMaxTPLevels     = 10
	DefaultTPCloseFraction = 0.25
)

// StrategyParams drive the indicator engine. All values are bar counts.
type StrategyParams struct {
	FastLength   int `json:"fastLength"`
	SlowLength   int `json:"slowLength"`
	SignalLength int `json:"signalLength"`
	TrendLength  int `json:"trendLength"`
}

// DefaultStrategyParams returns the stock strategy configuration.
func DefaultStrategyParams() StrategyParams {
	return StrategyParams{
		FastLength:   DefaultFastLength,
		SlowLength:   DefaultSlowLength,
		SignalLength: DefaultSignalLength,
		TrendLength:  DefaultTrendLength,
	}
}

// Validate checks the fast<slow invariant and positive lengths.
func (p StrategyParams) Validate() error {
	if p.FastLength <= 0 || p.SlowLength <= 0 || p.SignalLength <= 0 || p.TrendLength <= 0 {
		return errors.New("strategy lengths must be positive")
	}
	if p.FastLength >= p.SlowLength {
		return fmt.Errorf("fast length %d must be below slow length %d", p.FastLength, p.SlowLength)
	}
	return nil
}

// RiskParams drive the exit ladder of the trade simulator.
type RiskParams struct {
	TPBasePercent   float64 `json:"tpBase"`
	StopLossPercent float64 `json:"stopLoss"`
	MaxTPLevels     int     `json:"maxTPLevels"`
	TPCloseFraction float64 `json:"tpCloseFraction"`
}

// DefaultRiskParams returns the stock TP/SL configuration.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		TPBasePercent:   DefaultTPBasePercent,
		StopLossPercent: DefaultStopLossPercent,
		MaxTPLevels:     DefaultMaxTPLevels,
		TPCloseFraction: DefaultTPCloseFraction,
	}
}

// Validate checks ladder sanity: at least one TP level and a close
// fraction within (0,1].
func (p RiskParams) Validate() error {
	if p.TPBasePercent <= 0 {
		return errors.New("tp base percent must be positive")
	}
	if p.StopLossPercent <= 0 {
		return errors.New("stop loss percent must be positive")
	}
	if p.MaxTPLevels < 1 {
		return errors.New("max TP levels must be at least 1")
	}
	if p.TPCloseFraction <= 0 || p.TPCloseFraction > 1 {
		return errors.New("tp close fraction must be within (0,1]")
	}
	return nil
}

// TradingParams describe account sizing for a simulation run.
type TradingParams struct {
	InitialBalance float64 `json:"balance"`
	Leverage       float64 `json:"leverage"`
	MarginPercent  float64 `json:"margin"`
}

// Validate checks account sizing sanity.
func (p TradingParams) Validate() error {
	if p.InitialBalance <= 0 {
		return errors.New("initial balance must be positive")
	}
	if p.Leverage <= 0 {
		return errors.New("leverage must be positive")
	}
	if p.MarginPercent <= 0 {
		return errors.New("margin percent must be positive")
	}
	return nil
}

// CoinSettings is the persisted per-symbol configuration: the strategy
// and risk parameters in force plus the provenance of the last
// optimization that produced them.
type CoinSettings struct {
	Symbol            string         `json:"symbol"`
	Strategy          StrategyParams `json:"strategyParams"`
	Risk              RiskParams     `json:"riskParams"`
	OptimizationScore float64        `json:"optimizationScore"`
	OptimizedAt       string         `json:"optimizationDate,omitempty"`
	Stats             *BacktestStats `json:"backtestStats,omitempty"`
}

// BacktestStats is the condensed statistics block stored alongside the
// winning parameters.
type BacktestStats struct {
	TotalReturn  float64 `json:"totalReturn"`
	WinRate      float64 `json:"winRate"`
	TotalTrades  int     `json:"totalTrades"`
	MaxDrawdown  float64 `json:"maxDrawdown"`
	ProfitFactor float64 `json:"profitFactor"`
	SharpeRatio  float64 `json:"sharpeRatio"`
}

// MarshalJSON clamps the ratio fields the same way OptimizationResult
// does; stored settings flow through the same JSON surface.
func (s BacktestStats) MarshalJSON() ([]byte, error) {
	type plain BacktestStats
	p := plain(s)
	p.ProfitFactor = JSONSafe(p.ProfitFactor)
	p.SharpeRatio = JSONSafe(p.SharpeRatio)
	return json.Marshal(p)
}

// DefaultCoinSettings returns the fallback configuration used for a
// symbol that has never been optimized.
func DefaultCoinSettings(symbol string) CoinSettings {
	return CoinSettings{
		Symbol:   symbol,
		Strategy: DefaultStrategyParams(),
		Risk:     DefaultRiskParams(),
	}
}
