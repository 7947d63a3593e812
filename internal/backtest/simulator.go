// Package backtest simulates leveraged futures trading over a signal
// series: entry sizing, the multi-level take-profit ladder, the
// trailing stop armed after TP hits, the fixed stop-loss, and the
// equity/drawdown accounting.
package backtest

import (
	"errors"
	"fmt"

	"github.com/ledunk1/bot/pkg/types"
	"go.uber.org/zap"
)

// commissionRate is the futures taker fee per side (0.04%).
const commissionRate = 0.0004

// Exit reasons recorded on closed trades.
const (
	ReasonStopLoss       = "Stop Loss"
	ReasonTrailingStop   = "Trailing Stop"
	ReasonOppositeSignal = "Opposite Signal"
)

// position is the single mutable position owned by one simulation run.
// A zero direction is the flat sentinel.
type position struct {
	direction     types.Direction
	entryPrice    float64
	entryTime     int // index into the candle series
	size          float64
	remainingSize float64
	tpLevels      []types.TPLevel
	tpsHit        int
	slPrice       float64
	trailingStop  float64 // 0 means not armed
}

func (p *position) open() bool { return p.direction != types.DirectionFlat }

// Simulator replays a signal series through the position state
// machine. Simulators are stateless between runs and safe to share
// across goroutines.
type Simulator struct {
	logger *zap.Logger
}

// NewSimulator creates a trade simulator.
func NewSimulator(logger *zap.Logger) *Simulator {
	return &Simulator{logger: logger}
}

// Run executes a full backtest. Bars are processed strictly in
// chronological order; this ordering is load-bearing and is never
// parallelized.
func (s *Simulator) Run(candles []types.Candle, signals []types.SignalPoint,
	trading types.TradingParams, risk types.RiskParams) (*types.BacktestResult, error) {

	if err := trading.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trading parameters: %w", err)
	}
	if err := risk.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk parameters: %w", err)
	}
	if len(candles) != len(signals) {
		return nil, errors.New("signal series does not match candle series")
	}

	result := &types.BacktestResult{
		Trades:      make([]types.Trade, 0),
		EquityCurve: make([]types.EquityPoint, 0, len(candles)),
		EntrySetups: make([]types.EntrySetup, 0),
	}

	balance := trading.InitialBalance
	pos := &position{}

	var (
		totalPnL      float64
		totalTrades   int
		winningTrades int
		maxDrawdown   float64
	)
	peakEquity := trading.InitialBalance

	for i := range candles {
		price := signals[i].Price
		signal := signals[i].Direction
		closedThisBar := false

		if pos.open() {
			// An opposite signal forces a full close ahead of the
			// TP/SL checks.
			shouldClose, reason, closeFraction := false, "", 0.0
			if signal != types.DirectionFlat && signal != pos.direction {
				shouldClose, reason, closeFraction = true, ReasonOppositeSignal, 1.0
			} else {
				shouldClose, reason, closeFraction = s.checkExit(pos, price, risk)
			}

			if shouldClose {
				netPnL, commission := s.closePosition(pos, price, closeFraction, trading.Leverage)

				balance += netPnL
				totalPnL += netPnL
				totalTrades++
				if netPnL > 0 {
					winningTrades++
				}

				result.Trades = append(result.Trades, types.Trade{
					EntryTime:  candles[pos.entryTime].Timestamp,
					ExitTime:   candles[i].Timestamp,
					EntryPrice: pos.entryPrice,
					ExitPrice:  price,
					Side:       pos.direction,
					PnL:        netPnL,
					Commission: commission,
					ExitReason: reason,
					SizeClosed: closeFraction,
				})

				if closeFraction < 1.0 {
					pos.remainingSize *= 1 - closeFraction
					// A TP hit advances the trailing stop; other
					// partial closes do not exist in this ladder.
					pos.trailingStop = s.trailingStop(pos, risk)
				} else {
					*pos = position{}
					closedThisBar = true
				}
			}
		}

		// New entries only while flat, and never on the bar that just
		// fully closed a position.
		if signal != types.DirectionFlat && !pos.open() && !closedThisBar {
			marginAmount := balance * trading.MarginPercent / 100
			if balance >= marginAmount {
				positionSize := marginAmount * trading.Leverage / price

				tpLevels, slPrice := buildLevels(price, signal, risk)
				*pos = position{
					direction:     signal,
					entryPrice:    price,
					entryTime:     i,
					size:          positionSize,
					remainingSize: positionSize,
					tpLevels:      tpLevels,
					slPrice:       slPrice,
				}

				result.EntrySetups = append(result.EntrySetups, types.EntrySetup{
					Timestamp:  candles[i].Timestamp,
					EntryPrice: price,
					Direction:  signal,
					TPLevels:   append([]types.TPLevel(nil), tpLevels...),
					SLPrice:    slPrice,
				})
			}
			// Margin shortfall is a silent stay-flat bar, not an error.
		}

		var unrealizedPnL float64
		if pos.open() {
			priceChange := price - pos.entryPrice
			if pos.direction == types.DirectionShort {
				priceChange = -priceChange
			}
			unrealizedPnL = (priceChange / pos.entryPrice) * 100 * trading.Leverage *
				(balance * trading.MarginPercent / 100) / 100
		}

		equity := balance + unrealizedPnL
		result.EquityCurve = append(result.EquityCurve, types.EquityPoint{
			Timestamp:     candles[i].Timestamp,
			Balance:       balance,
			UnrealizedPnL: unrealizedPnL,
			Equity:        equity,
		})

		if equity > peakEquity {
			peakEquity = equity
		} else if peakEquity > 0 {
			drawdown := (peakEquity - equity) / peakEquity
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	winRate := 0.0
	if totalTrades > 0 {
		winRate = float64(winningTrades) / float64(totalTrades) * 100
	}

	result.Statistics = types.Statistics{
		InitialBalance: trading.InitialBalance,
		FinalBalance:   balance,
		TotalReturnPct: (balance - trading.InitialBalance) / trading.InitialBalance * 100,
		TotalPnL:       totalPnL,
		TotalTrades:    totalTrades,
		WinningTrades:  winningTrades,
		WinRatePct:     winRate,
		MaxDrawdownPct: maxDrawdown * 100,
		LeverageUsed:   trading.Leverage,
	}

	return result, nil
}

// checkExit evaluates exit conditions in priority order: fixed SL,
// trailing stop, then the first unhit TP level. At most one exit fires
// per bar.
func (s *Simulator) checkExit(pos *position, price float64, risk types.RiskParams) (bool, string, float64) {
	fixedSL := fixedSLPrice(pos.entryPrice, pos.direction, risk)

	if pos.direction == types.DirectionLong && price <= fixedSL {
		return true, ReasonStopLoss, 1.0
	}
	if pos.direction == types.DirectionShort && price >= fixedSL {
		return true, ReasonStopLoss, 1.0
	}

	if pos.trailingStop > 0 {
		// The effective trailing stop is never worse than the fixed SL.
		effective := pos.trailingStop
		if pos.direction == types.DirectionLong {
			if fixedSL > effective {
				effective = fixedSL
			}
			if price <= effective {
				return true, ReasonTrailingStop, 1.0
			}
		} else {
			if fixedSL < effective {
				effective = fixedSL
			}
			if price >= effective {
				return true, ReasonTrailingStop, 1.0
			}
		}
	}

	for idx := range pos.tpLevels {
		tp := &pos.tpLevels[idx]
		if tp.Hit {
			continue
		}
		crossed := (pos.direction == types.DirectionLong && price >= tp.Price) ||
			(pos.direction == types.DirectionShort && price <= tp.Price)
		if crossed {
			tp.Hit = true
			pos.tpsHit++
			return true, fmt.Sprintf("TP%d", tp.Level), risk.TPCloseFraction
		}
		// TP checks stop at the first unhit level.
		break
	}

	return false, "", 0
}

// trailingStop advances the stop after a TP hit: breakeven after the
// first hit, the previous TP's price after the second and later hits,
// always clamped to be no worse than the fixed SL.
func (s *Simulator) trailingStop(pos *position, risk types.RiskParams) float64 {
	fixedSL := fixedSLPrice(pos.entryPrice, pos.direction, risk)

	var stop float64
	switch {
	case pos.tpsHit == 1:
		stop = pos.entryPrice
	case pos.tpsHit >= 2:
		prevPercent := risk.TPBasePercent * float64(pos.tpsHit-1)
		if pos.direction == types.DirectionLong {
			stop = pos.entryPrice * (1 + prevPercent/100)
		} else {
			stop = pos.entryPrice * (1 - prevPercent/100)
		}
	default:
		return 0
	}

	if pos.direction == types.DirectionLong {
		if fixedSL > stop {
			stop = fixedSL
		}
	} else {
		if fixedSL < stop {
			stop = fixedSL
		}
	}
	return stop
}

// closePosition computes net PnL and commission for closing the given
// fraction of the remaining size.
func (s *Simulator) closePosition(pos *position, exitPrice, closeFraction, leverage float64) (netPnL, commission float64) {
	sizeToClose := pos.remainingSize * closeFraction

	var priceChangePct float64
	if pos.direction == types.DirectionLong {
		priceChangePct = (exitPrice - pos.entryPrice) / pos.entryPrice * 100
	} else {
		priceChangePct = (pos.entryPrice - exitPrice) / pos.entryPrice * 100
	}

	positionValue := sizeToClose * pos.entryPrice
	pnl := priceChangePct / 100 * positionValue * leverage
	commission = positionValue * commissionRate * 2 // entry + exit

	return pnl - commission, commission
}

// buildLevels computes the TP ladder and the fixed SL for a new entry.
func buildLevels(entryPrice float64, direction types.Direction, risk types.RiskParams) ([]types.TPLevel, float64) {
	levels := make([]types.TPLevel, 0, risk.MaxTPLevels)
	for i := 1; i <= risk.MaxTPLevels; i++ {
		percent := risk.TPBasePercent * float64(i)
		var price float64
		if direction == types.DirectionLong {
			price = entryPrice * (1 + percent/100)
		} else {
			price = entryPrice * (1 - percent/100)
		}
		levels = append(levels, types.TPLevel{Level: i, Price: price, Percent: percent})
	}
	return levels, fixedSLPrice(entryPrice, direction, risk)
}

// fixedSLPrice is the stop-loss anchored to the entry price; it never
// moves for the life of the position.
func fixedSLPrice(entryPrice float64, direction types.Direction, risk types.RiskParams) float64 {
	if direction == types.DirectionLong {
		return entryPrice * (1 - risk.StopLossPercent/100)
	}
	return entryPrice * (1 + risk.StopLossPercent/100)
}
