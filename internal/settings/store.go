// Package settings persists per-coin strategy and risk parameters
// along with the optimization result that produced them.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ledunk1/bot/pkg/types"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS coin_settings (
    symbol             TEXT PRIMARY KEY,
    fast_length        INTEGER NOT NULL,
    slow_length        INTEGER NOT NULL,
    signal_length      INTEGER NOT NULL,
    trend_length       INTEGER NOT NULL,
    tp_base            REAL    NOT NULL,
    stop_loss          REAL    NOT NULL,
    max_tp_levels      INTEGER NOT NULL,
    tp_close_fraction  REAL    NOT NULL,
    optimization_score REAL    NOT NULL DEFAULT 0,
    optimized_at       DATETIME,
    total_return       REAL,
    win_rate           REAL,
    total_trades       INTEGER,
    max_drawdown       REAL,
    profit_factor      REAL,
    sharpe_ratio       REAL,
    updated_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settings_score ON coin_settings(optimization_score DESC);
`

// Store is the SQLite-backed coin settings store (pure Go driver, no
// CGo).
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewStore opens (and creates if needed) the settings database at
// path.
func NewStore(logger *zap.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize settings schema: %w", err)
	}
	return &Store{logger: logger, db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the settings for a symbol, falling back to the stock
// defaults when the symbol has never been saved.
func (s *Store) Load(ctx context.Context, symbol string) (types.CoinSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, fast_length, slow_length, signal_length, trend_length,
		       tp_base, stop_loss, max_tp_levels, tp_close_fraction,
		       optimization_score, optimized_at,
		       total_return, win_rate, total_trades, max_drawdown,
		       profit_factor, sharpe_ratio
		FROM coin_settings WHERE symbol = ?`, symbol)

	var (
		cs          types.CoinSettings
		optimizedAt sql.NullString
		totalReturn sql.NullFloat64
		winRate     sql.NullFloat64
		totalTrades sql.NullInt64
		maxDrawdown sql.NullFloat64
		profit      sql.NullFloat64
		sharpe      sql.NullFloat64
	)

	err := row.Scan(&cs.Symbol,
		&cs.Strategy.FastLength, &cs.Strategy.SlowLength,
		&cs.Strategy.SignalLength, &cs.Strategy.TrendLength,
		&cs.Risk.TPBasePercent, &cs.Risk.StopLossPercent,
		&cs.Risk.MaxTPLevels, &cs.Risk.TPCloseFraction,
		&cs.OptimizationScore, &optimizedAt,
		&totalReturn, &winRate, &totalTrades, &maxDrawdown, &profit, &sharpe,
	)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("Using default settings", zap.String("symbol", symbol))
		return types.DefaultCoinSettings(symbol), nil
	}
	if err != nil {
		return types.CoinSettings{}, fmt.Errorf("failed to load settings for %s: %w", symbol, err)
	}

	if optimizedAt.Valid {
		cs.OptimizedAt = optimizedAt.String
	}
	if totalTrades.Valid {
		cs.Stats = &types.BacktestStats{
			TotalReturn:  totalReturn.Float64,
			WinRate:      winRate.Float64,
			TotalTrades:  int(totalTrades.Int64),
			MaxDrawdown:  maxDrawdown.Float64,
			ProfitFactor: profit.Float64,
			SharpeRatio:  sharpe.Float64,
		}
	}
	return cs, nil
}

// Save upserts the full settings row for a symbol.
func (s *Store) Save(ctx context.Context, cs types.CoinSettings) error {
	var (
		totalReturn, winRate, maxDrawdown, profit, sharpe sql.NullFloat64
		totalTrades                                       sql.NullInt64
	)
	if cs.Stats != nil {
		totalReturn = sql.NullFloat64{Float64: cs.Stats.TotalReturn, Valid: true}
		winRate = sql.NullFloat64{Float64: cs.Stats.WinRate, Valid: true}
		totalTrades = sql.NullInt64{Int64: int64(cs.Stats.TotalTrades), Valid: true}
		maxDrawdown = sql.NullFloat64{Float64: cs.Stats.MaxDrawdown, Valid: true}
		profit = sql.NullFloat64{Float64: cs.Stats.ProfitFactor, Valid: true}
		sharpe = sql.NullFloat64{Float64: cs.Stats.SharpeRatio, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coin_settings (
			symbol, fast_length, slow_length, signal_length, trend_length,
			tp_base, stop_loss, max_tp_levels, tp_close_fraction,
			optimization_score, optimized_at,
			total_return, win_rate, total_trades, max_drawdown,
			profit_factor, sharpe_ratio, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(symbol) DO UPDATE SET
			fast_length=excluded.fast_length,
			slow_length=excluded.slow_length,
			signal_length=excluded.signal_length,
			trend_length=excluded.trend_length,
			tp_base=excluded.tp_base,
			stop_loss=excluded.stop_loss,
			max_tp_levels=excluded.max_tp_levels,
			tp_close_fraction=excluded.tp_close_fraction,
			optimization_score=excluded.optimization_score,
			optimized_at=excluded.optimized_at,
			total_return=excluded.total_return,
			win_rate=excluded.win_rate,
			total_trades=excluded.total_trades,
			max_drawdown=excluded.max_drawdown,
			profit_factor=excluded.profit_factor,
			sharpe_ratio=excluded.sharpe_ratio,
			updated_at=excluded.updated_at`,
		cs.Symbol,
		cs.Strategy.FastLength, cs.Strategy.SlowLength,
		cs.Strategy.SignalLength, cs.Strategy.TrendLength,
		cs.Risk.TPBasePercent, cs.Risk.StopLossPercent,
		cs.Risk.MaxTPLevels, cs.Risk.TPCloseFraction,
		cs.OptimizationScore, nullString(cs.OptimizedAt),
		totalReturn, winRate, totalTrades, maxDrawdown, profit, sharpe,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings for %s: %w", cs.Symbol, err)
	}
	return nil
}

// SaveOptimizationResult stores the winning combination for a symbol,
// keeping the fixed ladder settings at their defaults.
func (s *Store) SaveOptimizationResult(ctx context.Context, symbol string, result types.OptimizationResult) error {
	cs := types.CoinSettings{
		Symbol:            symbol,
		Strategy:          result.Parameters.Strategy(),
		Risk:              result.Parameters.Risk(types.DefaultMaxTPLevels, types.DefaultTPCloseFraction),
		OptimizationScore: result.Score,
		OptimizedAt:       time.Now().UTC().Format(time.RFC3339),
		Stats: &types.BacktestStats{
			TotalReturn:  result.TotalReturn,
			WinRate:      result.WinRate,
			TotalTrades:  result.TotalTrades,
			MaxDrawdown:  result.MaxDrawdown,
			ProfitFactor: result.ProfitFactor,
			SharpeRatio:  result.SharpeRatio,
		},
	}
	if err := s.Save(ctx, cs); err != nil {
		return err
	}
	s.logger.Info("Saved optimization result",
		zap.String("symbol", symbol),
		zap.Float64("score", result.Score),
	)
	return nil
}

// OptimizedScores returns the stored optimization score per symbol
// for every symbol that has one above zero.
func (s *Store) OptimizedScores(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, optimization_score FROM coin_settings
		WHERE optimization_score > 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to query optimized symbols: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var symbol string
		var score float64
		if err := rows.Scan(&symbol, &score); err != nil {
			return nil, err
		}
		scores[symbol] = score
	}
	return scores, rows.Err()
}

// All returns every stored settings row.
func (s *Store) All(ctx context.Context) ([]types.CoinSettings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM coin_settings ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	symbols := make([]string, 0)
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		symbols = append(symbols, symbol)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]types.CoinSettings, 0, len(symbols))
	for _, symbol := range symbols {
		cs, err := s.Load(ctx, symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
