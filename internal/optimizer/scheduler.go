package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledunk1/bot/internal/marketdata"
	"github.com/ledunk1/bot/internal/params"
	"github.com/ledunk1/bot/internal/settings"
	"github.com/ledunk1/bot/pkg/types"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyRunning is returned when a start is requested while a
	// run is active. Only one optimization runs at a time.
	ErrAlreadyRunning = errors.New("optimization already running")
	// ErrNothingToDo is returned when no symbols remain after
	// filtering (or none were supplied).
	ErrNothingToDo = errors.New("no symbols to optimize")
	// ErrUnknownRun is returned for handles the registry has never
	// issued.
	ErrUnknownRun = errors.New("unknown optimization run")
)

// maxBatchSymbols caps how many symbols one batch processes
// concurrently regardless of worker count.
const maxBatchSymbols = 20

// SymbolMetrics receives per-symbol completion counters. Nil is
// allowed.
type SymbolMetrics interface {
	SymbolCompleted(duration time.Duration)
	SymbolFailed()
}

// Request describes one multi-symbol optimization run.
type Request struct {
	Symbols    []string            `json:"symbols"`
	Interval   string              `json:"interval"`
	Start      time.Time           `json:"start"`
	End        time.Time           `json:"end"`
	Ranges     params.Ranges       `json:"ranges"`
	Trading    types.TradingParams `json:"trading"`
	Risk       RiskDefaults        `json:"risk"`
	MaxWorkers int                 `json:"maxWorkers"`
	Force      bool                `json:"force"`
}

// Scheduler orchestrates multi-symbol optimization runs: filtering
// already-optimized symbols, bulk data fetch, batched per-symbol
// sweeps, best-result persistence and the run summary file.
type Scheduler struct {
	logger     *zap.Logger
	space      *params.Space
	bulk       *marketdata.BulkCache
	store      *settings.Store
	runner     *Runner
	metrics    SymbolMetrics
	summaryDir string

	mu     sync.Mutex
	active *Run
	runs   map[string]*Run
}

// NewScheduler creates a scheduler. summaryDir receives the per-run
// audit summary files.
func NewScheduler(logger *zap.Logger, space *params.Space, bulk *marketdata.BulkCache,
	store *settings.Store, runner *Runner, metrics SymbolMetrics, summaryDir string) *Scheduler {
	return &Scheduler{
		logger:     logger,
		space:      space,
		bulk:       bulk,
		store:      store,
		runner:     runner,
		metrics:    metrics,
		summaryDir: summaryDir,
		runs:       make(map[string]*Run),
	}
}

// Start begins a run and returns its handle. It fails synchronously
// with ErrAlreadyRunning when a run is active, and with ErrNothingToDo
// when filtering leaves no symbols. In non-forced mode, symbols whose
// stored optimization score is above zero are skipped; force mode
// disables that filtering.
func (s *Scheduler) Start(ctx context.Context, req Request) (string, error) {
	if len(req.Symbols) == 0 {
		return "", ErrNothingToDo
	}
	if err := req.Trading.Validate(); err != nil {
		return "", fmt.Errorf("invalid trading parameters: %w", err)
	}
	if !req.End.After(req.Start) {
		return "", errors.New("invalid date range")
	}
	if req.MaxWorkers < 1 {
		req.MaxWorkers = 4
	}
	if req.Risk.MaxTPLevels == 0 {
		req.Risk = DefaultRiskDefaults()
	}

	symbols := req.Symbols
	if !req.Force {
		filtered, err := s.filterUnoptimized(ctx, symbols)
		if err != nil {
			return "", err
		}
		if skipped := len(symbols) - len(filtered); skipped > 0 {
			s.logger.Info("Skipping already-optimized symbols",
				zap.Int("skipped", skipped),
				zap.Int("remaining", len(filtered)),
			)
		}
		symbols = filtered
	}
	if len(symbols) == 0 {
		return "", fmt.Errorf("%w: all symbols already optimized, use force to re-optimize", ErrNothingToDo)
	}

	combos, err := s.space.Combinations(req.Ranges)
	if err != nil {
		return "", fmt.Errorf("failed to expand parameter ranges: %w", err)
	}
	if len(combos) == 0 {
		return "", errors.New("parameter ranges expand to zero combinations")
	}

	s.mu.Lock()
	if s.active != nil && s.active.IsRunning() {
		s.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	run := newRun(uuid.New().String())
	run.setTotals(len(symbols), len(combos))
	s.active = run
	s.runs[run.ID] = run
	s.mu.Unlock()

	s.logger.Info("Starting per-coin optimization",
		zap.String("run", run.ID),
		zap.Int("symbols", len(symbols)),
		zap.Int("combinations", len(combos)),
		zap.Bool("force", req.Force),
	)

	go s.execute(ctx, run, req, symbols, combos)

	return run.ID, nil
}

// Status returns a snapshot for the given handle.
func (s *Scheduler) Status(runID string) (Status, error) {
	s.mu.Lock()
	run, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return Status{}, ErrUnknownRun
	}
	return run.Snapshot(), nil
}

// ActiveStatus returns the snapshot of the most recent run, if any.
func (s *Scheduler) ActiveStatus() (Status, bool) {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()
	if run == nil {
		return Status{}, false
	}
	return run.Snapshot(), true
}

// Stop requests cooperative cancellation of the given run. Worker
// loops observe the flag between combinations and symbols.
func (s *Scheduler) Stop(runID string) error {
	s.mu.Lock()
	run, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownRun
	}
	if run.IsRunning() {
		s.logger.Info("Stopping optimization run", zap.String("run", runID))
		run.stop()
	}
	return nil
}

func (s *Scheduler) filterUnoptimized(ctx context.Context, symbols []string) ([]string, error) {
	scores, err := s.store.OptimizedScores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load optimized symbols: %w", err)
	}
	out := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if score, ok := scores[symbol]; ok && score > 0 {
			s.logger.Debug("Skipping optimized symbol",
				zap.String("symbol", symbol),
				zap.Float64("score", score),
			)
			continue
		}
		out = append(out, symbol)
	}
	return out, nil
}

// execute is the background body of one run.
func (s *Scheduler) execute(ctx context.Context, run *Run, req Request,
	symbols []string, combos []types.Combination) {

	defer func() {
		s.mu.Lock()
		if s.active == run {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	data := s.bulk.FetchMany(ctx, symbols, req.Interval, req.Start, req.End, req.MaxWorkers)

	valid := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if len(data[symbol]) > 0 {
			valid = append(valid, symbol)
		} else {
			run.recordFailed(symbol)
			if s.metrics != nil {
				s.metrics.SymbolFailed()
			}
		}
	}
	run.setTotals(len(symbols), len(combos))

	if len(valid) == 0 {
		s.logger.Warn("No market data available for any symbol", zap.String("run", run.ID))
		run.finish("no market data available for any symbol")
		s.writeSummary(run, req, symbols)
		return
	}

	s.processBatches(ctx, run, req, valid, data, combos)

	snapshot := run.Snapshot()
	message := fmt.Sprintf("completed %d symbols, %d failed",
		len(snapshot.CompletedSymbols), len(snapshot.FailedSymbols))
	if !run.IsRunning() {
		message = "stopped: " + message
	}
	run.finish(message)
	s.writeSummary(run, req, symbols)

	s.logger.Info("Per-coin optimization finished",
		zap.String("run", run.ID),
		zap.Int("completed", len(snapshot.CompletedSymbols)),
		zap.Int("failed", len(snapshot.FailedSymbols)),
	)
}

// symbolOutcome is what a per-symbol worker reports back to the
// scheduler's consumer loop.
type symbolOutcome struct {
	symbol   string
	best     types.OptimizationResult
	ok       bool
	duration time.Duration
}

// processBatches partitions symbols into fixed-size batches and runs
// the single-symbol sweep for every symbol in a batch concurrently.
// Result aggregation and persistence happen only here, in the single
// consumer loop.
func (s *Scheduler) processBatches(ctx context.Context, run *Run, req Request,
	valid []string, data map[string][]types.Candle, combos []types.Combination) {

	batchSize := req.MaxWorkers * 2
	if batchSize > maxBatchSymbols {
		batchSize = maxBatchSymbols
	}

	for offset := 0; offset < len(valid); offset += batchSize {
		if !run.IsRunning() {
			return
		}

		end := offset + batchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[offset:end]

		s.logger.Info("Processing symbol batch",
			zap.String("run", run.ID),
			zap.Int("batch", offset/batchSize+1),
			zap.Strings("symbols", batch),
		)

		outcomes := make(chan symbolOutcome, len(batch))
		for _, symbol := range batch {
			go func(symbol string) {
				started := time.Now()
				run.startSymbol(symbol)

				results := s.runner.OptimizeSymbol(symbol, data[symbol], combos,
					req.Trading, req.Risk, req.MaxWorkers,
					func(n int) { run.setSymbolProgress(symbol, n) }, run.IsRunning)

				if len(results) == 0 {
					outcomes <- symbolOutcome{symbol: symbol}
					return
				}
				outcomes <- symbolOutcome{
					symbol:   symbol,
					best:     results[0],
					ok:       true,
					duration: time.Since(started),
				}
			}(symbol)
		}

		for range batch {
			outcome := <-outcomes
			if !outcome.ok {
				run.recordFailed(outcome.symbol)
				if s.metrics != nil {
					s.metrics.SymbolFailed()
				}
				s.logger.Warn("Symbol optimization failed",
					zap.String("run", run.ID),
					zap.String("symbol", outcome.symbol),
				)
				continue
			}

			// A save failure still counts the optimization as
			// completed; it is reported separately.
			saveFailed := false
			if err := s.store.SaveOptimizationResult(ctx, outcome.symbol, outcome.best); err != nil {
				saveFailed = true
				s.logger.Error("Failed to persist best result",
					zap.String("symbol", outcome.symbol),
					zap.Error(err),
				)
			}
			run.recordCompleted(outcome.symbol, outcome.best, saveFailed)
			if s.metrics != nil {
				s.metrics.SymbolCompleted(outcome.duration)
			}

			s.logger.Info("Symbol optimization completed",
				zap.String("symbol", outcome.symbol),
				zap.Float64("score", outcome.best.Score),
				zap.Float64("return", outcome.best.TotalReturn),
			)
		}
	}
}

// runSummary is the audit record written once per run.
type runSummary struct {
	RunID            string                              `json:"runId"`
	Interval         string                              `json:"interval"`
	Start            time.Time                           `json:"start"`
	End              time.Time                           `json:"end"`
	Force            bool                                `json:"force"`
	Timestamp        time.Time                           `json:"timestamp"`
	TotalSymbols     int                                 `json:"totalSymbols"`
	SymbolsProcessed []string                            `json:"symbolsProcessed"`
	Completed        []string                            `json:"completedList"`
	Failed           []string                            `json:"failedList"`
	SaveFailures     int                                 `json:"saveFailures"`
	BestResults      map[string]types.OptimizationResult `json:"bestResults"`
}

func (s *Scheduler) writeSummary(run *Run, req Request, symbols []string) {
	if s.summaryDir == "" {
		return
	}
	if err := os.MkdirAll(s.summaryDir, 0o755); err != nil {
		s.logger.Warn("Failed to create summary directory", zap.Error(err))
		return
	}

	snapshot := run.Snapshot()
	summary := runSummary{
		RunID:            run.ID,
		Interval:         req.Interval,
		Start:            req.Start,
		End:              req.End,
		Force:            req.Force,
		Timestamp:        time.Now().UTC(),
		TotalSymbols:     len(symbols),
		SymbolsProcessed: symbols,
		Completed:        snapshot.CompletedSymbols,
		Failed:           snapshot.FailedSymbols,
		SaveFailures:     snapshot.SaveFailures,
		BestResults:      snapshot.BestResults,
	}

	name := fmt.Sprintf("per_coin_optimization_%s_%s.json",
		time.Now().UTC().Format("20060102_150405"), run.ID[:8])
	path := filepath.Join(s.summaryDir, name)

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		s.logger.Warn("Failed to encode run summary", zap.Error(err))
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Warn("Failed to write run summary", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.logger.Warn("Failed to finalize run summary", zap.Error(err))
		return
	}
	s.logger.Info("Run summary written", zap.String("path", path))
}

// Estimate sizes a prospective run: combination count and a rough
// wall-time figure at the given parallelism.
type Estimate struct {
	TotalSymbols          int           `json:"totalSymbols"`
	CombinationsPerSymbol int           `json:"combinationsPerSymbol"`
	TotalCombinations     int           `json:"totalCombinations"`
	MaxWorkers            int           `json:"maxWorkers"`
	EstimatedDuration     time.Duration `json:"estimatedDuration"`
}

// EstimateRun predicts the size of a run without starting it.
func (s *Scheduler) EstimateRun(symbols []string, ranges params.Ranges, maxWorkers int) (Estimate, error) {
	combos, err := s.space.Combinations(ranges)
	if err != nil {
		return Estimate{}, err
	}
	if maxWorkers < 1 {
		maxWorkers = 4
	}

	total := len(symbols) * len(combos)
	// Rough figure: ~100ms per backtest divided across workers.
	perBacktest := 100 * time.Millisecond
	estimated := time.Duration(total) * perBacktest / time.Duration(maxWorkers)

	return Estimate{
		TotalSymbols:          len(symbols),
		CombinationsPerSymbol: len(combos),
		TotalCombinations:     total,
		MaxWorkers:            maxWorkers,
		EstimatedDuration:     estimated,
	}, nil
}
