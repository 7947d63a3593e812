// Package optimizer sweeps parameter combinations through the
// backtest pipeline for one symbol at a time and batches many symbols
// through that sweep concurrently.
package optimizer

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ledunk1/bot/pkg/types"
)

// Run is the explicit state of one optimization run. All mutation
// happens through the scheduler's own completion handling; workers
// only report results back over channels.
type Run struct {
	ID        string
	StartedAt time.Time

	running atomic.Bool

	mu                sync.Mutex
	totalSymbols      int
	totalCombinations int
	inflight          map[string]int // symbol -> combinations completed
	completed         []string
	failed            []string
	saveFailures      int
	best              map[string]types.OptimizationResult
	message           string
	finishedAt        time.Time
}

func newRun(id string) *Run {
	r := &Run{
		ID:        id,
		StartedAt: time.Now().UTC(),
		inflight:  make(map[string]int),
		completed: make([]string, 0),
		failed:    make([]string, 0),
		best:      make(map[string]types.OptimizationResult),
	}
	r.running.Store(true)
	return r
}

// IsRunning reports whether the run is still active. Worker loops
// poll this between work units; in-flight simulations run to
// completion.
func (r *Run) IsRunning() bool { return r.running.Load() }

func (r *Run) stop() { r.running.Store(false) }

func (r *Run) finish(message string) {
	r.running.Store(false)
	r.mu.Lock()
	r.message = message
	r.finishedAt = time.Now().UTC()
	r.inflight = make(map[string]int)
	r.mu.Unlock()
}

func (r *Run) setTotals(symbols, combinations int) {
	r.mu.Lock()
	r.totalSymbols = symbols
	r.totalCombinations = combinations
	r.mu.Unlock()
}

func (r *Run) startSymbol(symbol string) {
	r.mu.Lock()
	r.inflight[symbol] = 0
	r.mu.Unlock()
}

// setSymbolProgress records combinations completed for one in-flight
// symbol. Worker callbacks can arrive out of order, so progress only
// moves forward.
func (r *Run) setSymbolProgress(symbol string, completed int) {
	r.mu.Lock()
	if completed > r.inflight[symbol] {
		r.inflight[symbol] = completed
	}
	r.mu.Unlock()
}

func (r *Run) recordCompleted(symbol string, best types.OptimizationResult, saveFailed bool) {
	r.mu.Lock()
	delete(r.inflight, symbol)
	r.completed = append(r.completed, symbol)
	r.best[symbol] = best
	if saveFailed {
		r.saveFailures++
	}
	r.mu.Unlock()
}

func (r *Run) recordFailed(symbol string) {
	r.mu.Lock()
	delete(r.inflight, symbol)
	r.failed = append(r.failed, symbol)
	r.mu.Unlock()
}

// Status is an immutable snapshot of a run.
type Status struct {
	ID                string                              `json:"id"`
	IsRunning         bool                                `json:"isRunning"`
	StartedAt         time.Time                           `json:"startedAt"`
	FinishedAt        *time.Time                          `json:"finishedAt,omitempty"`
	CurrentSymbols    []string                            `json:"currentSymbols"`
	TotalSymbols      int                                 `json:"totalSymbols"`
	TotalCombinations int                                 `json:"totalCombinations"`
	OverallProgress   float64                             `json:"overallProgress"`
	CompletedSymbols  []string                            `json:"completedSymbols"`
	FailedSymbols     []string                            `json:"failedSymbols"`
	SaveFailures      int                                 `json:"saveFailures"`
	BestResults       map[string]types.OptimizationResult `json:"bestResults"`
	Message           string                              `json:"message,omitempty"`
}

// Snapshot captures the current state of the run.
func (r *Run) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		ID:                r.ID,
		IsRunning:         r.running.Load(),
		StartedAt:         r.StartedAt,
		CurrentSymbols:    make([]string, 0, len(r.inflight)),
		TotalSymbols:      r.totalSymbols,
		TotalCombinations: r.totalCombinations,
		CompletedSymbols:  append([]string(nil), r.completed...),
		FailedSymbols:     append([]string(nil), r.failed...),
		SaveFailures:      r.saveFailures,
		BestResults:       make(map[string]types.OptimizationResult, len(r.best)),
		Message:           r.message,
	}
	for symbol := range r.inflight {
		st.CurrentSymbols = append(st.CurrentSymbols, symbol)
	}
	sort.Strings(st.CurrentSymbols)
	for symbol, result := range r.best {
		st.BestResults[symbol] = result
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		st.FinishedAt = &t
	}

	// Overall progress: finished symbols plus every in-flight symbol's
	// combination fraction, clamped to 100. Completion swaps a
	// fraction of at most one for a whole unit, so the figure never
	// moves backwards while batch goroutines run concurrently.
	if r.totalSymbols > 0 {
		done := float64(len(r.completed) + len(r.failed))
		if r.totalCombinations > 0 {
			for _, n := range r.inflight {
				done += float64(n) / float64(r.totalCombinations)
			}
		}
		progress := done / float64(r.totalSymbols) * 100
		if progress > 100 {
			progress = 100
		}
		st.OverallProgress = progress
	}
	return st
}
