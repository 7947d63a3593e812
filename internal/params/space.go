// Package params expands per-parameter numeric ranges into the
// filtered cross-product of valid optimization combinations, memoized
// on disk by range signature.
package params

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/ledunk1/bot/pkg/types"
	"go.uber.org/zap"
)

// IntRange is an inclusive integer sweep.
type IntRange struct {
	Min  int `json:"min"`
	Max  int `json:"max"`
	Step int `json:"step"`
}

// FloatRange is an inclusive float sweep. Values are rounded to two
// decimals so step drift cannot duplicate combinations.
type FloatRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Ranges defines one optimization grid, one axis per parameter.
type Ranges struct {
	Fast     IntRange   `json:"fast"`
	Slow     IntRange   `json:"slow"`
	Signal   IntRange   `json:"signal"`
	Trend    IntRange   `json:"trend"`
	TPBase   FloatRange `json:"tpBase"`
	StopLoss FloatRange `json:"stopLoss"`
}

// DefaultRanges returns a moderate grid centered on the stock
// strategy parameters.
func DefaultRanges() Ranges {
	return Ranges{
		Fast:     IntRange{Min: 10, Max: 18, Step: 2},
		Slow:     IntRange{Min: 26, Max: 38, Step: 3},
		Signal:   IntRange{Min: 8, Max: 12, Step: 2},
		Trend:    IntRange{Min: 100, Max: 200, Step: 50},
		TPBase:   FloatRange{Min: 0.5, Max: 1.0, Step: 0.25},
		StopLoss: FloatRange{Min: 1.0, Max: 2.0, Step: 0.5},
	}
}

// Validate rejects degenerate sweeps before expansion.
func (r Ranges) Validate() error {
	for name, ir := range map[string]IntRange{
		"fast": r.Fast, "slow": r.Slow, "signal": r.Signal, "trend": r.Trend,
	} {
		if ir.Min <= 0 || ir.Max < ir.Min || ir.Step <= 0 {
			return fmt.Errorf("invalid %s range: min=%d max=%d step=%d", name, ir.Min, ir.Max, ir.Step)
		}
	}
	for name, fr := range map[string]FloatRange{
		"tpBase": r.TPBase, "stopLoss": r.StopLoss,
	} {
		if fr.Min <= 0 || fr.Max < fr.Min || fr.Step <= 0 {
			return fmt.Errorf("invalid %s range: min=%g max=%g step=%g", name, fr.Min, fr.Max, fr.Step)
		}
	}
	return nil
}

// Signature derives the cache key for a set of ranges. It is a
// pure function: identical ranges always map to the same key.
func Signature(r Ranges) string {
	// Field order is fixed, so a plain format string is stable.
	return fmt.Sprintf("fast=%d:%d:%d|slow=%d:%d:%d|signal=%d:%d:%d|trend=%d:%d:%d|tp=%.2f:%.2f:%.2f|sl=%.2f:%.2f:%.2f",
		r.Fast.Min, r.Fast.Max, r.Fast.Step,
		r.Slow.Min, r.Slow.Max, r.Slow.Step,
		r.Signal.Min, r.Signal.Max, r.Signal.Step,
		r.Trend.Min, r.Trend.Max, r.Trend.Step,
		r.TPBase.Min, r.TPBase.Max, r.TPBase.Step,
		r.StopLoss.Min, r.StopLoss.Max, r.StopLoss.Step,
	)
}

// Expand generates every valid combination in deterministic nested
// order (fast, slow, signal, trend, tp base, stop loss — outer to
// inner), keeping only combinations with fast < slow.
func Expand(r Ranges) ([]types.Combination, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	tpValues := expandFloat(r.TPBase)
	slValues := expandFloat(r.StopLoss)

	combos := make([]types.Combination, 0)
	for fast := r.Fast.Min; fast <= r.Fast.Max; fast += r.Fast.Step {
		for slow := r.Slow.Min; slow <= r.Slow.Max; slow += r.Slow.Step {
			if fast >= slow {
				continue
			}
			for signal := r.Signal.Min; signal <= r.Signal.Max; signal += r.Signal.Step {
				for trend := r.Trend.Min; trend <= r.Trend.Max; trend += r.Trend.Step {
					for _, tp := range tpValues {
						for _, sl := range slValues {
							combos = append(combos, types.Combination{
								Fast:     fast,
								Slow:     slow,
								Signal:   signal,
								Trend:    trend,
								TPBase:   tp,
								StopLoss: sl,
							})
						}
					}
				}
			}
		}
	}
	return combos, nil
}

// expandFloat iterates min..max inclusive with two-decimal rounding.
func expandFloat(r FloatRange) []float64 {
	values := make([]float64, 0)
	for v := r.Min; ; v += r.Step {
		rounded := math.Round(v*100) / 100
		if rounded > r.Max {
			break
		}
		values = append(values, rounded)
	}
	return values
}

// Space memoizes expanded combinations by range signature, backed by a
// JSON file shared across runs.
type Space struct {
	mu        sync.Mutex
	logger    *zap.Logger
	cacheFile string
	cache     map[string][]types.Combination
	loaded    bool
}

// NewSpace creates a parameter space with its cache file under dir.
func NewSpace(logger *zap.Logger, dir string) (*Space, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parameter cache directory: %w", err)
	}
	return &Space{
		logger:    logger,
		cacheFile: filepath.Join(dir, "parameter_combinations.json"),
		cache:     make(map[string][]types.Combination),
	}, nil
}

// Combinations returns the expanded grid for the given ranges,
// generating and persisting it on first use. Repeated calls with an
// identical ranges return a value-identical list.
func (s *Space) Combinations(r Ranges) ([]types.Combination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.loadLocked()
	}

	key := Signature(r)
	if cached, ok := s.cache[key]; ok {
		s.logger.Debug("Using cached parameter combinations",
			zap.String("signature", key),
			zap.Int("count", len(cached)),
		)
		out := make([]types.Combination, len(cached))
		copy(out, cached)
		return out, nil
	}

	combos, err := Expand(r)
	if err != nil {
		return nil, err
	}

	s.cache[key] = combos
	if err := s.saveLocked(); err != nil {
		s.logger.Warn("Failed to persist parameter combinations cache", zap.Error(err))
	}

	s.logger.Info("Generated parameter combinations",
		zap.String("signature", key),
		zap.Int("count", len(combos)),
	)

	out := make([]types.Combination, len(combos))
	copy(out, combos)
	return out, nil
}

func (s *Space) loadLocked() {
	s.loaded = true
	data, err := os.ReadFile(s.cacheFile)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read parameter combinations cache", zap.Error(err))
		}
		return
	}
	if err := json.Unmarshal(data, &s.cache); err != nil {
		s.logger.Warn("Discarding corrupt parameter combinations cache", zap.Error(err))
		s.cache = make(map[string][]types.Combination)
	}
}

func (s *Space) saveLocked() error {
	data, err := json.Marshal(s.cache)
	if err != nil {
		return err
	}
	tmp := s.cacheFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.cacheFile)
}
