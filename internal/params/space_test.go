package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ledunk1/bot/pkg/types"
)

func smallRanges() Ranges {
	return Ranges{
		Fast:     IntRange{Min: 2, Max: 6, Step: 2},
		Slow:     IntRange{Min: 4, Max: 6, Step: 2},
		Signal:   IntRange{Min: 3, Max: 3, Step: 1},
		Trend:    IntRange{Min: 10, Max: 10, Step: 1},
		TPBase:   FloatRange{Min: 0.5, Max: 0.5, Step: 0.5},
		StopLoss: FloatRange{Min: 1.0, Max: 1.5, Step: 0.5},
	}
}

func TestExpand_FiltersFastBelowSlow(t *testing.T) {
	combos, err := Expand(smallRanges())
	assert.NoError(t, err)

	// fast/slow pairs: (2,4) (2,6) (4,6); times 2 stop-loss values.
	assert.Len(t, combos, 6)
	for _, c := range combos {
		assert.Less(t, c.Fast, c.Slow)
	}
}

func TestExpand_Deterministic(t *testing.T) {
	a, err := Expand(smallRanges())
	assert.NoError(t, err)
	b, err := Expand(smallRanges())
	assert.NoError(t, err)
	assert.Equal(t, a, b)

	// Nested order is fixed: the stop-loss axis varies fastest.
	assert.Equal(t, 1.0, a[0].StopLoss)
	assert.Equal(t, 1.5, a[1].StopLoss)
	assert.Equal(t, a[0].Fast, a[1].Fast)
}

func TestExpand_InvalidRanges(t *testing.T) {
	r := smallRanges()
	r.Fast.Step = 0
	_, err := Expand(r)
	assert.Error(t, err)

	r = smallRanges()
	r.TPBase.Min = -1
	_, err = Expand(r)
	assert.Error(t, err)

	r = smallRanges()
	r.Slow.Max = 2 // max below min
	_, err = Expand(r)
	assert.Error(t, err)
}

func TestExpandFloat_InclusiveOfMax(t *testing.T) {
	values := expandFloat(FloatRange{Min: 0.5, Max: 1.0, Step: 0.25})
	assert.Equal(t, []float64{0.5, 0.75, 1.0}, values)
}

func TestExpandFloat_RoundsStepDrift(t *testing.T) {
	// 0.1+0.1+0.1 drifts past 0.3 in binary; rounding keeps it in.
	values := expandFloat(FloatRange{Min: 0.1, Max: 0.3, Step: 0.1})
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, values)
}

func TestSignature_Stable(t *testing.T) {
	a := Signature(smallRanges())
	b := Signature(smallRanges())
	assert.Equal(t, a, b)

	r := smallRanges()
	r.Trend.Max = 20
	assert.NotEqual(t, a, Signature(r))
}

func TestDefaultRanges_Valid(t *testing.T) {
	assert.NoError(t, DefaultRanges().Validate())

	combos, err := Expand(DefaultRanges())
	assert.NoError(t, err)
	assert.NotEmpty(t, combos)
}

func TestSpace_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	first, err := NewSpace(logger, dir)
	assert.NoError(t, err)
	combos, err := first.Combinations(smallRanges())
	assert.NoError(t, err)
	assert.Len(t, combos, 6)

	_, err = os.Stat(filepath.Join(dir, "parameter_combinations.json"))
	assert.NoError(t, err)

	second, err := NewSpace(logger, dir)
	assert.NoError(t, err)
	cached, err := second.Combinations(smallRanges())
	assert.NoError(t, err)
	assert.Equal(t, combos, cached)
}

func TestSpace_ReturnsPrivateCopies(t *testing.T) {
	space, err := NewSpace(zap.NewNop(), t.TempDir())
	assert.NoError(t, err)

	a, err := space.Combinations(smallRanges())
	assert.NoError(t, err)
	a[0] = types.Combination{Fast: 999}

	b, err := space.Combinations(smallRanges())
	assert.NoError(t, err)
	assert.NotEqual(t, 999, b[0].Fast)
}

func TestSpace_RecoversFromCorruptCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parameter_combinations.json")
	assert.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	space, err := NewSpace(zap.NewNop(), dir)
	assert.NoError(t, err)
	combos, err := space.Combinations(smallRanges())
	assert.NoError(t, err)
	assert.Len(t, combos, 6)
}
