package wakeword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner returns successive scores from a fixed script, repeating
// the last value once exhausted.
type scriptedRunner struct {
	shape  []int64
	script []float32
	i      int
}

func (r *scriptedRunner) InputShape() []int64 { return r.shape }
func (r *scriptedRunner) RunFloats(in []float32) ([]float32, error) {
	s := r.script[r.i]
	if r.i < len(r.script)-1 {
		r.i++
	}
	return []float32{s}, nil
}

func newClassifier(t *testing.T, cfgs []Config, runners []Runner) *Classifier {
	t.Helper()
	c, err := New(nil, cfgs, runners)
	require.NoError(t, err)
	return c
}

// Test_WindowOffsets checks that maxWindow/minWindow/offset are derived per
// spec §4.4 from each model's probed input dim 1.
func Test_WindowOffsets(t *testing.T) {
	cfgs := []Config{
		{Name: "a", Threshold: 0.5, Patience: 1},
		{Name: "b", Threshold: 0.5, Patience: 1},
	}
	runners := []Runner{
		&scriptedRunner{shape: []int64{1, 16}, script: []float32{0}},
		&scriptedRunner{shape: []int64{1, 28}, script: []float32{0}},
	}
	c := newClassifier(t, cfgs, runners)
	assert.Equal(t, 28, c.MaxWindow())
	assert.Equal(t, 16, c.MinWindow())
	assert.Equal(t, 12, c.models[0].offset) // 28-16
	assert.Equal(t, 0, c.models[1].offset)  // 28-28
}

// Test_PatienceGating covers scenario S3: a model only emits once its
// consecutive over-threshold streak reaches patience, and any sub-threshold
// score resets the streak.
func Test_PatienceGating(t *testing.T) {
	cfgs := []Config{{Name: "hey", Threshold: 0.5, Patience: 3}}
	runner := &scriptedRunner{shape: []int64{1, 16}, script: []float32{0.9, 0.9, 0.3, 0.9, 0.9, 0.9}}
	c := newClassifier(t, cfgs, []Runner{runner})

	features := make([]float32, 16*EmbeddingDim)

	var allMatches []Match
	for i := 0; i < len(runner.script); i++ {
		m, err := c.Predict(features)
		require.NoError(t, err)
		allMatches = append(allMatches, m...)
	}

	require.Len(t, allMatches, 1)
	assert.Equal(t, "hey", allMatches[0].Name)
	assert.Equal(t, 3, allMatches[0].Count)
}

// Test_TieBreakOrder covers spec §4.4: matches on the same window are
// emitted in configuration order.
func Test_TieBreakOrder(t *testing.T) {
	cfgs := []Config{
		{Name: "first", Threshold: 0.5, Patience: 1},
		{Name: "second", Threshold: 0.5, Patience: 1},
	}
	runners := []Runner{
		&scriptedRunner{shape: []int64{1, 16}, script: []float32{0.9}},
		&scriptedRunner{shape: []int64{1, 16}, script: []float32{0.9}},
	}
	c := newClassifier(t, cfgs, runners)
	features := make([]float32, 16*EmbeddingDim)

	matches, err := c.Predict(features)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "first", matches[0].Name)
	assert.Equal(t, "second", matches[1].Name)
}

func Test_ResetClearsPatienceCounters(t *testing.T) {
	cfgs := []Config{{Name: "hey", Threshold: 0.5, Patience: 2}}
	runner := &scriptedRunner{shape: []int64{1, 16}, script: []float32{0.9}}
	c := newClassifier(t, cfgs, []Runner{runner})
	features := make([]float32, 16*EmbeddingDim)

	_, err := c.Predict(features)
	require.NoError(t, err)
	assert.Equal(t, 1, c.models[0].count)

	c.Reset()
	assert.Equal(t, 0, c.models[0].count)
}
