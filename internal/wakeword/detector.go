// Package wakeword scores a shared embedding window against N independently
// configured wake-word models, each with its own threshold and patience
// gate.
//
// Restructured from the teacher's single-model openWakeWord Detector (which
// opened its own capture device and owned three hard-coded ONNX sessions)
// into a pure classifier that consumes embeddings produced upstream by
// internal/features and holds one Runner per configured model.
package wakeword

import (
	"fmt"

	"github.com/hammamikhairi/voz/internal/logger"
)

// EmbeddingDim is the width of one embedding vector (matches
// features.EmbeddingDim; kept as its own constant so this package does not
// import internal/features).
const EmbeddingDim = 96

// Runner is the subset of inference.Runner a per-model classifier needs.
type Runner interface {
	RunFloats(in []float32) ([]float32, error)
	InputShape() []int64
}

// Config describes one configured wake-word model.
type Config struct {
	Name      string
	ModelPath string
	Threshold float32
	Patience  int // consecutive over-threshold scores required to emit
}

// Match is one emitted detection.
type Match struct {
	Name  string
	Score float32
	Count int
}

type model struct {
	cfg    Config
	runner Runner
	window int // probed input dim 1 (number of embedding frames consumed)
	offset int // maxWindow - window, set once all models are known
	count  int // consecutive over-threshold streak
}

// Classifier scores a shared embedding window (maxWindow frames wide) against
// every configured model's own trailing sub-window.
type Classifier struct {
	log       *logger.Logger
	models    []*model
	maxWindow int
	minWindow int
}

// New builds a Classifier from cfgs and their bound Runners (one per cfg, in
// the same order). minWindow is seeded from the first model's probed window
// rather than left at a dead zero floor, so the "do we have enough features
// yet" gate in Predict is meaningful from the first model onward.
func New(log *logger.Logger, cfgs []Config, runners []Runner) (*Classifier, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("wakeword: no models configured")
	}
	if len(cfgs) != len(runners) {
		return nil, fmt.Errorf("wakeword: %d configs but %d runners", len(cfgs), len(runners))
	}

	c := &Classifier{log: log}
	for i, cfg := range cfgs {
		shape := runners[i].InputShape()
		window := 1
		if len(shape) > 1 {
			window = int(shape[1])
		}
		m := &model{cfg: cfg, runner: runners[i], window: window}
		if i == 0 || window > c.maxWindow {
			c.maxWindow = window
		}
		if i == 0 || window < c.minWindow {
			c.minWindow = window
		}
		c.models = append(c.models, m)
	}
	for _, m := range c.models {
		m.offset = c.maxWindow - m.window
	}
	return c, nil
}

// MaxWindow is the widest embedding window any configured model needs.
func (c *Classifier) MaxWindow() int { return c.maxWindow }

// MinWindow is the narrowest embedding window any configured model needs —
// Predict requires at least this many features before scoring anything.
func (c *Classifier) MinWindow() int { return c.minWindow }

// Predict scores features (a flattened maxWindow x EmbeddingDim window,
// most-recent frame last) against every configured model, in configuration
// order, applying patience gating per model. features must hold at least
// maxWindow*EmbeddingDim values; callers should not invoke Predict until
// their feature buffer holds at least MinWindow frames (spec §4.4).
func (c *Classifier) Predict(features []float32) ([]Match, error) {
	var matches []Match
	for _, m := range c.models {
		if m.window > len(features)/EmbeddingDim {
			continue // not enough history yet for this particular model
		}
		start := m.offset * EmbeddingDim
		end := start + m.window*EmbeddingDim
		if start < 0 || end > len(features) {
			continue
		}
		slice := features[start:end]

		out, err := m.runner.RunFloats(slice)
		if err != nil {
			return matches, fmt.Errorf("wakeword: %s: %w", m.cfg.Name, err)
		}
		score := out[0]

		if score <= m.cfg.Threshold {
			m.count = 0
			continue
		}
		m.count++
		if m.count == m.cfg.Patience {
			matches = append(matches, Match{Name: m.cfg.Name, Score: score, Count: m.count})
		}
	}
	return matches, nil
}

// Reset clears every model's patience counter, e.g. after a capture reset.
func (c *Classifier) Reset() {
	for _, m := range c.models {
		m.count = 0
	}
}
