package wakeword

import (
	"github.com/hammamikhairi/voz/internal/logger"
	"github.com/hammamikhairi/voz/internal/rollbuffer"
)

// Stage runs the wake-word outer loop (spec §4.4): block for at least
// MaxWindow embeddings, predict, shift the window by one embedding, repeat.
// Intended to run in its own goroutine, downstream of features.Pipeline.
type Stage struct {
	classifier *Classifier
	in         *rollbuffer.SyncRollBuffer[[EmbeddingDim]float32]
	out        *rollbuffer.SyncRollBuffer[Match]
	log        *logger.Logger
}

// NewStage wires a Classifier between an embedding input buffer and a match
// output buffer.
func NewStage(c *Classifier, in *rollbuffer.SyncRollBuffer[[EmbeddingDim]float32], out *rollbuffer.SyncRollBuffer[Match], log *logger.Logger) *Stage {
	return &Stage{classifier: c, in: in, out: out, log: log}
}

// Run executes the outer loop until the input buffer is cancelled.
func (s *Stage) Run() {
	for {
		l := s.in.WaitAtLeast(s.classifier.MaxWindow())
		st := l.Status()
		if l.Len() < s.classifier.MaxWindow() {
			l.ClearReset()
			l.ReleaseAndSignal()
			if st.Cancel {
				s.out.Cancel()
				return
			}
			if st.Reset {
				s.classifier.Reset()
				s.out.Reset()
			}
			continue
		}

		window := l.Get()[:s.classifier.MaxWindow()]
		flat := make([]float32, 0, len(window)*EmbeddingDim)
		for _, emb := range window {
			flat = append(flat, emb[:]...)
		}
		l.Shift(1)
		l.ClearReset()
		l.ReleaseAndSignal()

		matches, err := s.classifier.Predict(flat)
		if err != nil {
			s.log.Warn("wakeword: predict: %v", err)
			continue
		}
		for _, m := range matches {
			s.out.AppendOne(m)
			s.log.Info("wakeword: match %s score=%.3f count=%d", m.Name, m.Score, m.Count)
		}

		if st.Cancel {
			s.out.Cancel()
			return
		}
		if st.Reset {
			s.classifier.Reset()
			s.out.Reset()
		}
	}
}
