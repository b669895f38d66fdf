// Package features implements the audio feature pipeline (spec §4.3): the
// PCM -> mel-spectrogram -> embedding producer/consumer chain that runs as
// its own goroutine between the capture stage and the wake-word stage.
//
// Grounded on the teacher's wakeword.Detector.Start loop (mel model ->
// rescale -> embedding model), restructured from one monolithic function
// into the RollBuffer-mediated stage architecture spec §4.3/§5 require.
package features

import (
	"fmt"

	"github.com/hammamikhairi/voz/internal/logger"
	"github.com/hammamikhairi/voz/internal/rollbuffer"
)

const (
	// ChunkSamples is 80 ms @ 16 kHz.
	ChunkSamples = 1280
	// FrameSamples is 4 chunks, 320 ms.
	FrameSamples = 4 * ChunkSamples
	// OverlapSamples is 30 ms carried forward from the previous frame.
	OverlapSamples = 480
	// WindowSamples is overlap + frame, the model's per-step input size.
	WindowSamples = OverlapSamples + FrameSamples

	// MelBins is the width of one mel-spectrogram row.
	MelBins = 32
	// EmbeddingDim is the width of one embedding vector.
	EmbeddingDim = 96
	// MelWindowRows is how many mel rows the embedding model consumes.
	MelWindowRows = 76

	// MaxErrorsAllowed aborts the pipeline thread after this many
	// accumulated per-iteration failures (spec §4.3).
	MaxErrorsAllowed = 10
)

// MelRunner is the subset of inference.Runner this pipeline needs for the
// mel-spectrogram model. Kept as an interface so scenario S2 ("stub the mel
// runner") can inject a fake without touching ONNX Runtime.
type MelRunner interface {
	RunFloats(in []float32) ([]float32, error)
	SetInputShape(shape []int64) error
}

// EmbedRunner is the subset of inference.Runner this pipeline needs for the
// embedding model.
type EmbedRunner interface {
	RunFloats(in []float32) ([]float32, error)
}

// Stats are the pipeline's error/throughput counters, updated only by the
// owning goroutine (spec §5: "stats counters are updated only by their
// owning thread").
type Stats struct {
	Errors     int
	Embeddings int
}

// Pipeline runs process_input -> to_mels -> to_features each iteration,
// reading PCM from In and writing [EmbeddingDim]float32 vectors to Out.
type Pipeline struct {
	mel   MelRunner
	embed EmbedRunner
	melsPerChunk int // M: the mel model's per-chunk row count (probed at bind time)

	in  *rollbuffer.SyncRollBuffer[int16]
	out *rollbuffer.SyncRollBuffer[[EmbeddingDim]float32]

	log *logger.Logger

	// scratch state, touched only by Run's goroutine
	inputBuf []float32 // frame scratch, cleared on warm-up (processInput allocates each frame afresh)
	melBuf   *rollbuffer.RollBuffer[[MelBins]float32]
	stats    Stats
}

// New creates a Pipeline. melsPerChunk is the probed per-chunk mel row
// count M (spec §4.3: "typically 8"). melBufCap must be
// (76-melsPerChunk)+perFrameMels per spec §3.
func New(mel MelRunner, embed EmbedRunner, melsPerChunk int, melBufCap int,
	in *rollbuffer.SyncRollBuffer[int16], out *rollbuffer.SyncRollBuffer[[EmbeddingDim]float32],
	log *logger.Logger,
) *Pipeline {
	p := &Pipeline{
		mel:          mel,
		embed:        embed,
		melsPerChunk: melsPerChunk,
		in:           in,
		out:          out,
		log:          log,
		melBuf:       rollbuffer.New[[MelBins]float32](melBufCap),
	}
	p.warmMels()
	return p
}

// warmMels prefills the mel buffer with (76-M) all-ones rows, the unit-mel
// "warm-up" expected by the embedding model (spec §4.3).
func (p *Pipeline) warmMels() {
	p.melBuf.Reset()
	ones := [MelBins]float32{}
	for i := range ones {
		ones[i] = 1.0
	}
	prefix := MelWindowRows - p.melsPerChunk
	if prefix < 0 {
		prefix = 0
	}
	rows := make([][MelBins]float32, prefix)
	for i := range rows {
		rows[i] = ones
	}
	p.melBuf.Append(rows)
}

// warmInput clears the input buffer and prefills it with OverlapSamples zero
// samples so the first real frame has valid 30 ms leading context (spec
// §4.3), and clears the pipeline's own frame scratch.
func (p *Pipeline) warmInput(input *rollbuffer.SyncRollBuffer[int16]) {
	p.inputBuf = p.inputBuf[:0]
	l := input.WaitAtLeast(0)
	l.Reset()
	l.Append(make([]int16, OverlapSamples))
	l.Release()
}

// Run executes the pipeline loop until cancelled. Intended to run in its
// own goroutine.
func (p *Pipeline) Run() {
	p.warmInput(p.in)
	for {
		if p.stats.Errors >= MaxErrorsAllowed {
			return // recordError has already cancelled the output
		}
		frame, status, ok := p.processInput()
		if !ok {
			if status.Cancel {
				p.out.Cancel()
				return
			}
			if status.Reset {
				p.warmMels()
				p.warmInput(p.in)
				p.out.Reset()
				continue
			}
			continue
		}

		if err := p.toMels(frame); err != nil {
			p.recordError(err)
			continue
		}
		appended := p.toFeatures()
		if appended > 0 {
			p.log.Debug("features: appended %d embeddings (total=%d)", appended, p.stats.Embeddings)
		}

		if status.Cancel {
			p.out.Cancel()
			return
		}
		if status.Reset {
			p.warmMels()
			p.warmInput(p.in)
			p.out.Reset()
		}
	}
}

// processInput waits for frame+overlap samples, copy-converts them into a
// newly allocated float32 frame, shifts the input buffer by frame, and returns the
// status observed at wake time. ok is false when the wait woke on a flag
// before a full frame was available.
func (p *Pipeline) processInput() (frame []float32, status rollbuffer.Status, ok bool) {
	l := p.in.WaitAtLeast(WindowSamples)
	st := l.Status()
	if l.Len() < WindowSamples {
		l.ClearReset()
		l.ReleaseAndSignal()
		return nil, st, false
	}

	samples := l.Get()[:WindowSamples]
	out := make([]float32, WindowSamples)
	for i, s := range samples {
		out[i] = float32(s)
	}
	l.Shift(FrameSamples)
	l.ClearReset()
	l.ReleaseAndSignal()
	return out, st, true
}

// toMels invokes the mel model on frame, rescales (y = x*0.1 + 2, spec
// §4.3), and appends the result into the mel buffer.
func (p *Pipeline) toMels(frame []float32) error {
	raw, err := p.mel.RunFloats(frame)
	if err != nil {
		return fmt.Errorf("features: mel model: %w", err)
	}
	n := len(raw) / MelBins
	rows := make([][MelBins]float32, n)
	for i := 0; i < n; i++ {
		var row [MelBins]float32
		for b := 0; b < MelBins; b++ {
			row[b] = raw[i*MelBins+b]*0.1 + 2.0
		}
		rows[i] = row
	}
	p.melBuf.Append(rows)
	return nil
}

// toFeatures invokes the embedding model while the mel buffer holds >= 76
// rows, shifting the mel buffer by M (melsPerChunk) after each invocation,
// and appending each 96-float embedding under the output buffer's lock.
// Returns the number of embeddings appended.
func (p *Pipeline) toFeatures() int {
	appended := 0
	var batch [][EmbeddingDim]float32

	for p.melBuf.Len() >= MelWindowRows {
		window := p.melBuf.Get()[:MelWindowRows]
		flat := make([]float32, 0, MelWindowRows*MelBins)
		for _, row := range window {
			flat = append(flat, row[:]...)
		}
		out, err := p.embed.RunFloats(flat)
		if err != nil {
			p.recordError(fmt.Errorf("features: embedding model: %w", err))
			break
		}
		var emb [EmbeddingDim]float32
		copy(emb[:], out)
		batch = append(batch, emb)
		p.melBuf.Shift(p.melsPerChunk)
		appended++
	}

	if len(batch) > 0 {
		p.out.Append(batch)
		p.stats.Embeddings += len(batch)
	}
	return appended
}

// recordError logs and counts one swallowed per-iteration error (spec
// §4.3). Once MaxErrorsAllowed errors have accumulated it also cancels the
// output buffer, and Run returns at the top of its next iteration.
func (p *Pipeline) recordError(err error) {
	p.stats.Errors++
	p.log.Warn("features: iteration error (%d/%d): %v", p.stats.Errors, MaxErrorsAllowed, err)
	if p.stats.Errors >= MaxErrorsAllowed {
		p.log.Error("features: too many errors, aborting pipeline")
		p.out.Cancel()
	}
}

// Stats returns a snapshot of the pipeline's counters.
func (p *Pipeline) Stats() Stats { return p.stats }
