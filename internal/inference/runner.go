// Package inference is a thin, uniform wrapper over ONNX Runtime (spec
// §4.2), generalising the per-model session setup that appears three times
// in the teacher's wakeword detector (melspectrogram, embedding, wakeword
// models) into a single reusable Runner type.
package inference

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hammamikhairi/voz/internal/vozerr"
)

// Runner wraps one ONNX Runtime session with exactly one input tensor and
// one output tensor. Not safe for concurrent use — each pipeline thread
// owns its own Runner (spec §5: "the TFLite runner is not thread-safe").
type Runner struct {
	path      string
	inName    string
	outName   string
	outShape  []int64
	threads   int
	useXNN    bool

	session    *ort.AdvancedSession
	input      *ort.Tensor[float32]
	output     *ort.Tensor[float32]
	inputShape []int64
}

// Load loads a model from path, builds an interpreter, optionally resizes
// input-0 to inputShape, and allocates tensors. threads sets the session's
// intra-op thread count; useXNN additionally registers the XNNPack
// execution provider (spec §4.2: "loaded with XNNPack enabled when ≥3 CPU
// cores are available").
//
// Fails with vozerr.ErrNotRunnable if the model has zero input or output
// tensors.
func Load(path string, threads int, useXNN bool, inputShape []int64) (*Runner, error) {
	inInfo, outInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inference: probe %s: %w", path, err)
	}
	if len(inInfo) == 0 || len(outInfo) == 0 {
		return nil, fmt.Errorf("inference: %s: %w", path, vozerr.ErrNotRunnable)
	}

	r := &Runner{
		path:     path,
		inName:   inInfo[0].Name,
		outName:  outInfo[0].Name,
		outShape: outInfo[0].Dimensions,
		threads:  threads,
		useXNN:   useXNN,
	}

	shape := inputShape
	if shape == nil {
		shape = inInfo[0].Dimensions
	}
	if err := r.buildSession(shape); err != nil {
		return nil, err
	}
	return r, nil
}

// buildSession (re)allocates the input/output tensors for shape and
// (re)builds the session bound to them, destroying any previous session
// first. ONNX Runtime's AdvancedSession binds tensors by reference at
// construction, so resizing input-0 means rebuilding the session rather
// than mutating it in place.
func (r *Runner) buildSession(shape []int64) error {
	inTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
	if err != nil {
		return fmt.Errorf("inference: alloc input for %s: %w", r.path, vozerr.ErrTensorAlloc)
	}
	outTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(r.outShape...))
	if err != nil {
		inTensor.Destroy()
		return fmt.Errorf("inference: alloc output for %s: %w", r.path, vozerr.ErrTensorAlloc)
	}

	opts, err := r.sessionOptions()
	if err != nil {
		inTensor.Destroy()
		outTensor.Destroy()
		return fmt.Errorf("inference: session options for %s: %w", r.path, err)
	}
	if opts != nil {
		defer opts.Destroy()
	}

	sess, err := ort.NewAdvancedSession(
		r.path,
		[]string{r.inName}, []string{r.outName},
		[]ort.Value{inTensor}, []ort.Value{outTensor},
		opts,
	)
	if err != nil {
		inTensor.Destroy()
		outTensor.Destroy()
		return fmt.Errorf("inference: build session for %s: %w", r.path, err)
	}

	if r.session != nil {
		r.session.Destroy()
		r.input.Destroy()
		r.output.Destroy()
	}
	r.session = sess
	r.input = inTensor
	r.output = outTensor
	r.inputShape = shape
	return nil
}

// sessionOptions builds the intra-op-thread-count/XNNPack options this
// Runner was loaded with. Returns a nil options pointer only when threads
// is unset and XNNPack wasn't requested, leaving ONNX Runtime's defaults in
// place.
func (r *Runner) sessionOptions() (*ort.SessionOptions, error) {
	if r.threads <= 0 && !r.useXNN {
		return nil, nil
	}
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	if r.threads > 0 {
		if err := opts.SetIntraOpNumThreads(r.threads); err != nil {
			opts.Destroy()
			return nil, err
		}
	}
	if r.useXNN {
		if err := opts.AppendExecutionProviderXnnpack(map[string]string{}); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("xnnpack: %w", err)
		}
	}
	return opts, nil
}

// SetInputShape resizes input-0, reallocates tensors, and refreshes the
// cached shape. Fails with vozerr.ErrTensorRuntime on engine error.
func (r *Runner) SetInputShape(shape []int64) error {
	if err := r.buildSession(shape); err != nil {
		return fmt.Errorf("%w", vozerr.ErrTensorRuntime)
	}
	return nil
}

// Run copies raw into the input tensor's backing buffer (its byte length
// must equal the current input-0 byte size) and invokes the session,
// returning a borrow of the output-0 buffer. The returned slice is valid
// only until the next Run, SetInputShape, or Destroy — callers needing the
// data past the next call must copy it.
func (r *Runner) Run(raw []byte) ([]float32, error) {
	data := r.input.GetData()
	wantBytes := len(data) * 4
	if len(raw) != wantBytes {
		return nil, fmt.Errorf("inference: run: input is %d bytes, raw is %d bytes: %w", wantBytes, len(raw), vozerr.ErrTensorRuntime)
	}
	for i := range data {
		off := i * 4
		bits := uint32(raw[off]) | uint32(raw[off+1])<<8 | uint32(raw[off+2])<<16 | uint32(raw[off+3])<<24
		data[i] = math.Float32frombits(bits)
	}
	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("inference: invoke: %w", vozerr.ErrTensorRuntime)
	}
	return r.output.GetData(), nil
}

// RunFloats is like Run but takes pre-decoded float32 input, avoiding a
// byte round-trip for callers (mel/embedding stages) that already produce
// float32 slices.
func (r *Runner) RunFloats(in []float32) ([]float32, error) {
	data := r.input.GetData()
	if len(in) != len(data) {
		return nil, fmt.Errorf("inference: run: input is %d floats, got %d: %w", len(data), len(in), vozerr.ErrTensorRuntime)
	}
	copy(data, in)
	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("inference: invoke: %w", vozerr.ErrTensorRuntime)
	}
	return r.output.GetData(), nil
}

// InputShape returns the cached input-0 dimension vector.
func (r *Runner) InputShape() []int64 { return r.inputShape }

// OutputShape returns the cached output-0 dimension vector.
func (r *Runner) OutputShape() []int64 { return r.outShape }

// Destroy releases the session and tensors. Safe to call once per Runner.
func (r *Runner) Destroy() {
	if r.session != nil {
		r.session.Destroy()
	}
	if r.input != nil {
		r.input.Destroy()
	}
	if r.output != nil {
		r.output.Destroy()
	}
}
