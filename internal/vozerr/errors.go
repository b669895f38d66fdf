// Package vozerr declares the sentinel error kinds shared across the voz
// subsystems (spec §7: IoError, TensorAllocError, TensorRuntimeError,
// FrameFormatError, ConfigError, ChildIoError, InternalError).
package vozerr

import "errors"

// Sentinel errors used across layers. Wrap with fmt.Errorf("...: %w", Err...)
// at the call site and test with errors.Is.
var (
	ErrIO            = errors.New("io error")
	ErrTensorAlloc   = errors.New("tensor allocation error")
	ErrTensorRuntime = errors.New("tensor runtime error")
	ErrFrameFormat   = errors.New("frame format error")
	ErrConfig        = errors.New("config error")
	ErrChildIO       = errors.New("child io error")
	ErrInternal      = errors.New("internal error")
	ErrNotRunnable   = errors.New("model has no input or output tensors")
)

// FrameKind distinguishes the sub-kinds of FrameFormatError listed in spec §7.
type FrameKind int

const (
	NoSOH FrameKind = iota
	HeaderIntegrity
	PayloadTooBig
	InvalidPayloadLen
	PayloadChecksum
	UnknownEvent
	IncompleteEvent
)

func (k FrameKind) String() string {
	switch k {
	case NoSOH:
		return "NoSOH"
	case HeaderIntegrity:
		return "HeaderIntegrity"
	case PayloadTooBig:
		return "PayloadTooBig"
	case InvalidPayloadLen:
		return "InvalidPayloadLen"
	case PayloadChecksum:
		return "PayloadChecksum"
	case UnknownEvent:
		return "UnknownEvent"
	case IncompleteEvent:
		return "IncompleteEvent"
	default:
		return "Unknown"
	}
}

// FrameError carries the specific sub-kind of a framing failure. It unwraps
// to ErrFrameFormat so callers can use errors.Is(err, vozerr.ErrFrameFormat)
// without caring about the sub-kind, or errors.As to inspect Kind.
type FrameError struct {
	Kind FrameKind
	Msg  string
}

func (e *FrameError) Error() string {
	if e.Msg == "" {
		return "frame format error: " + e.Kind.String()
	}
	return "frame format error: " + e.Kind.String() + ": " + e.Msg
}

func (e *FrameError) Unwrap() error { return ErrFrameFormat }

// NewFrameError builds a FrameError of the given kind.
func NewFrameError(kind FrameKind, msg string) *FrameError {
	return &FrameError{Kind: kind, Msg: msg}
}
