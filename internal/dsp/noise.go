package dsp

/*
#cgo pkg-config: rnnoise
#include <rnnoise.h>
#include <stdlib.h>
*/
import "C"
import "unsafe"

// rnnoiseFrameSize is RNNoise's native frame size regardless of the caller's
// declared sample rate. Our sub-chunks are 160 samples (10 ms @ 16 kHz); we
// zero-pad into RNNoise's 480-sample frame and take the leading 160 samples
// back, treating the library strictly as the black-box 10 ms processor the
// protocol describes rather than resampling to 48 kHz.
const rnnoiseFrameSize = 480

// denoiser wraps one RNNoise state, used for exactly one 10 ms sub-chunk
// group at a time (not safe for concurrent use; one per Processor).
type denoiser struct {
	st   *C.DenoiseState
	cIn  *C.float
	cOut *C.float
}

func newDenoiser() *denoiser {
	return &denoiser{
		st:   C.rnnoise_create(nil),
		cIn:  (*C.float)(C.malloc(C.size_t(rnnoiseFrameSize) * C.size_t(unsafe.Sizeof(C.float(0))))),
		cOut: (*C.float)(C.malloc(C.size_t(rnnoiseFrameSize) * C.size_t(unsafe.Sizeof(C.float(0))))),
	}
}

// process denoises buf (<=rnnoiseFrameSize int16 samples) in place, blended
// by level in [0,1], and returns RNNoise's voice-probability estimate for
// the frame.
func (d *denoiser) process(buf []int16, level float32) float32 {
	if level <= 0 {
		return 0
	}
	in := unsafe.Slice(d.cIn, rnnoiseFrameSize)
	out := unsafe.Slice(d.cOut, rnnoiseFrameSize)

	for i := range in {
		if i < len(buf) {
			in[i] = C.float(float32(buf[i]))
		} else {
			in[i] = 0
		}
	}
	vadProb := float32(C.rnnoise_process_frame(d.st, d.cOut, d.cIn))
	for i, s := range buf {
		denoised := float32(out[i])
		buf[i] = int16(float32(s)*(1-level) + denoised*level)
	}
	return vadProb
}

func (d *denoiser) destroy() {
	if d.st != nil {
		C.rnnoise_destroy(d.st)
		d.st = nil
	}
	if d.cIn != nil {
		C.free(unsafe.Pointer(d.cIn))
		d.cIn = nil
	}
	if d.cOut != nil {
		C.free(unsafe.Pointer(d.cOut))
		d.cOut = nil
	}
}
