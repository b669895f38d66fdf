// Package dsp implements the 10 ms sub-chunk DSP processor (spec §4.5's DSP
// half): preamp, autogain, RNNoise suppression, and VAD, composed behind a
// single Processor instantiated only when one of those is actually
// requested.
//
// Grounded on rustyguts-bken/client's noise.go (cgo RNNoise wrapper) and
// internal/agc, internal/vad (the adapted algorithms above), generalized
// from their 48 kHz float32 pipeline to this system's 16 kHz int16
// sub-chunks.
package dsp

import "fmt"

// SubChunkSamples is 10 ms @ 16 kHz.
const SubChunkSamples = 160

// MaxSubChunksPerChunk bounds how many 10 ms sub-chunks the VAD byte can
// pack (one bit each, MSB first).
const MaxSubChunksPerChunk = 8

// Config selects which stages a Processor runs.
type Config struct {
	NoiseLevel int     // [0,4]; 0 disables suppression
	AutoGain   int      // [0,31]; 0 disables AGC
	Preamp     float32 // multiplicative pre-gain; 1.0 is a no-op
	VAD        bool
}

// clamp applies the protocol's documented ranges.
func (c Config) clamp() Config {
	if c.NoiseLevel < 0 {
		c.NoiseLevel = 0
	}
	if c.NoiseLevel > 4 {
		c.NoiseLevel = 4
	}
	if c.AutoGain < 0 {
		c.AutoGain = 0
	}
	if c.AutoGain > 31 {
		c.AutoGain = 31
	}
	return c
}

// Needed reports whether cfg requires a Processor at all (spec §4.5: "A
// processor is instantiated only if any of noise_level>0, autogain>0,
// preamp != 1.0, or vad is requested").
func Needed(cfg Config) bool {
	return cfg.NoiseLevel > 0 || cfg.AutoGain > 0 || cfg.Preamp != 1.0 || cfg.VAD
}

// Processor runs the configured DSP stages over successive 10 ms
// sub-chunks. Not safe for concurrent use.
type Processor struct {
	cfg Config

	denoise *denoiser
	gain    *agc
	detect  *vad
}

// New builds a Processor for cfg, clamping noise_level/autogain to their
// protocol ranges. Callers should check Needed(cfg) first; New still works
// (as a no-op pass-through) when nothing is requested.
func New(cfg Config) *Processor {
	cfg = cfg.clamp()
	p := &Processor{cfg: cfg}
	if cfg.NoiseLevel > 0 {
		p.denoise = newDenoiser()
	}
	if cfg.AutoGain > 0 {
		p.gain = newAGC()
		p.gain.setLevel(cfg.AutoGain)
	}
	if cfg.VAD {
		p.detect = newVAD()
	}
	return p
}

// Process10ms mutates buf (exactly SubChunkSamples int16) in place, running
// preamp, AGC, and noise suppression in that order, then returns the VAD
// bit for the sub-chunk (0 when VAD is disabled).
func (p *Processor) Process10ms(buf []int16) byte {
	if len(buf) != SubChunkSamples {
		panic(fmt.Sprintf("dsp: sub-chunk must be %d samples, got %d", SubChunkSamples, len(buf)))
	}

	if p.cfg.Preamp != 1.0 {
		for i, s := range buf {
			v := float32(s) * p.cfg.Preamp
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			buf[i] = int16(v)
		}
	}

	if p.gain != nil {
		p.gain.process(buf)
	}

	var prob float32
	haveProb := false
	if p.denoise != nil {
		level := float32(p.cfg.NoiseLevel) / 4.0
		prob = p.denoise.process(buf, level)
		haveProb = true
	}

	if p.detect == nil {
		return 0
	}
	rms := float32(int16RMS(buf))
	return p.detect.decide(rms, prob, haveProb)
}

// ProcessChunk sub-divides buf into chunk/10ms sub-chunks (1..8), DSPs each
// in place via Process10ms, and packs the aggregated VAD byte MSB-first:
// res = res<<1 | vad_i (spec §9's sub-chunk VAD packing note). Panics if
// len(buf) is not a multiple of SubChunkSamples or yields more than
// MaxSubChunksPerChunk sub-chunks.
func (p *Processor) ProcessChunk(buf []int16) byte {
	if len(buf)%SubChunkSamples != 0 {
		panic(fmt.Sprintf("dsp: chunk length %d is not a multiple of %d", len(buf), SubChunkSamples))
	}
	n := len(buf) / SubChunkSamples
	if n < 1 || n > MaxSubChunksPerChunk {
		panic(fmt.Sprintf("dsp: chunk/10ms must be in [1,%d], got %d", MaxSubChunksPerChunk, n))
	}

	var res byte
	for i := 0; i < n; i++ {
		sub := buf[i*SubChunkSamples : (i+1)*SubChunkSamples]
		vadBit := p.Process10ms(sub)
		res = (res << 1) | vadBit
	}
	return res
}

// Reset clears AGC and VAD running state (e.g. on a capture reset).
func (p *Processor) Reset() {
	if p.gain != nil {
		p.gain.reset()
	}
	if p.detect != nil {
		p.detect.reset()
	}
}

// Destroy releases any cgo-backed resources. Safe to call once.
func (p *Processor) Destroy() {
	if p.denoise != nil {
		p.denoise.destroy()
	}
}
