package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeeded(t *testing.T) {
	assert.False(t, Needed(Config{Preamp: 1.0}))
	assert.True(t, Needed(Config{Preamp: 1.5}))
	assert.True(t, Needed(Config{AutoGain: 5, Preamp: 1.0}))
	assert.True(t, Needed(Config{VAD: true, Preamp: 1.0}))
}

func TestConfigClamp(t *testing.T) {
	c := Config{NoiseLevel: 99, AutoGain: -5}.clamp()
	assert.Equal(t, 4, c.NoiseLevel)
	assert.Equal(t, 0, c.AutoGain)
}

func TestProcess10msPreampOnly(t *testing.T) {
	p := New(Config{Preamp: 2.0})
	buf := make([]int16, SubChunkSamples)
	buf[0] = 100
	vadBit := p.Process10ms(buf)
	assert.Equal(t, int16(200), buf[0])
	assert.Equal(t, byte(0), vadBit) // VAD disabled
}

func TestProcess10msPreampClamps(t *testing.T) {
	p := New(Config{Preamp: 1000})
	buf := make([]int16, SubChunkSamples)
	buf[0] = 1000
	p.Process10ms(buf)
	assert.Equal(t, int16(32767), buf[0])
}

func TestProcessChunkPacksVADBitsMSBFirst(t *testing.T) {
	p := New(Config{VAD: true})
	buf := make([]int16, SubChunkSamples*3)
	// make the last sub-chunk loud (speech), the first two silent.
	for i := 2 * SubChunkSamples; i < 3*SubChunkSamples; i++ {
		buf[i] = 20000
	}
	res := p.ProcessChunk(buf)
	// sub-chunks 0,1 silent -> bits 0,0 (no hangover yet); sub-chunk 2
	// speech -> bit 1. MSB-first packing puts sub-chunk 0 in the highest of
	// the three bits, so the result is 0b001 (LSB-first would give 0b100).
	assert.Equal(t, byte(0b001), res)
}

func TestProcessChunkRejectsTooManySubChunks(t *testing.T) {
	p := New(Config{VAD: true})
	buf := make([]int16, SubChunkSamples*9)
	assert.Panics(t, func() { p.ProcessChunk(buf) })
}

func TestProcessChunkRejectsNonMultiple(t *testing.T) {
	p := New(Config{VAD: true})
	buf := make([]int16, SubChunkSamples+1)
	assert.Panics(t, func() { p.ProcessChunk(buf) })
}

func TestAGCReducesLoudSignalTowardTarget(t *testing.T) {
	a := newAGC()
	a.setLevel(10)
	buf := make([]int16, SubChunkSamples)
	for i := range buf {
		buf[i] = 30000
	}
	for i := 0; i < 50; i++ {
		cp := make([]int16, len(buf))
		copy(cp, buf)
		a.process(cp)
	}
	assert.Less(t, a.gain, 1.0)
}

func TestVADHangoverKeepsSendingAfterSpeech(t *testing.T) {
	v := newVAD()
	assert.Equal(t, byte(1), v.decide(20000, 0, false)) // loud -> speech
	for i := 0; i < vadDefaultHangover; i++ {
		assert.Equal(t, byte(1), v.decide(0, 0, false))
	}
	assert.Equal(t, byte(0), v.decide(0, 0, false)) // hangover exhausted
}
