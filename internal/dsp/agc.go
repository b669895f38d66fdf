package dsp

import "math"

// agc is a minimal automatic gain control processor over int16 PCM,
// adapted from the float32/48kHz AGC algorithm to operate on the 10 ms
// int16 sub-chunks this pipeline processes.
type agc struct {
	target float64
	gain   float64
}

const (
	agcMinGain     = 0.1
	agcMaxGain     = 10.0
	agcAttackCoeff = 0.80
	agcReleaseCoeff = 0.02
	agcMinRMS      = 16.0 // silence floor, in int16 RMS units
)

func newAGC() *agc { return &agc{target: 0.2 * 32767, gain: 1.0} }

// setLevel maps the protocol's [0,31] autogain knob onto a target RMS.
func (a *agc) setLevel(level int) {
	if level < 0 {
		level = 0
	}
	if level > 31 {
		level = 31
	}
	frac := float64(level) / 31.0
	a.target = (0.02 + frac*0.4) * 32767
}

// process applies the current gain in place and updates the gain estimate
// from buf's RMS, mirroring the float32 AGC's attack/release smoothing.
func (a *agc) process(buf []int16) {
	if len(buf) == 0 {
		return
	}
	rms := int16RMS(buf)

	for i, s := range buf {
		v := float64(s) * a.gain
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		buf[i] = int16(v)
	}

	if rms < agcMinRMS {
		return
	}

	desired := a.target / float64(rms)
	if desired < agcMinGain {
		desired = agcMinGain
	} else if desired > agcMaxGain {
		desired = agcMaxGain
	}

	coeff := agcReleaseCoeff
	if desired < a.gain {
		coeff = agcAttackCoeff
	}
	a.gain += coeff * (desired - a.gain)
}

func (a *agc) reset() { a.gain = 1.0 }

func int16RMS(buf []int16) float64 {
	var sum float64
	for _, s := range buf {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(buf)))
}
