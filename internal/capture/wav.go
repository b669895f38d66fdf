package capture

import (
	"encoding/binary"
	"fmt"
	"io"
)

// wavHeaderSize is the fixed canonical PCM WAV header size this system
// checks (spec §4.5: "read a fixed 44-byte header first").
const wavHeaderSize = 44

// wavHeader is the subset of RIFF/WAVE fields the protocol validates.
type wavHeader struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
	Subchunk2ID   [4]byte
}

// SniffWAV reads the leading 44 bytes of r and reports whether they form a
// valid 16 kHz mono 16-bit PCM WAV header per spec §4.5 (AudioFormat=1,
// NumChannels=1, SampleRate=16000, BitsPerSample=16,
// Subchunk2ID[0]='d',[3]='a'). If the header is invalid, the caller should
// fall back to treating the already-consumed 44 bytes plus the rest of r as
// raw PCM — SniffWAV returns the 44 bytes read regardless of validity so
// the caller can still replay them.
func SniffWAV(r io.Reader) (valid bool, header []byte, err error) {
	buf := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false, nil, fmt.Errorf("capture: read wav header: %w", err)
	}

	var h wavHeader
	h.AudioFormat = binary.LittleEndian.Uint16(buf[20:22])
	h.NumChannels = binary.LittleEndian.Uint16(buf[22:24])
	h.SampleRate = binary.LittleEndian.Uint32(buf[24:28])
	h.BitsPerSample = binary.LittleEndian.Uint16(buf[34:36])
	copy(h.Subchunk2ID[:], buf[36:40])

	valid = h.AudioFormat == 1 &&
		h.NumChannels == 1 &&
		h.SampleRate == 16000 &&
		h.BitsPerSample == 16 &&
		h.Subchunk2ID[0] == 'd' &&
		h.Subchunk2ID[3] == 'a'

	return valid, buf, nil
}

// PrefixedSource wraps a Source, replaying a leading byte slice (typically
// an invalid WAV header that must be treated as raw PCM instead) before
// falling through to the underlying source's own reads. Fd() delegates to
// the wrapped source so polling still works.
type PrefixedSource struct {
	prefix []byte
	off    int
	inner  Source
}

// NewPrefixedSource builds a PrefixedSource that yields prefix before inner.
func NewPrefixedSource(prefix []byte, inner Source) *PrefixedSource {
	return &PrefixedSource{prefix: prefix, inner: inner}
}

func (p *PrefixedSource) Read(buf []byte) (int, error) {
	if p.off < len(p.prefix) {
		n := copy(buf, p.prefix[p.off:])
		p.off += n
		return n, nil
	}
	return p.inner.Read(buf)
}

func (p *PrefixedSource) Fd() uintptr { return p.inner.Fd() }
