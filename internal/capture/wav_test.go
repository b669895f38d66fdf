package capture

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildWavHeader(format, channels uint16, rate uint32, bits uint16, subchunk2 string) []byte {
	buf := make([]byte, wavHeaderSize)
	copy(buf[0:4], "RIFF")
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint16(buf[20:22], format)
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], rate)
	binary.LittleEndian.PutUint16(buf[34:36], bits)
	copy(buf[36:40], subchunk2)
	return buf
}

func TestSniffWAVValidHeader(t *testing.T) {
	h := buildWavHeader(1, 1, 16000, 16, "data")
	valid, got, err := SniffWAV(bytes.NewReader(h))
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, h, got)
}

func TestSniffWAVRejectsWrongSampleRate(t *testing.T) {
	h := buildWavHeader(1, 1, 44100, 16, "data")
	valid, _, err := SniffWAV(bytes.NewReader(h))
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestSniffWAVRejectsStereo(t *testing.T) {
	h := buildWavHeader(1, 2, 16000, 16, "data")
	valid, _, err := SniffWAV(bytes.NewReader(h))
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestSniffWAVTooShort(t *testing.T) {
	_, _, err := SniffWAV(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}

type fakeSource struct {
	r *bytes.Reader
}

func (f *fakeSource) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *fakeSource) Fd() uintptr                { return 0 }

func TestPrefixedSourceReplaysPrefixThenInner(t *testing.T) {
	inner := &fakeSource{r: bytes.NewReader([]byte("REST"))}
	src := NewPrefixedSource([]byte("PRE-"), inner)

	all, err := io.ReadAll(struct{ io.Reader }{src})
	require.NoError(t, err)
	assert.Equal(t, "PRE-REST", string(all))
}
