package bridge

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammamikhairi/voz/internal/catalog"
	"github.com/hammamikhairi/voz/internal/logger"
	"github.com/hammamikhairi/voz/internal/serial"
)

// bufPort is an in-memory uartPort: writes accumulate in a thread-safe
// buffer, reads are unused by these tests (they call handleFrame directly
// rather than driving the background readLoop).
type bufPort struct {
	mu  sync.Mutex
	out bytes.Buffer
}

func (p *bufPort) Read(b []byte) (int, error) { return 0, nil }
func (p *bufPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}
func (p *bufPort) Close() error { return nil }

func (p *bufPort) readAllFrames(t *testing.T) []serial.Frame {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	r := serial.NewReader(bytes.NewReader(p.out.Bytes()))
	var frames []serial.Frame
	for {
		f, err := r.ReadFrame()
		if err != nil {
			break
		}
		frames = append(frames, f)
	}
	return frames
}

func newTestBridge(t *testing.T, dir string) (*Bridge, *bufPort) {
	t.Helper()
	cat, err := catalog.Load(dir)
	require.NoError(t, err)
	port := &bufPort{}
	b := New(Config{OwwBinPath: "/bin/true", PreBinPath: "/bin/true"}, logger.New(logger.LevelOff, nil), port, cat, nil)
	return b, port
}

func writeModel(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("fake"), 0o644))
}

func TestWwConfRestartsChildAndUpdatesMask(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "a.onnx")
	writeModel(t, dir, "b.onnx")
	b, port := newTestBridge(t, dir)

	require.NoError(t, b.transition(WakeWord))
	require.NotNil(t, b.sup)
	firstPid := b.sup.Pid()
	require.NotZero(t, firstPid)

	conf := serial.WwEntryConf{Index: 1, Enabled: 1, Threshold: 0.6, Patience: 2}
	err := b.handleFrame(serial.Frame{ID: serial.WwConf, Payload: serial.EncodeWwConf(conf)})
	require.NoError(t, err)

	assert.Equal(t, uint16(0b11), b.cat.Mask())
	require.NotNil(t, b.sup)
	assert.NotEqual(t, firstPid, b.sup.Pid())

	frames := port.readAllFrames(t)
	var sawEcho, sawStatus bool
	for _, f := range frames {
		switch f.ID {
		case serial.WwStatus:
			p, err := serial.DecodeWwStatus(f.Payload)
			require.NoError(t, err)
			if p.Conf.Index == 1 {
				sawEcho = true
				assert.Equal(t, uint8(1), p.Conf.Enabled)
				assert.InDelta(t, 0.6, p.Conf.Threshold, 1e-6)
				assert.Equal(t, uint8(2), p.Conf.Patience)
			}
		case serial.Status:
			p, err := serial.DecodeStatus(f.Payload)
			require.NoError(t, err)
			if p.WakewordMask == 0b11 {
				sawStatus = true
			}
		}
	}
	assert.True(t, sawEcho, "expected a WwStatus echo for index 1")
	assert.True(t, sawStatus, "expected a Status frame carrying the refreshed wakeword mask")

	b.stopChild()
}

func TestWwListClearZeroesMaskAndEmitsStatus(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "a.onnx")
	b, port := newTestBridge(t, dir)
	require.Equal(t, uint16(1), b.cat.Mask())

	err := b.handleFrame(serial.Frame{ID: serial.WwList, Payload: serial.EncodeWwList(serial.WwListPayload{Clear: 1})})
	require.NoError(t, err)
	assert.Equal(t, uint16(0), b.cat.Mask())

	frames := port.readAllFrames(t)
	var sawStatus bool
	for _, f := range frames {
		if f.ID == serial.Status {
			sawStatus = true
		}
	}
	assert.True(t, sawStatus)
}

func TestArsetSuppressesSubsequentAudioFrames(t *testing.T) {
	dir := t.TempDir()
	b, _ := newTestBridge(t, dir)

	err := b.handleFrame(serial.Frame{ID: serial.Areset, Payload: serial.EncodeAreset(serial.AresetPayload{RefracFrames: 2})})
	require.NoError(t, err)
	assert.Equal(t, 2, b.refrac)

	b.forwardAudio(serial.Frame{ID: serial.Audio, Payload: []byte{1, 2, 3, 4}})
	assert.Equal(t, 1, b.refrac)
	b.forwardAudio(serial.Frame{ID: serial.Audio, Payload: []byte{1, 2, 3, 4}})
	assert.Equal(t, 0, b.refrac)
	assert.Equal(t, uint32(2), b.framesIn)
}

func TestConfigChangeRestartsRunningChild(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "a.onnx")
	b, _ := newTestBridge(t, dir)

	require.NoError(t, b.transition(WakeWord))
	firstPid := b.sup.Pid()

	err := b.handleFrame(serial.Frame{ID: serial.Config, Payload: serial.EncodeAudioConf(serial.AudioConfPayload{Preamp: 2.0, NoiseLvl: 1, AutoGain: 5, VAD: 1})})
	require.NoError(t, err)

	assert.NotEqual(t, firstPid, b.sup.Pid())
	assert.InDelta(t, 2.0, b.audioConf.Preamp, 1e-6)
	b.stopChild()
}
