package capture

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammamikhairi/voz/internal/logger"
	"github.com/hammamikhairi/voz/internal/rollbuffer"
)

type pipeSource struct{ f *os.File }

func (p *pipeSource) Read(buf []byte) (int, error) { return p.f.Read(buf) }
func (p *pipeSource) Fd() uintptr                  { return p.f.Fd() }

func TestThreadAppendsCompleteChunks(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	out := rollbuffer.NewSync[int16](4096, false)
	log := logger.New(logger.LevelOff, nil)
	cfg := Config{ChunkTimeMs: 50, ChunkSamples: 4}
	th := New(&pipeSource{f: r}, cfg, nil, out, Flags{}, log)

	done := make(chan struct{})
	go func() { th.Run(); close(done) }()

	// 4 int16 samples, little-endian, one full chunk.
	_, err = w.Write([]byte{1, 0, 2, 0, 3, 0, 4, 0})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	l := out.WaitAtLeast(4)
	assert.GreaterOrEqual(t, l.Len(), 4)
	l.Release()

	w.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("capture thread did not exit on EOF")
	}
	assert.True(t, out.Status().Cancel)
}

func TestThreadHonoursStopFlag(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	out := rollbuffer.NewSync[int16](64, false)
	log := logger.New(logger.LevelOff, nil)
	cfg := Config{ChunkTimeMs: 10, ChunkSamples: 4}

	stopped := false
	flags := Flags{Stop: func() bool { return stopped }}
	th := New(&pipeSource{f: r}, cfg, nil, out, flags, log)

	done := make(chan struct{})
	go func() { th.Run(); close(done) }()

	time.Sleep(30 * time.Millisecond)
	stopped = true

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("capture thread did not exit on stop flag")
	}
}
