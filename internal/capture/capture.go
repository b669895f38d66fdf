// Package capture implements the capture + DSP thread (spec §4.5's capture
// half): poll a PCM source on a timeout, accumulate complete chunks, run
// them through the DSP processor in place, and feed a RollBuffer.
//
// Grounded on internal/speech/ear.go's monitor loop (select on done/cancel,
// blocking Read, RMS accumulation) — generalized here from a PortAudio
// device polled by blocking Read to a generic file descriptor polled with
// golang.org/x/sys/unix.Poll on a chunk-time timeout, per spec §4.5's
// "poll the input descriptor" contract.
package capture

import (
	"encoding/binary"
	"io"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hammamikhairi/voz/internal/dsp"
	"github.com/hammamikhairi/voz/internal/logger"
	"github.com/hammamikhairi/voz/internal/rollbuffer"
)

// Config tunes one capture thread.
type Config struct {
	ChunkTimeMs   int  // poll timeout and chunk period
	ChunkSamples  int  // samples (int16) per chunk
	Sync          bool // pace wall time to audio time (file playback)
}

// Source is the minimal descriptor a capture thread needs: something
// pollable by file descriptor and readable as a stream of bytes.
type Source interface {
	io.Reader
	Fd() uintptr
}

// Flags are externally toggled control bits the owning command (voz-oww)
// uses to drive a running capture thread (spec §4.5: "reset"/"stop" flags).
type Flags struct {
	Reset func() bool // returns true once, then clears itself (one-shot)
	Stop  func() bool
}

// Thread runs the capture+DSP loop until EOF, Stop, or a poll/read error.
// Intended to run in its own goroutine.
type Thread struct {
	src  Source
	cfg  Config
	proc *dsp.Processor // nil when no DSP stage is configured
	out  *rollbuffer.SyncRollBuffer[int16]
	flags Flags
	log  *logger.Logger

	chunk []byte // raw accumulation buffer, len == cfg.ChunkSamples*2
	filled int
}

// New builds a capture Thread. proc may be nil (Needed(cfg)==false).
func New(src Source, cfg Config, proc *dsp.Processor, out *rollbuffer.SyncRollBuffer[int16], flags Flags, log *logger.Logger) *Thread {
	return &Thread{
		src:   src,
		cfg:   cfg,
		proc:  proc,
		out:   out,
		flags: flags,
		log:   log,
		chunk: make([]byte, cfg.ChunkSamples*2),
	}
}

// Run executes the capture loop. Returns when the source hits EOF, Stop is
// observed, or a read error occurs; in all cases the output buffer is
// cancelled before returning.
func (t *Thread) Run() {
	defer t.out.Cancel()

	pollFds := []unix.PollFd{{Fd: int32(t.src.Fd()), Events: unix.POLLIN}}

	for {
		if t.flags.Stop != nil && t.flags.Stop() {
			t.log.Debug("capture: stop flag observed")
			return
		}

		start := time.Now()

		n, err := unix.Poll(pollFds, t.cfg.ChunkTimeMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			t.log.Error("capture: poll error: %v", err)
			return
		}
		if n == 0 {
			continue // timeout, nothing readable yet
		}
		// A pipe whose writer has closed reports POLLHUP without POLLIN; the
		// read below then returns 0 bytes and the loop ends on EOF.
		if pollFds[0].Revents&(unix.POLLIN|unix.POLLHUP) == 0 {
			continue
		}

		read, err := t.src.Read(t.chunk[t.filled:])
		if err != nil && err != io.EOF {
			t.log.Error("capture: read error: %v", err)
			return
		}
		if read == 0 {
			t.log.Debug("capture: EOF")
			return
		}
		t.filled += read

		if t.filled < len(t.chunk) {
			continue // partial chunk, keep accumulating
		}
		t.filled = 0

		if t.flags.Reset != nil && t.flags.Reset() {
			t.out.Reset()
			continue
		}

		samples := bytesToInt16(t.chunk)
		if t.proc != nil {
			t.proc.ProcessChunk(samples)
		}
		t.out.Append(samples)

		if t.cfg.Sync {
			chunkTimeNs := time.Duration(t.cfg.ChunkTimeMs) * time.Millisecond
			elapsed := time.Since(start)
			sleep := chunkTimeNs - elapsed - time.Microsecond
			if sleep > 0 {
				time.Sleep(sleep)
			}
		}
	}
}

func bytesToInt16(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return out
}
