// Package bridge implements the serial control plane (spec §4.7's control
// half): the {Idle, WakeWord, Preprocessor} state machine that the UART
// protocol drives, the child-process lifecycle that backs WakeWord and
// Preprocessor mode, and the wake-word catalog's WwList/WwConf handling.
//
// Grounded on internal/timer/supervisor.go's Start/Stop/mutex-guarded
// lifecycle and tick-driven maintenance loop, generalized from a calendar
// timer tick to a Mode-event-driven state machine. Where the original
// multiplexes a single poll(2) over up to three file descriptors (UART,
// child stdout, child stderr) with a 500ms timeout, this port expresses the
// same "wake on whichever source has data, do periodic housekeeping
// otherwise" shape as a channel select, since internal/child.Supervisor
// already owns blocking reads on the child's pipes via its own goroutines;
// the select loop below is this program's poll(2).
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hammamikhairi/voz/internal/catalog"
	"github.com/hammamikhairi/voz/internal/child"
	"github.com/hammamikhairi/voz/internal/gpio"
	"github.com/hammamikhairi/voz/internal/logger"
	"github.com/hammamikhairi/voz/internal/rollbuffer"
	"github.com/hammamikhairi/voz/internal/serial"
	"github.com/hammamikhairi/voz/internal/vozerr"
)

// State is one of the control plane's three operating modes (spec §4.7).
type State uint8

const (
	Idle State = iota
	WakeWord
	Preprocessor
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WakeWord:
		return "WakeWord"
	case Preprocessor:
		return "Preprocessor"
	default:
		return "Unknown"
	}
}

// Exit codes returned by Run, consumed by the wrapper script that restarts
// voz-ser (spec §6).
const (
	ExitNormal       = 0
	ExitRestart      = 1
	ExitRestartRetry = 2
	ExitFatal        = 5
	ExitRequested    = 6
)

// Status error kinds carried in Status.error_kind (spec §7).
const (
	StatusOK uint8 = iota
	StatusIoError
	StatusTensorAlloc
	StatusTensorRuntime
	StatusFrameFormat
	StatusConfigError
	StatusChildIO
	StatusInternal
)

// maxConsecutiveChildFailures bounds unattended restart attempts before the
// bridge gives up and asks the wrapper to retry from further out.
const maxConsecutiveChildFailures = 3

// childStartupDelay is how long Run waits after spawning a child before
// emitting a fresh Status (spec §4.7: "wait ~750ms to let the child come
// up").
const childStartupDelay = 750 * time.Millisecond

// watchdogInterval drives the periodic Status/throughput log (spec §4.7's
// "30-second watchdog").
const watchdogInterval = 30 * time.Second

// Config names the two child binaries the controller spawns per mode, plus
// the shared mel/embedding model directory forwarded to voz-oww.
type Config struct {
	OwwBinPath string
	PreBinPath string
	ModelsDir  string // voz-oww's --modelsdir, ignored for voz-pre
}

// Bridge owns the UART framing, the wake-word catalog, and at most one
// running child process.
type Bridge struct {
	cfg Config
	log *logger.Logger

	port   uartPort
	reader *serial.Reader
	writer *serial.Writer

	cat       *catalog.Catalog
	gpioQueue *rollbuffer.SyncRollBuffer[gpio.Op]

	state     State
	audioConf child.AudioConf
	sup       *child.Supervisor

	refrac       int
	framesIn     uint32
	framesOut    uint16
	overrunCount uint16
	errKind      uint8
	degraded     uint8

	consecutiveChildFailures int

	readyCh  chan child.ReadyChange
	matchCh  chan child.Match
	stderrCh chan string
	exitCh   chan struct{}
}

// New builds a Bridge in the Idle state with no child running.
func New(cfg Config, log *logger.Logger, port uartPort, cat *catalog.Catalog, gpioQueue *rollbuffer.SyncRollBuffer[gpio.Op]) *Bridge {
	return &Bridge{
		cfg:       cfg,
		log:       log,
		port:      port,
		reader:    serial.NewReader(port),
		writer:    serial.NewWriter(port),
		cat:       cat,
		gpioQueue: gpioQueue,
		state:     Idle,
		audioConf: child.AudioConf{Preamp: 1.0},
		readyCh:   make(chan child.ReadyChange, 4),
		matchCh:   make(chan child.Match, 16),
		stderrCh:  make(chan string, 16),
		exitCh:    make(chan struct{}, 1),
	}
}

// Run drives the control loop until ctx is cancelled or a fatal condition
// is hit, returning one of the Exit* codes.
func (b *Bridge) Run(ctx context.Context) int {
	frames := make(chan serial.Frame, 8)
	fatal := make(chan error, 1)
	reboot := make(chan struct{}, 1)
	go b.readLoop(ctx, frames, fatal)

	watchdog := time.NewTicker(watchdogInterval)
	defer watchdog.Stop()
	defer b.stopChild()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("bridge: shutdown requested")
			return ExitRequested

		case err := <-fatal:
			b.log.Error("bridge: fatal uart io: %v", err)
			b.forceIdle(StatusIoError)
			return ExitFatal

		case f := <-frames:
			if f.ID == serial.Reboot {
				reboot <- struct{}{}
				continue
			}
			if err := b.handleFrame(f); err != nil {
				b.log.Warn("bridge: handling %s: %v", f.ID, err)
			}

		case rc := <-b.readyCh:
			b.log.Info("bridge: child ready=%v", rc.Ready)

		case m := <-b.matchCh:
			if err := b.emitWwMatch(m); err != nil {
				b.log.Warn("bridge: emitting wwmatch: %v", err)
			}

		case line := <-b.stderrCh:
			b.log.Warn("child: %s", line)

		case <-b.exitCh:
			b.onChildExit()
			if b.consecutiveChildFailures >= maxConsecutiveChildFailures {
				b.log.Error("bridge: child failed %d times in a row, giving up", b.consecutiveChildFailures)
				return ExitRestartRetry
			}

		case <-reboot:
			b.log.Info("bridge: reboot requested")
			return ExitRestart

		case <-watchdog.C:
			if err := b.emitStatus(); err != nil {
				b.log.Warn("bridge: watchdog status: %v", err)
			}
			b.log.Info("bridge: watchdog state=%s frames_in=%d frames_out=%d", b.state, b.framesIn, b.framesOut)
		}
	}
}

// readLoop owns the only reader on the UART port, forwarding well-formed
// frames and resyncing past framing errors (spec §7: "logged at WARN and
// the reader resyncs to the next SOH").
func (b *Bridge) readLoop(ctx context.Context, frames chan<- serial.Frame, fatal chan<- error) {
	for {
		if ctx.Err() != nil {
			return
		}
		f, err := b.reader.ReadFrame()
		if err != nil {
			var fe *vozerr.FrameError
			if errors.As(err, &fe) {
				b.log.Warn("bridge: frame error: %v", fe)
				continue
			}
			select {
			case fatal <- err:
			default:
			}
			return
		}
		select {
		case frames <- f:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handleFrame(f serial.Frame) error {
	switch f.ID {
	case serial.Nop:
		return nil

	case serial.Mode:
		p, err := serial.DecodeMode(f.Payload)
		if err != nil {
			return err
		}
		return b.transition(State(p.State))

	case serial.Config:
		p, err := serial.DecodeAudioConf(f.Payload)
		if err != nil {
			return err
		}
		b.audioConf = child.AudioConf{Preamp: p.Preamp, NoiseLvl: p.NoiseLvl, AutoGain: p.AutoGain, VAD: p.VAD != 0}
		if b.sup != nil && b.sup.Running() {
			return b.restartChild()
		}
		return nil

	case serial.Audio, serial.BAudio:
		b.forwardAudio(f)
		return nil

	case serial.Areset:
		p, err := serial.DecodeAreset(f.Payload)
		if err != nil {
			return err
		}
		b.refrac = int(p.RefracFrames)
		return nil

	case serial.WwList:
		p, err := serial.DecodeWwList(f.Payload)
		if err != nil {
			return err
		}
		if p.Clear != 0 {
			b.cat.Clear()
		}
		for _, e := range b.cat.Entries() {
			if err := b.emitWwStatusFor(e); err != nil {
				return err
			}
		}
		return b.emitStatus()

	case serial.WwConf:
		p, err := serial.DecodeWwConf(f.Payload)
		if err != nil {
			return err
		}
		if !b.cat.Configure(p.Index, p.Enabled != 0, p.Threshold, p.Patience) {
			return fmt.Errorf("wwconf: index %d out of range", p.Index)
		}
		entries := b.cat.Entries()
		if err := b.emitWwStatusFor(entries[p.Index]); err != nil {
			return err
		}
		if b.state == WakeWord {
			return b.restartChild()
		}
		return nil

	default:
		b.log.Warn("bridge: unhandled event %s", f.ID)
		return nil
	}
}

// forwardAudio drops the next refrac frames (Areset's refractory period),
// otherwise relays the samples to the running child's stdin.
func (b *Bridge) forwardAudio(f serial.Frame) {
	b.framesIn++
	if b.refrac > 0 {
		b.refrac--
		return
	}
	if b.sup == nil || !b.sup.Running() {
		return
	}
	w := b.sup.Stdin()
	if w == nil {
		return
	}
	if _, err := w.Write(f.Payload); err != nil {
		b.log.Warn("bridge: forwarding audio to child: %v", err)
		return
	}
	b.framesOut++
}

// transition stops any running child, updates state, spawns the child required by newState, waits for it to come up, and
// emits a fresh Status (spec §4.7).
func (b *Bridge) transition(newState State) error {
	b.stopChild()
	b.state = newState
	b.setStatusLED(newState != Idle)

	if newState != Idle {
		if err := b.spawnChild(); err != nil {
			b.errKind = StatusChildIO
			b.emitStatus()
			return err
		}
		time.Sleep(childStartupDelay)
	}
	return b.emitStatus()
}

func (b *Bridge) restartChild() error {
	if b.state == Idle {
		return nil
	}
	b.stopChild()
	if err := b.spawnChild(); err != nil {
		b.errKind = StatusChildIO
		b.emitStatus()
		return err
	}
	time.Sleep(childStartupDelay)
	return b.emitStatus()
}

func (b *Bridge) spawnChild() error {
	var binPath string
	var entries []catalog.Entry
	switch b.state {
	case WakeWord:
		binPath = b.cfg.OwwBinPath
		entries = b.cat.Entries()
	case Preprocessor:
		binPath = b.cfg.PreBinPath
	default:
		return nil
	}

	sup := child.New(binPath, b.log)
	sup.OnReady = func(rc child.ReadyChange) { b.readyCh <- rc }
	sup.OnMatch = func(m child.Match) { b.matchCh <- m }
	sup.OnStderrLine = func(line string) { b.stderrCh <- line }
	sup.OnExit = func() {
		select {
		case b.exitCh <- struct{}{}:
		default:
		}
	}

	args := child.BuildArgs(b.audioConf, entries)
	if b.state == WakeWord && b.cfg.ModelsDir != "" {
		args = append(args, "--modelsdir", b.cfg.ModelsDir)
	}
	if err := sup.Start(args); err != nil {
		return err
	}
	b.sup = sup
	b.consecutiveChildFailures = 0
	return nil
}

func (b *Bridge) stopChild() {
	if b.sup == nil {
		return
	}
	b.sup.Stop()
	b.sup = nil
	b.setStatusLED(false)
}

// onChildExit reacts to an unexpected EOF on the child's stdout (spec
// §4.7: "On child EOF the controller drains stderr and reverts to Idle if
// an error status was recorded").
func (b *Bridge) onChildExit() {
	b.consecutiveChildFailures++
	if b.state == Idle {
		return
	}
	if b.errKind != StatusOK {
		b.log.Warn("bridge: child exited with recorded error, reverting to idle")
		b.state = Idle
		b.setStatusLED(false)
		b.emitStatus()
		return
	}
	b.log.Warn("bridge: child exited unexpectedly in state %s", b.state)
}

func (b *Bridge) forceIdle(kind uint8) {
	b.errKind = kind
	b.stopChild()
	b.state = Idle
	b.emitStatus()
}

func (b *Bridge) setStatusLED(on bool) {
	if b.gpioQueue == nil {
		return
	}
	cmd := gpio.Off
	if on {
		cmd = gpio.On
	}
	b.gpioQueue.AppendOne(gpio.Op{Line: gpio.StatusLine, Command: cmd})
}

func (b *Bridge) emitStatus() error {
	p := serial.StatusPayload{
		Mode:         uint8(b.state),
		ErrorKind:    b.errKind,
		WakewordMask: b.cat.Mask(),
		OverrunCount: b.overrunCount,
		FramesIn:     b.framesIn,
		FramesOut:    b.framesOut,
		Degraded:     b.degraded,
	}
	return b.writer.WriteFrame(serial.Frame{ID: serial.Status, Payload: serial.EncodeStatus(p)})
}

func (b *Bridge) emitWwStatusFor(e catalog.Entry) error {
	var nameBuf [33]byte
	copy(nameBuf[:], e.Name)
	enabled := uint8(0)
	if e.Enabled {
		enabled = 1
	}
	p := serial.WwStatusPayload{
		Name: nameBuf,
		Conf: serial.WwEntryConf{Index: e.Index, Enabled: enabled, Threshold: e.Threshold, Patience: e.Patience},
	}
	return b.writer.WriteFrame(serial.Frame{ID: serial.WwStatus, Payload: serial.EncodeWwStatus(p)})
}

func (b *Bridge) emitWwMatch(m child.Match) error {
	index := uint8(0)
	found := false
	for _, e := range b.cat.Entries() {
		// BuildArgs passes each model's catalog index as its voz-oww name,
		// so that is what the child reports back.
		if fmt.Sprint(e.Index) == m.Name {
			index = e.Index
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("wwmatch: unknown model name %q", m.Name)
	}
	p := serial.WwMatchPayload{Index: index, Score: m.Score, Count: m.Count}
	return b.writer.WriteFrame(serial.Frame{ID: serial.WwMatch, Payload: serial.EncodeWwMatch(p)})
}
