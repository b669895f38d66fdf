// Package gpio drives the status LED and interrupt lines (spec §4.6) over
// a single worker goroutine, built on github.com/warthog618/go-gpiocdev (a
// dependency carried over from doismellburning-samoyed's go.mod, which
// targets this same line-request chardev API for its own hardware I/O).
package gpio

import (
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/hammamikhairi/voz/internal/logger"
	"github.com/hammamikhairi/voz/internal/rollbuffer"
)

// Command is one queued line operation (spec §4.6).
type Command int

const (
	On Command = iota
	Off
	Blink
	Int
	Quit
)

// Line identifies which physical line a Command targets.
type Line int

const (
	StatusLine Line = iota
	InterruptLine
)

// Op pairs a Command with the line it targets.
type Op struct {
	Line    Line
	Command Command
}

const (
	blinkHigh = 350 * time.Millisecond
	intPulse  = 10 * time.Millisecond
)

// outputLine is the subset of *gpiocdev.Line a Controller drives. Kept as
// an interface so tests can substitute a fake without real hardware.
type outputLine interface {
	SetValue(value int) error
	Close() error
}

// Controller owns the chip and both requested lines and consumes a command
// queue on its own goroutine.
type Controller struct {
	chip      *gpiocdev.Chip
	status    outputLine
	interrupt outputLine
	queue     *rollbuffer.SyncRollBuffer[Op]
	log       *logger.Logger
}

// Open requests the status line (initially low) and the interrupt line
// (open-high idle, active-low pulse — requested high) on chipName, sharing
// one gpiocdev.Chip between them.
func Open(chipName string, statusOffset, interruptOffset int, queue *rollbuffer.SyncRollBuffer[Op], log *logger.Logger) (*Controller, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, err
	}

	status, err := chip.RequestLine(statusOffset, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, err
	}

	interrupt, err := chip.RequestLine(interruptOffset, gpiocdev.AsOutput(1))
	if err != nil {
		status.Close()
		chip.Close()
		return nil, err
	}

	return &Controller{chip: chip, status: status, interrupt: interrupt, queue: queue, log: log}, nil
}

// Run consumes Ops from the queue until a Quit command or a cancelled
// queue. Intended to run in its own goroutine.
func (c *Controller) Run() {
	for {
		l := c.queue.WaitAtLeast(1)
		if l.Len() == 0 {
			st := l.Status()
			l.ClearReset()
			l.ReleaseAndSignal()
			if st.Cancel {
				return
			}
			continue
		}
		op := l.Get()[0]
		l.Shift(1)
		l.ClearReset()
		l.ReleaseAndSignal()

		if op.Command == Quit {
			return
		}
		c.apply(op)
	}
}

func (c *Controller) apply(op Op) {
	line := c.status
	if op.Line == InterruptLine {
		line = c.interrupt
	}

	switch op.Command {
	case On:
		if err := line.SetValue(1); err != nil {
			c.log.Warn("gpio: set high failed: %v", err)
		}
	case Off:
		if err := line.SetValue(0); err != nil {
			c.log.Warn("gpio: set low failed: %v", err)
		}
	case Blink:
		line.SetValue(1)
		time.Sleep(blinkHigh)
		line.SetValue(0)
	case Int:
		// Open-high idle: pulse low for intPulse, then return high.
		line.SetValue(0)
		time.Sleep(intPulse)
		line.SetValue(1)
	}
}

// Close releases both lines and the chip.
func (c *Controller) Close() {
	if c.status != nil {
		c.status.Close()
	}
	if c.interrupt != nil {
		c.interrupt.Close()
	}
	if c.chip != nil {
		c.chip.Close()
	}
}
