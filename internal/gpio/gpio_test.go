package gpio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammamikhairi/voz/internal/logger"
	"github.com/hammamikhairi/voz/internal/rollbuffer"
)

type fakeLine struct {
	values []int
}

func (f *fakeLine) SetValue(v int) error { f.values = append(f.values, v); return nil }
func (f *fakeLine) Close() error         { return nil }

func newTestController(t *testing.T) (*Controller, *fakeLine, *fakeLine) {
	t.Helper()
	status := &fakeLine{}
	interrupt := &fakeLine{}
	queue := rollbuffer.NewSync[Op](16, false)
	c := &Controller{status: status, interrupt: interrupt, queue: queue, log: logger.New(logger.LevelOff, nil)}
	return c, status, interrupt
}

func TestOnOffDriveStatusLine(t *testing.T) {
	c, status, _ := newTestController(t)
	c.apply(Op{Line: StatusLine, Command: On})
	c.apply(Op{Line: StatusLine, Command: Off})
	assert.Equal(t, []int{1, 0}, status.values)
}

func TestBlinkPulsesHighThenLow(t *testing.T) {
	c, status, _ := newTestController(t)
	start := time.Now()
	c.apply(Op{Line: StatusLine, Command: Blink})
	assert.GreaterOrEqual(t, time.Since(start), blinkHigh)
	assert.Equal(t, []int{1, 0}, status.values)
}

func TestIntPulsesLowThenHigh(t *testing.T) {
	c, _, interrupt := newTestController(t)
	c.apply(Op{Line: InterruptLine, Command: Int})
	assert.Equal(t, []int{0, 1}, interrupt.values)
}

func TestRunExitsOnQuit(t *testing.T) {
	c, _, _ := newTestController(t)
	done := make(chan struct{})
	go func() { c.Run(); close(done) }()

	c.queue.AppendOne(Op{Line: StatusLine, Command: On})
	c.queue.AppendOne(Op{Command: Quit})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit on Quit")
	}
}

func TestRunExitsOnCancel(t *testing.T) {
	c, _, _ := newTestController(t)
	done := make(chan struct{})
	go func() { c.Run(); close(done) }()

	c.queue.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit on cancel")
	}
}

func TestRunAppliesOpsInOrder(t *testing.T) {
	c, status, _ := newTestController(t)
	done := make(chan struct{})
	go func() { c.Run(); close(done) }()

	c.queue.AppendOne(Op{Line: StatusLine, Command: On})
	c.queue.AppendOne(Op{Line: StatusLine, Command: Off})
	c.queue.AppendOne(Op{Command: Quit})

	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []int{1, 0}, status.values)
}
