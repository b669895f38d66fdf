package bridge

import (
	"io"
	"time"

	"github.com/pkg/term"
)

// uartPort is the subset of *term.Term the bridge depends on, so tests can
// substitute an in-memory stand-in.
type uartPort interface {
	io.ReadWriteCloser
}

// OpenUART opens device in raw mode at 576000 8N1 with a 200ms read timeout
// (spec §6), grounded on doismellburning-samoyed's serial_port_open
// (src/serial_port.go), which opens its KISS TNC link with this same
// library.
func OpenUART(device string) (uartPort, error) {
	t, err := term.Open(device, term.Speed(576000), term.RawMode)
	if err != nil {
		return nil, err
	}
	if err := t.SetReadTimeout(200 * time.Millisecond); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}
