package serial

import (
	"bufio"
	"io"

	"github.com/hammamikhairi/voz/internal/vozerr"
)

// Frame is a decoded wire frame: an event ID, its extra byte (used by
// BAudio to carry a VAD byte), and the raw, still-encoded payload.
type Frame struct {
	ID      EventID
	Extra   uint8
	Payload []byte
}

// Reader scans a byte stream for SOH-delimited frames, resyncing past
// garbage bytes (spec §4.7: "a reader must resync by scanning for SOH").
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for frame-at-a-time reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 4096)}
}

// ReadFrame reads and validates the next frame, resyncing past any bytes
// before the next SOH on a framing error. Each validation failure returns a
// distinct *vozerr.FrameError sub-kind (spec §7); callers should log at WARN
// and keep calling ReadFrame to resync, per spec §5's propagation rule.
func (fr *Reader) ReadFrame() (Frame, error) {
	if err := fr.syncToSOH(); err != nil {
		return Frame{}, err
	}

	hdrBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(fr.r, hdrBuf); err != nil {
		return Frame{}, vozerr.NewFrameError(vozerr.IncompleteEvent, "short header read")
	}
	h := decodeHeader(hdrBuf)

	if h.EventIDComp != ^uint8(h.EventID) {
		return Frame{}, vozerr.NewFrameError(vozerr.HeaderIntegrity, "event id complement mismatch")
	}

	hdrChecksumByte, err := fr.r.ReadByte()
	if err != nil {
		return Frame{}, vozerr.NewFrameError(vozerr.IncompleteEvent, "short header checksum read")
	}
	if checksum(hdrBuf) != hdrChecksumByte {
		return Frame{}, vozerr.NewFrameError(vozerr.HeaderIntegrity, "header checksum mismatch")
	}

	if h.PayloadSize > MaxPayloadSize {
		return Frame{}, vozerr.NewFrameError(vozerr.PayloadTooBig, "payload_size exceeds max")
	}
	if !knownEvents[h.EventID] {
		return Frame{}, vozerr.NewFrameError(vozerr.UnknownEvent, h.EventID.String())
	}
	if err := validatePayloadSize(h.EventID, h.PayloadSize); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, h.PayloadSize)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return Frame{}, vozerr.NewFrameError(vozerr.IncompleteEvent, "short payload read")
	}

	payloadChecksumByte, err := fr.r.ReadByte()
	if err != nil {
		return Frame{}, vozerr.NewFrameError(vozerr.IncompleteEvent, "short payload checksum read")
	}
	if checksum(payload) != payloadChecksumByte {
		return Frame{}, vozerr.NewFrameError(vozerr.PayloadChecksum, "payload checksum mismatch")
	}

	return Frame{ID: h.EventID, Extra: h.EventExtra, Payload: payload}, nil
}

// syncToSOH consumes bytes until it has read a SOH byte (inclusive).
func (fr *Reader) syncToSOH() error {
	b, err := fr.r.ReadByte()
	if err != nil {
		return vozerr.NewFrameError(vozerr.NoSOH, "stream ended before SOH")
	}
	for b != SOH {
		b, err = fr.r.ReadByte()
		if err != nil {
			return vozerr.NewFrameError(vozerr.NoSOH, "stream ended before SOH")
		}
	}
	return nil
}

// validatePayloadSize checks fixed-size events against their known length.
// Variable-payload events (Audio, BAudio) are exempt; Nop and Reboot must
// carry no payload.
func validatePayloadSize(id EventID, size uint16) error {
	var want int
	switch id {
	case Nop:
		want = 0
	case Status:
		want = statusPayloadSize
	case Mode:
		want = 1
	case Config:
		want = audioConfPayloadSize
	case Areset:
		want = 2
	case Reboot:
		want = 0
	case WwList:
		want = 1
	case WwStatus:
		want = wwStatusPayloadSize
	case WwConf:
		want = wwConfPayloadSize
	case WwMatch:
		want = wwMatchPayloadSize
	default:
		return nil // Audio/BAudio: variable
	}
	if int(size) != want {
		return vozerr.NewFrameError(vozerr.InvalidPayloadLen, id.String())
	}
	return nil
}

// Writer encodes Frames onto w.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for frame-at-a-time writing.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// WriteFrame encodes and writes one frame: SOH, header, header checksum,
// payload, payload checksum.
func (fw *Writer) WriteFrame(f Frame) error {
	h := header{
		EventID:     f.ID,
		EventIDComp: ^uint8(f.ID),
		EventExtra:  f.Extra,
		PayloadSize: uint16(len(f.Payload)),
	}
	hdrBuf := encodeHeader(h)

	out := make([]byte, 0, 1+headerSize+1+len(f.Payload)+1)
	out = append(out, SOH)
	out = append(out, hdrBuf...)
	out = append(out, checksum(hdrBuf))
	out = append(out, f.Payload...)
	out = append(out, checksum(f.Payload))

	_, err := fw.w.Write(out)
	return err
}
