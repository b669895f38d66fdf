// Package serial implements the SOH-framed binary protocol spoken over the
// UART link (spec §4.7's framing half): event IDs, fixed-size payload
// structs, and a framing reader/writer.
//
// New package; the byte-oriented resync-then-validate idiom is grounded on
// direwolf's KISS frame scanner (kiss_frame.go's FEND-delimited state
// machine), adapted from SLIP-style escaping to this protocol's
// length-prefixed, checksum-validated framing.
package serial

import (
	"encoding/binary"
	"fmt"

	"github.com/hammamikhairi/voz/internal/vozerr"
)

// SOH starts every frame on the wire.
const SOH = 0x01

// MaxPayloadSize rejects runaway payload_size fields before allocating.
const MaxPayloadSize = 2048

// EventID tags the payload that follows a frame header.
type EventID uint8

const (
	Nop      EventID = 0x00
	Status   EventID = 0x01
	Mode     EventID = 0x10
	Config   EventID = 0x11
	Audio    EventID = 0x12
	BAudio   EventID = 0x13
	Areset   EventID = 0x14
	Reboot   EventID = 0x15
	WwList   EventID = 0x20
	WwStatus EventID = 0x21
	WwConf   EventID = 0x22
	WwMatch  EventID = 0x23
)

func (e EventID) String() string {
	switch e {
	case Nop:
		return "Nop"
	case Status:
		return "Status"
	case Mode:
		return "Mode"
	case Config:
		return "Config"
	case Audio:
		return "Audio"
	case BAudio:
		return "BAudio"
	case Areset:
		return "Areset"
	case Reboot:
		return "Reboot"
	case WwList:
		return "WwList"
	case WwStatus:
		return "WwStatus"
	case WwConf:
		return "WwConf"
	case WwMatch:
		return "WwMatch"
	default:
		return fmt.Sprintf("EventID(0x%02x)", uint8(e))
	}
}

// knownEvents is used to validate event_id during header parsing.
var knownEvents = map[EventID]bool{
	Nop: true, Status: true, Mode: true, Config: true, Audio: true,
	BAudio: true, Areset: true, Reboot: true, WwList: true, WwStatus: true,
	WwConf: true, WwMatch: true,
}

// header is the 5-byte packed frame header (spec §4.7).
type header struct {
	EventID     EventID
	EventIDComp uint8
	EventExtra  uint8
	PayloadSize uint16
}

const headerSize = 5

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	buf[0] = uint8(h.EventID)
	buf[1] = h.EventIDComp
	buf[2] = h.EventExtra
	binary.LittleEndian.PutUint16(buf[3:5], h.PayloadSize)
	return buf
}

func decodeHeader(buf []byte) header {
	return header{
		EventID:     EventID(buf[0]),
		EventIDComp: buf[1],
		EventExtra:  buf[2],
		PayloadSize: binary.LittleEndian.Uint16(buf[3:5]),
	}
}

// checksum is sum(bytes) mod 256.
func checksum(buf []byte) byte {
	var sum byte
	for _, b := range buf {
		sum += b
	}
	return sum
}

// ── Fixed payload structs (spec §4.7) ──────────────────────────────

// StatusPayload is the Status event's 13-byte payload: mode(u8) |
// error_kind(u8) | wakeword_mask(u16) | overrun_count(u16) |
// frames_in(u32) | frames_out(u16) | degraded(u8).
type StatusPayload struct {
	Mode         uint8
	ErrorKind    uint8
	WakewordMask uint16
	OverrunCount uint16
	FramesIn     uint32
	FramesOut    uint16
	Degraded     uint8
}

const statusPayloadSize = 13

// AudioConfPayload is the Config event's 7-byte payload:
// preamp(f32) | noiser(u8) | autogain(u8) | vad(u8).
type AudioConfPayload struct {
	Preamp   float32
	NoiseLvl uint8
	AutoGain uint8
	VAD      uint8
}

const audioConfPayloadSize = 7

// WwEntryConf is the 7-byte per-entry config embedded in WwStatus and used
// standalone for the WwConf event.
type WwEntryConf struct {
	Index     uint8
	Enabled   uint8
	Threshold float32
	Patience  uint8
}

const wwConfPayloadSize = 7

// WwStatusPayload is the WwStatus event's 40-byte payload: a 33-byte name
// field followed by a WwEntryConf.
type WwStatusPayload struct {
	Name [33]byte
	Conf WwEntryConf
}

const wwStatusPayloadSize = 40

// WwMatchPayload is the WwMatch event's 6-byte payload.
type WwMatchPayload struct {
	Index uint8
	Score float32
	Count uint8
}

const wwMatchPayloadSize = 6

// ModePayload is the Mode event's 1-byte payload: the requested control
// state (spec §4.7's state machine).
type ModePayload struct {
	State uint8
}

// AresetPayload is the Areset event's payload: frames to drop.
type AresetPayload struct {
	RefracFrames uint16
}

// WwListPayload is the WwList event's 1-byte payload.
type WwListPayload struct {
	Clear uint8
}
