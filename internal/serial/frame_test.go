package serial

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hammamikhairi/voz/internal/vozerr"
)

// allEventIDs are every EventID the framing layer accepts, used to drive
// property 4 (spec §8: "frame round-trips on every EventId") across the
// whole enum rather than one fixed Status sample.
var allEventIDs = []EventID{
	Nop, Status, Mode, Config, Audio, BAudio, Areset, Reboot,
	WwList, WwStatus, WwConf, WwMatch,
}

// fixedPayloadSize returns the wire size validatePayloadSize enforces for
// id, or -1 for the variable-length events (Audio, BAudio).
func fixedPayloadSize(id EventID) int {
	switch id {
	case Nop, Reboot:
		return 0
	case Status:
		return statusPayloadSize
	case Mode, WwList:
		return 1
	case Config:
		return audioConfPayloadSize
	case Areset:
		return 2
	case WwStatus:
		return wwStatusPayloadSize
	case WwConf:
		return wwConfPayloadSize
	case WwMatch:
		return wwMatchPayloadSize
	default:
		return -1
	}
}

// Test_FrameRoundTrip checks spec §8 property 4: for any known EventID and
// any payload of that event's required length (or any length, for the
// variable-payload events), write(event) -> read() recovers the same ID and
// payload bytes.
func Test_FrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.SampledFrom(allEventIDs).Draw(t, "id")
		size := fixedPayloadSize(id)
		if size < 0 {
			size = rapid.IntRange(0, 256).Draw(t, "payloadSize")
		}
		payload := rapid.SliceOfN(rapid.Byte(), size, size).Draw(t, "payload")

		var buf bytes.Buffer
		w := NewWriter(&buf)
		require.NoError(t, w.WriteFrame(Frame{ID: id, Payload: payload}))

		r := NewReader(&buf)
		f, err := r.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, id, f.ID)
		assert.Equal(t, payload, f.Payload)
	})
}

// Test_BitFlipRejected checks spec §8 property 5: flipping any single bit
// of the header, payload or either checksum is caught by the checksums. The
// one flip that can still parse is one in the SOH byte, which lets the
// reader resync onto a later 0x01 byte; such a frame must never reproduce
// the original payload unscathed.
func Test_BitFlipRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.SampledFrom(allEventIDs).Draw(t, "id")
		size := fixedPayloadSize(id)
		if size < 0 {
			size = rapid.IntRange(0, 64).Draw(t, "payloadSize")
		}
		payload := rapid.SliceOfN(rapid.Byte(), size, size).Draw(t, "payload")

		var buf bytes.Buffer
		w := NewWriter(&buf)
		require.NoError(t, w.WriteFrame(Frame{ID: id, Payload: payload}))
		raw := buf.Bytes()

		byteIdx := rapid.IntRange(0, len(raw)-1).Draw(t, "byteIdx")
		bitIdx := rapid.IntRange(0, 7).Draw(t, "bitIdx")
		flipped := make([]byte, len(raw))
		copy(flipped, raw)
		flipped[byteIdx] ^= 1 << uint(bitIdx)

		r := NewReader(bytes.NewReader(flipped))
		f, err := r.ReadFrame()
		if err != nil {
			var fe *vozerr.FrameError
			assert.True(t, errors.As(err, &fe), "non-frame error: %v", err)
			return
		}
		// A flipped bit that still parses must not reproduce the original
		// frame verbatim — the one-byte mutation has to be visible somewhere.
		assert.False(t, f.ID == id && bytes.Equal(f.Payload, payload),
			"bit flip at byte %d bit %d was silently accepted as the original frame", byteIdx, bitIdx)
	})
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	payload := EncodeStatus(StatusPayload{Mode: 1, ErrorKind: 0, WakewordMask: 0b11, OverrunCount: 2, FramesIn: 100, FramesOut: 99, Degraded: 0})
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame(Frame{ID: Status, Payload: payload}))

	r := NewReader(&buf)
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, Status, f.ID)
	got, err := DecodeStatus(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(0b11), got.WakewordMask)
	assert.Equal(t, uint32(100), got.FramesIn)
}

// TestResyncPastGarbage covers scenario S5: garbage bytes followed by a
// valid frame yield exactly one parsed event, no panics.
func TestResyncPastGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{0xAA}, 32))

	w := NewWriter(&buf)
	payload := EncodeStatus(StatusPayload{Mode: 2})
	require.NoError(t, w.WriteFrame(Frame{ID: Status, Payload: payload}))

	r := NewReader(&buf)
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, Status, f.ID)
}

func TestHeaderIntegrityMismatch(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(SOH)
	hdrBuf := encodeHeader(header{EventID: Status, EventIDComp: uint8(Status), PayloadSize: 0}) // wrong complement
	buf.Write(hdrBuf)
	buf.WriteByte(checksum(hdrBuf))

	r := NewReader(&buf)
	_, err := r.ReadFrame()
	require.Error(t, err)
	var fe *vozerr.FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, vozerr.HeaderIntegrity, fe.Kind)
}

func TestPayloadChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	payload := EncodeStatus(StatusPayload{Mode: 1})
	require.NoError(t, w.WriteFrame(Frame{ID: Status, Payload: payload}))

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF // flip payload checksum byte

	r := NewReader(bytes.NewReader(raw))
	_, err := r.ReadFrame()
	require.Error(t, err)
	var fe *vozerr.FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, vozerr.PayloadChecksum, fe.Kind)
}

func TestPayloadTooBigRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(SOH)
	hdrBuf := encodeHeader(header{EventID: Status, EventIDComp: ^uint8(Status), PayloadSize: MaxPayloadSize + 1})
	buf.Write(hdrBuf)
	buf.WriteByte(checksum(hdrBuf))

	r := NewReader(&buf)
	_, err := r.ReadFrame()
	require.Error(t, err)
	var fe *vozerr.FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, vozerr.PayloadTooBig, fe.Kind)
}

func TestUnknownEventRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(SOH)
	hdrBuf := encodeHeader(header{EventID: EventID(0x7F), EventIDComp: ^uint8(0x7F), PayloadSize: 0})
	buf.Write(hdrBuf)
	buf.WriteByte(checksum(hdrBuf))
	buf.WriteByte(0) // payload checksum for zero-length payload

	r := NewReader(&buf)
	_, err := r.ReadFrame()
	require.Error(t, err)
	var fe *vozerr.FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, vozerr.UnknownEvent, fe.Kind)
}

func TestInvalidPayloadLenRejected(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame(Frame{ID: Status, Payload: []byte{1, 2, 3}})) // wrong size for Status

	r := NewReader(&buf)
	_, err := r.ReadFrame()
	require.Error(t, err)
	var fe *vozerr.FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, vozerr.InvalidPayloadLen, fe.Kind)
}

func TestWwStatusRoundTrip(t *testing.T) {
	var name [33]byte
	copy(name[:], "hey_voz")
	p := WwStatusPayload{Name: name, Conf: WwEntryConf{Index: 1, Enabled: 1, Threshold: 0.6, Patience: 2}}
	enc := EncodeWwStatus(p)
	require.Len(t, enc, wwStatusPayloadSize)

	got, err := DecodeWwStatus(enc)
	require.NoError(t, err)
	assert.Equal(t, p.Conf, got.Conf)
	assert.Equal(t, name, got.Name)
}

func TestAudioVariablePayloadAllowsAnySize(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	payload := make([]byte, 640)
	require.NoError(t, w.WriteFrame(Frame{ID: Audio, Payload: payload}))

	r := NewReader(&buf)
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Len(t, f.Payload, 640)
}
