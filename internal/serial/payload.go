package serial

import (
	"encoding/binary"
	"fmt"
	"math"
)

func putFloat32(buf []byte, v float32) { binary.LittleEndian.PutUint32(buf, math.Float32bits(v)) }
func getFloat32(buf []byte) float32    { return math.Float32frombits(binary.LittleEndian.Uint32(buf)) }

// EncodeStatus packs a StatusPayload into its 13-byte wire form.
func EncodeStatus(p StatusPayload) []byte {
	buf := make([]byte, statusPayloadSize)
	buf[0] = p.Mode
	buf[1] = p.ErrorKind
	binary.LittleEndian.PutUint16(buf[2:4], p.WakewordMask)
	binary.LittleEndian.PutUint16(buf[4:6], p.OverrunCount)
	binary.LittleEndian.PutUint32(buf[6:10], p.FramesIn)
	binary.LittleEndian.PutUint16(buf[10:12], p.FramesOut)
	buf[12] = p.Degraded
	return buf
}

// DecodeStatus unpacks a 13-byte Status payload.
func DecodeStatus(buf []byte) (StatusPayload, error) {
	if len(buf) != statusPayloadSize {
		return StatusPayload{}, fmt.Errorf("serial: status payload must be %d bytes, got %d", statusPayloadSize, len(buf))
	}
	return StatusPayload{
		Mode:         buf[0],
		ErrorKind:    buf[1],
		WakewordMask: binary.LittleEndian.Uint16(buf[2:4]),
		OverrunCount: binary.LittleEndian.Uint16(buf[4:6]),
		FramesIn:     binary.LittleEndian.Uint32(buf[6:10]),
		FramesOut:    binary.LittleEndian.Uint16(buf[10:12]),
		Degraded:     buf[12],
	}, nil
}

// EncodeAudioConf packs an AudioConfPayload into its 7-byte wire form.
func EncodeAudioConf(p AudioConfPayload) []byte {
	buf := make([]byte, audioConfPayloadSize)
	putFloat32(buf[0:4], p.Preamp)
	buf[4] = p.NoiseLvl
	buf[5] = p.AutoGain
	buf[6] = p.VAD
	return buf
}

// DecodeAudioConf unpacks a 7-byte Config payload.
func DecodeAudioConf(buf []byte) (AudioConfPayload, error) {
	if len(buf) != audioConfPayloadSize {
		return AudioConfPayload{}, fmt.Errorf("serial: audio conf payload must be %d bytes, got %d", audioConfPayloadSize, len(buf))
	}
	return AudioConfPayload{
		Preamp:   getFloat32(buf[0:4]),
		NoiseLvl: buf[4],
		AutoGain: buf[5],
		VAD:      buf[6],
	}, nil
}

// EncodeWwConf packs a WwEntryConf into its 7-byte wire form.
func EncodeWwConf(p WwEntryConf) []byte {
	buf := make([]byte, wwConfPayloadSize)
	buf[0] = p.Index
	buf[1] = p.Enabled
	putFloat32(buf[2:6], p.Threshold)
	buf[6] = p.Patience
	return buf
}

// DecodeWwConf unpacks a 7-byte WwConf payload.
func DecodeWwConf(buf []byte) (WwEntryConf, error) {
	if len(buf) != wwConfPayloadSize {
		return WwEntryConf{}, fmt.Errorf("serial: wwconf payload must be %d bytes, got %d", wwConfPayloadSize, len(buf))
	}
	return WwEntryConf{
		Index:     buf[0],
		Enabled:   buf[1],
		Threshold: getFloat32(buf[2:6]),
		Patience:  buf[6],
	}, nil
}

// EncodeWwStatus packs a WwStatusPayload into its 40-byte wire form.
func EncodeWwStatus(p WwStatusPayload) []byte {
	buf := make([]byte, wwStatusPayloadSize)
	copy(buf[0:33], p.Name[:])
	copy(buf[33:40], EncodeWwConf(p.Conf))
	return buf
}

// DecodeWwStatus unpacks a 40-byte WwStatus payload.
func DecodeWwStatus(buf []byte) (WwStatusPayload, error) {
	if len(buf) != wwStatusPayloadSize {
		return WwStatusPayload{}, fmt.Errorf("serial: wwstatus payload must be %d bytes, got %d", wwStatusPayloadSize, len(buf))
	}
	var p WwStatusPayload
	copy(p.Name[:], buf[0:33])
	conf, err := DecodeWwConf(buf[33:40])
	if err != nil {
		return WwStatusPayload{}, err
	}
	p.Conf = conf
	return p, nil
}

// EncodeWwMatch packs a WwMatchPayload into its 6-byte wire form.
func EncodeWwMatch(p WwMatchPayload) []byte {
	buf := make([]byte, wwMatchPayloadSize)
	buf[0] = p.Index
	putFloat32(buf[1:5], p.Score)
	buf[5] = p.Count
	return buf
}

// DecodeWwMatch unpacks a 6-byte WwMatch payload.
func DecodeWwMatch(buf []byte) (WwMatchPayload, error) {
	if len(buf) != wwMatchPayloadSize {
		return WwMatchPayload{}, fmt.Errorf("serial: wwmatch payload must be %d bytes, got %d", wwMatchPayloadSize, len(buf))
	}
	return WwMatchPayload{
		Index: buf[0],
		Score: getFloat32(buf[1:5]),
		Count: buf[5],
	}, nil
}

// EncodeMode packs a ModePayload into its 1-byte wire form.
func EncodeMode(p ModePayload) []byte { return []byte{p.State} }

// DecodeMode unpacks a 1-byte Mode payload.
func DecodeMode(buf []byte) (ModePayload, error) {
	if len(buf) != 1 {
		return ModePayload{}, fmt.Errorf("serial: mode payload must be 1 byte, got %d", len(buf))
	}
	return ModePayload{State: buf[0]}, nil
}

// EncodeAreset packs an AresetPayload into its 2-byte wire form.
func EncodeAreset(p AresetPayload) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, p.RefracFrames)
	return buf
}

// DecodeAreset unpacks a 2-byte Areset payload.
func DecodeAreset(buf []byte) (AresetPayload, error) {
	if len(buf) != 2 {
		return AresetPayload{}, fmt.Errorf("serial: areset payload must be 2 bytes, got %d", len(buf))
	}
	return AresetPayload{RefracFrames: binary.LittleEndian.Uint16(buf)}, nil
}

// EncodeWwList packs a WwListPayload into its 1-byte wire form.
func EncodeWwList(p WwListPayload) []byte { return []byte{p.Clear} }

// DecodeWwList unpacks a 1-byte WwList payload.
func DecodeWwList(buf []byte) (WwListPayload, error) {
	if len(buf) != 1 {
		return WwListPayload{}, fmt.Errorf("serial: wwlist payload must be 1 byte, got %d", len(buf))
	}
	return WwListPayload{Clear: buf[0]}, nil
}
