package codec

import (
	"encoding/binary"
	"math"
)

// Byte-order-aware field readers over raw varstruct field payloads. Field
// payloads are frequently shorter than the nominal width on damaged logs, so
// each reader zero-extends rather than failing; the ok result reports whether
// the full width was present.

// FieldU16 reads a little-endian uint16 from the front of b.
func FieldU16(b []byte) (uint16, bool) {
	if len(b) < 2 {
		return fieldPad(b), false
	}
	return binary.LittleEndian.Uint16(b), true
}

// FieldU32 reads a little-endian uint32 from the front of b.
func FieldU32(b []byte) (uint32, bool) {
	if len(b) < 4 {
		var buf [4]byte
		copy(buf[:], b)
		return binary.LittleEndian.Uint32(buf[:]), false
	}
	return binary.LittleEndian.Uint32(b), true
}

// FieldI32 reads a little-endian int32 from the front of b.
func FieldI32(b []byte) (int32, bool) {
	u, ok := FieldU32(b)
	return int32(u), ok
}

// FieldI16 reads a little-endian int16 from the front of b.
func FieldI16(b []byte) (int16, bool) {
	u, ok := FieldU16(b)
	return int16(u), ok
}

// FieldF32 reads a little-endian float32 from the front of b. NaN and Inf
// are rejected since they never occur in valid telemetry.
func FieldF32(b []byte) (float32, bool) {
	u, ok := FieldU32(b)
	if !ok {
		return 0, false
	}
	f := math.Float32frombits(u)
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return 0, false
	}
	return f, true
}

func fieldPad(b []byte) uint16 {
	var buf [2]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint16(buf[:])
}
