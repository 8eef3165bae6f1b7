// Package codec implements the primitive wire encodings used by Garmin RSD
// sonar logs: LEB128-style variable-length integers, zigzag signed values,
// the firmware's custom CRC-32, and the fixed-point angular "map unit"
// coordinate encoding. The package knows nothing about record semantics;
// higher layers (strict and heuristic decoders) compose these primitives.
package codec

import "errors"

// Sentinel errors for the decode taxonomy. Primitive reads report
// ErrTruncated; structured decoding layers wrap ErrChecksum and
// ErrStructural so callers can classify failures with errors.Is.
var (
	// ErrTruncated means fewer bytes remained than the encoding requires.
	// Always fatal to the current decode attempt; the caller resyncs.
	ErrTruncated = errors.New("codec: truncated input")

	// ErrChecksum means a stored CRC-32 did not match the computed value.
	ErrChecksum = errors.New("codec: checksum mismatch")

	// ErrStructural means a tag/length sequence was malformed in a way
	// that cannot be skipped safely.
	ErrStructural = errors.New("codec: structural error")
)

// maxVarUintShift bounds varuint decoding to 5 bytes (35 bits of groups,
// clamped to 32 bits of value), matching the on-disk format.
const maxVarUintShift = 35

// ReadVarUint decodes an unsigned varint from buf starting at pos:
// little-endian 7-bit groups, continuation bit 0x80. Returns the value and
// the position of the first byte after the encoding.
func ReadVarUint(buf []byte, pos int) (uint32, int, error) {
	var res uint64
	shift := uint(0)
	for pos < len(buf) && shift < maxVarUintShift {
		b := buf[pos]
		pos++
		res |= uint64(b&0x7F) << shift
		if res > 0xFFFFFFFF {
			return 0, pos, ErrStructural
		}
		if b&0x80 == 0 {
			return uint32(res), pos, nil
		}
		shift += 7
	}
	if pos >= len(buf) {
		return 0, pos, ErrTruncated
	}
	return 0, pos, ErrStructural
}

// ReadVarInt decodes a zigzag-encoded signed varint from buf at pos.
func ReadVarInt(buf []byte, pos int) (int32, int, error) {
	u, next, err := ReadVarUint(buf, pos)
	if err != nil {
		return 0, next, err
	}
	return UnzigZag(u), next, nil
}

// ZigZag maps a signed 32-bit value onto the unsigned varint space.
func ZigZag(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

// UnzigZag is the inverse of ZigZag.
func UnzigZag(u uint32) int32 {
	return int32((u >> 1) ^ -(u & 1))
}

// AppendVarUint appends the varint encoding of v to dst.
func AppendVarUint(dst []byte, v uint32) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// AppendVarInt appends the zigzag varint encoding of v to dst.
func AppendVarInt(dst []byte, v int32) []byte {
	return AppendVarUint(dst, ZigZag(v))
}

// mapUnitScale converts the format's fixed-point angular encoding:
// degrees = raw * 360 / 2^32.
const mapUnitScale = 360.0 / 4294967296.0

// MapUnitsToDegrees converts a raw int32 map-unit value to decimal degrees.
func MapUnitsToDegrees(raw int32) float64 {
	return float64(raw) * mapUnitScale
}

// DegreesToMapUnits converts decimal degrees to the raw map-unit encoding.
// Inverse of MapUnitsToDegrees for representable values; +180 wraps to the
// same raw word as -180, as on the wire.
func DegreesToMapUnits(deg float64) int32 {
	return int32(int64(deg / mapUnitScale))
}
