// Package rsd defines the canonical record model for Garmin RSD sonar logs
// and the decoder contract shared by the strict and heuristic engines.
package rsd

import (
	"encoding/binary"
	"math"
)

// Record-framing magic values. The header magic is the only reliable
// structural marker in the format; the trailer magic is advisory and absent
// on several firmware releases.
const (
	MagicRecordHeader  uint32 = 0xB7E9DA86
	MagicRecordTrailer uint32 = 0xD9264B7C

	// Pad sentinel words written between records by some firmware; they
	// alternate in either order.
	PadSentinelA uint16 = 0xB2A1
	PadSentinelB uint16 = 0xA1B2
)

// HeaderMagicLE returns the header magic in file byte order.
func HeaderMagicLE() []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], MagicRecordHeader)
	return b[:]
}

// HeaderMagicBE returns the byte-swapped header magic, seen on logs written
// by big-endian head units.
func HeaderMagicBE() []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], MagicRecordHeader)
	return b[:]
}

// Well-known channel identifiers.
const (
	ChannelMeta           = 0
	ChannelTraditional    = 1
	ChannelChirp          = 2
	ChannelLeftSidescan   = 4
	ChannelRightSidescan  = 5
	ChannelDownVision     = 6
	channelIDUnreasonable = 64 // ids above this never occur on real hardware
)

// ChannelPlausible reports whether id is within the range real hardware
// emits. Used by the heuristic decoder to reject garbage channel words.
func ChannelPlausible(id int) bool {
	return id >= 0 && id < channelIDUnreasonable
}

// Record is one decoded sonar ping. Optional fields use pointer types: a nil
// field was not recoverable from the log, which downstream consumers must
// distinguish from a legitimate zero (a depth of 0 m is a real reading at
// the transducer face; an absent depth is not).
type Record struct {
	// Offset is the file offset of the record header magic.
	Offset int64
	// Channel identifies the transducer stream.
	Channel int
	// Seq is the per-channel sequence number. Unique per channel, gaps allowed.
	Seq uint32
	// TimeMs is the recorder timestamp in milliseconds.
	TimeMs uint32

	Lat   *float64 // decimal degrees
	Lon   *float64 // decimal degrees
	Depth *float64 // meters

	SampleCount int
	// SonarOffset/SonarSize locate the raw sample payload within the file.
	SonarOffset int64
	SonarSize   int
	// Samples holds the payload bytes once loaded. Decoders leave this nil;
	// consumers that need pixels load it by offset afterwards.
	Samples []byte

	BeamDeg  *float64
	PitchDeg *float64
	RollDeg  *float64
	HeaveM   *float64
	TxOffset *float64
	RxOffset *float64
	ColorID  *int

	// Anomalous marks a record whose position jumped implausibly far from
	// the previous accepted fix on the same channel. Flagged, never dropped.
	Anomalous bool
	// ChecksumMismatch is set when a permissive decode accepted a record
	// whose stored CRC did not verify.
	ChecksumMismatch bool
	// Heuristic is set when the tolerant engine produced this record.
	Heuristic bool

	// Extras holds decoder-specific auxiliary values keyed by name.
	Extras Extras
}

// HasFix reports whether the record carries a decoded position.
func (r *Record) HasFix() bool {
	return r.Lat != nil && r.Lon != nil
}

// SetFix stores a decoded position.
func (r *Record) SetFix(lat, lon float64) {
	r.Lat = &lat
	r.Lon = &lon
}

// Decoder is the capability shared by the strict and heuristic engines. The
// normalizer's fallback policy is written against this interface only.
//
// DecodeSpan decodes the record whose header magic sits at span[0]. The span
// is bounded by the next located header (or end of file): offset gives the
// span's absolute file position for Record.Offset bookkeeping. A non-nil
// error means the span yielded nothing usable and the caller resynchronizes
// at the next header.
type Decoder interface {
	DecodeSpan(ctx *DecodeContext, span []byte, offset int64) (*Record, error)
	Name() string
}

// earthRadiusM is the spherical radius used for coordinate-delta checks.
const earthRadiusM = 6371000.0

// DistanceM returns the great-circle distance in meters between two fixes.
// Haversine formulation; survey tracks are far too short for ellipsoidal
// error to matter against a kilometre-scale threshold.
func DistanceM(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Ptr copies v to the heap for optional Record fields.
func Ptr[T any](v T) *T { return &v }
