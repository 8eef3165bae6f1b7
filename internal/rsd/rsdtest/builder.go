// Package rsdtest builds synthetic RSD log images for tests. It is the
// encode half of the wire format: tests write records with it, decode them
// with the real engines, and compare.
package rsdtest

import (
	"encoding/binary"
	"math"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/codec"
)

// Field numbers used by the structured record layout. The header and body
// are independent varstructs with separate number spaces.
const (
	HdrFieldSeq      = 2
	HdrFieldDataSize = 4
	HdrFieldTimeMs   = 5

	BodyFieldChannel = 0
	BodyFieldDepth   = 1
	BodyFieldSamples = 7
	BodyFieldLat     = 9
	BodyFieldLon     = 10
	BodyFieldBeam    = 11
	BodyFieldPitch   = 12
	BodyFieldRoll    = 13
	BodyFieldHeave   = 14
	BodyFieldTxOfs   = 15
	BodyFieldRxOfs   = 16
	BodyFieldColor   = 17
)

// RecordSpec describes one synthetic record.
type RecordSpec struct {
	Channel int
	Seq     uint32
	TimeMs  uint32

	Lat, Lon *float64 // decimal degrees; nil omits the field
	DepthM   *float64 // meters; encoded as zigzag varint millimeters

	BeamDeg, PitchDeg, RollDeg *float64 // milli-degree i16 fields
	HeaveM, TxOfs, RxOfs       *float64
	ColorID                    *int

	Samples []byte // raw sonar payload appended after the body varstruct

	// UnknownFields injects arbitrary body fields, for forward-compat tests.
	UnknownFields map[uint32][]byte

	// CorruptHeaderCRC / CorruptBodyCRC flip a bit in the stored checksum.
	CorruptHeaderCRC bool
	CorruptBodyCRC   bool
	// OmitTrailer drops the advisory trailer magic.
	OmitTrailer bool
	// PadWords appends that many alternating pad sentinel words.
	PadWords int
}

func u16le(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func f32le(v float64) []byte {
	return u32le(math.Float32bits(float32(v)))
}

func i16le(v int) []byte {
	return u16le(uint16(int16(v)))
}

// AppendRecord encodes spec and appends the record image to dst.
func AppendRecord(dst []byte, spec RecordSpec) []byte {
	body := buildBodyFields(spec)
	bodyImage := codec.AppendVarstruct(nil, body, 0)
	if spec.CorruptBodyCRC {
		bodyImage[len(bodyImage)-1] ^= 0x40
	}
	dataSize := len(bodyImage) + len(spec.Samples)

	hdr := map[uint32][]byte{
		HdrFieldSeq:      u32le(spec.Seq),
		HdrFieldDataSize: u16le(uint16(dataSize)),
		HdrFieldTimeMs:   u32le(spec.TimeMs),
	}

	// Header CRC covers the magic, so encode magic first and checksum from
	// its offset.
	magicAt := len(dst)
	dst = append(dst, rsd.HeaderMagicLE()...)
	dst = codec.AppendVarstruct(dst, hdr, magicAt)
	if spec.CorruptHeaderCRC {
		dst[len(dst)-1] ^= 0x40
	}

	dst = append(dst, bodyImage...)
	dst = append(dst, spec.Samples...)

	if !spec.OmitTrailer {
		dst = binary.LittleEndian.AppendUint32(dst, rsd.MagicRecordTrailer)
	}
	for i := 0; i < spec.PadWords; i++ {
		if i%2 == 0 {
			dst = binary.LittleEndian.AppendUint16(dst, rsd.PadSentinelA)
		} else {
			dst = binary.LittleEndian.AppendUint16(dst, rsd.PadSentinelB)
		}
	}
	return dst
}

func buildBodyFields(spec RecordSpec) map[uint32][]byte {
	body := map[uint32][]byte{
		BodyFieldChannel: u32le(uint32(spec.Channel)),
		BodyFieldSamples: u32le(uint32(len(spec.Samples))),
	}
	if spec.DepthM != nil {
		body[BodyFieldDepth] = codec.AppendVarInt(nil, int32(math.Round(*spec.DepthM*1000)))
	}
	if spec.Lat != nil {
		body[BodyFieldLat] = u32le(uint32(codec.DegreesToMapUnits(*spec.Lat)))
	}
	if spec.Lon != nil {
		body[BodyFieldLon] = u32le(uint32(codec.DegreesToMapUnits(*spec.Lon)))
	}
	if spec.BeamDeg != nil {
		body[BodyFieldBeam] = i16le(int(math.Round(*spec.BeamDeg * 1000)))
	}
	if spec.PitchDeg != nil {
		body[BodyFieldPitch] = i16le(int(math.Round(*spec.PitchDeg * 1000)))
	}
	if spec.RollDeg != nil {
		body[BodyFieldRoll] = i16le(int(math.Round(*spec.RollDeg * 1000)))
	}
	if spec.HeaveM != nil {
		body[BodyFieldHeave] = i16le(int(math.Round(*spec.HeaveM * 1000)))
	}
	if spec.TxOfs != nil {
		body[BodyFieldTxOfs] = f32le(*spec.TxOfs)
	}
	if spec.RxOfs != nil {
		body[BodyFieldRxOfs] = f32le(*spec.RxOfs)
	}
	if spec.ColorID != nil {
		body[BodyFieldColor] = []byte{byte(*spec.ColorID)}
	}
	for num, v := range spec.UnknownFields {
		body[num] = v
	}
	return body
}

// BuildFile concatenates encoded records, optionally preceded by leading
// junk bytes to exercise resynchronization.
func BuildFile(leading []byte, specs ...RecordSpec) []byte {
	out := append([]byte(nil), leading...)
	for _, s := range specs {
		out = AppendRecord(out, s)
	}
	return out
}

// Track returns n record specs alternating across channels, walking a
// plausible survey line north-east from the given origin with a constant
// depth profile and synthetic sample payloads.
func Track(n int, channels []int, originLat, originLon float64) []RecordSpec {
	specs := make([]RecordSpec, 0, n)
	seqs := make(map[int]uint32, len(channels))
	for i := 0; i < n; i++ {
		ch := channels[i%len(channels)]
		seqs[ch]++
		lat := originLat + float64(i)*1e-5
		lon := originLon + float64(i)*1.5e-5
		depth := 12.5 + math.Sin(float64(i)/20)*2
		samples := make([]byte, 64)
		for j := range samples {
			samples[j] = byte((i*7 + j*13) % 251)
		}
		specs = append(specs, RecordSpec{
			Channel: ch,
			Seq:     seqs[ch],
			TimeMs:  uint32(100 * i),
			Lat:     &lat,
			Lon:     &lon,
			DepthM:  &depth,
			Samples: samples,
		})
	}
	return specs
}
