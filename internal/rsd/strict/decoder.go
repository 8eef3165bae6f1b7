// Package strict implements the structured record decoder. It trusts the
// tag/length/value layout completely: a record either verifies end to end or
// the decode fails and the caller resynchronizes at the next header. No
// speculative recovery happens here; that is the heuristic engine's job.
package strict

import (
	"encoding/binary"
	"fmt"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/codec"
)

// Field numbers of the structured layout. Kept here rather than shared with
// the test builder so the decoder stands alone as format documentation.
const (
	hdrFieldSeq      = 2
	hdrFieldDataSize = 4
	hdrFieldTimeMs   = 5

	bodyFieldChannel = 0
	bodyFieldDepth   = 1
	bodyFieldSamples = 7
	bodyFieldLat     = 9
	bodyFieldLon     = 10
	bodyFieldBeam    = 11
	bodyFieldPitch   = 12
	bodyFieldRoll    = 13
	bodyFieldHeave   = 14
	bodyFieldTxOfs   = 15
	bodyFieldRxOfs   = 16
	bodyFieldColor   = 17

	// maxKnownBodyField is the highest field number the decoder assigns a
	// typed meaning. Higher numbers come from newer firmware and are kept
	// as extras, never treated as fatal.
	maxKnownBodyField = bodyFieldColor
)

// Decoder decodes records at exact header offsets. Zero value is ready to
// use; CRC handling comes from the DecodeContext.
type Decoder struct{}

// Name identifies the engine in logs and fallback decisions.
func (Decoder) Name() string { return "strict" }

// DecodeSpan decodes the record whose header magic is at span[0]. The span
// extends to the next located header; the trailing bytes past the declared
// data size are ignored (trailer magic is advisory only).
func (Decoder) DecodeSpan(ctx *rsd.DecodeContext, span []byte, offset int64) (*rsd.Record, error) {
	if len(span) < 8 {
		return nil, fmt.Errorf("strict: span at 0x%X: %w", offset, codec.ErrTruncated)
	}
	if binary.LittleEndian.Uint32(span[:4]) != rsd.MagicRecordHeader {
		return nil, fmt.Errorf("strict: no header magic at 0x%X: %w", offset, codec.ErrStructural)
	}

	policy := codec.CRCStrict
	if ctx.Policy == rsd.CRCModePermissive {
		policy = codec.CRCPermissive
	}

	hdr, err := codec.ParseVarstructPrefixed(span, 0, 4, len(span), policy)
	if err != nil {
		return nil, fmt.Errorf("strict: header at 0x%X: %w", offset, err)
	}

	seq, _ := codec.FieldU32(hdr.Fields[hdrFieldSeq])
	timeMs, _ := codec.FieldU32(hdr.Fields[hdrFieldTimeMs])
	dataSize, ok := codec.FieldU16(hdr.Fields[hdrFieldDataSize])
	if !ok {
		return nil, fmt.Errorf("strict: header at 0x%X missing data size: %w", offset, codec.ErrStructural)
	}

	bodyStart := hdr.End
	bodyLimit := bodyStart + int(dataSize)
	if bodyLimit > len(span) {
		bodyLimit = len(span)
	}
	body, err := codec.ParseVarstruct(span, bodyStart, bodyLimit, policy)
	if err != nil {
		return nil, fmt.Errorf("strict: body at 0x%X: %w", offset+int64(bodyStart), err)
	}

	rec := &rsd.Record{
		Offset: offset,
		Seq:    seq,
		TimeMs: timeMs,
	}
	if ch, ok := codec.FieldU32(body.Fields[bodyFieldChannel]); ok {
		rec.Channel = int(ch)
	}
	if !ctx.WantChannel(rec.Channel) {
		return nil, nil
	}

	decodeBody(rec, body.Fields)

	bodyLen := body.End - bodyStart
	if extra := int(dataSize) - bodyLen; extra > 0 {
		rec.SonarOffset = offset + int64(body.End)
		rec.SonarSize = extra
	}

	if hdr.CRCMismatch || body.CRCMismatch {
		rec.ChecksumMismatch = true
		rec.Extras.Set("checksum_mismatch", rsd.FlagExtra())
	}
	return rec, nil
}

func decodeBody(rec *rsd.Record, fields map[uint32][]byte) {
	if raw, present := fields[bodyFieldDepth]; present {
		if mm, _, err := codec.ReadVarInt(raw, 0); err == nil {
			rec.Depth = rsd.Ptr(float64(mm) / 1000.0)
		}
	}
	if n, ok := codec.FieldU32(fields[bodyFieldSamples]); ok {
		rec.SampleCount = int(n)
	}
	if raw, present := fields[bodyFieldLat]; present {
		if v, ok := codec.FieldI32(raw); ok {
			rec.Lat = rsd.Ptr(codec.MapUnitsToDegrees(v))
		}
	}
	if raw, present := fields[bodyFieldLon]; present {
		if v, ok := codec.FieldI32(raw); ok {
			rec.Lon = rsd.Ptr(codec.MapUnitsToDegrees(v))
		}
	}
	rec.BeamDeg = milliField(fields, bodyFieldBeam)
	rec.PitchDeg = milliField(fields, bodyFieldPitch)
	rec.RollDeg = milliField(fields, bodyFieldRoll)
	rec.HeaveM = milliField(fields, bodyFieldHeave)
	if v, ok := codec.FieldF32(fields[bodyFieldTxOfs]); ok {
		rec.TxOffset = rsd.Ptr(float64(v))
	}
	if v, ok := codec.FieldF32(fields[bodyFieldRxOfs]); ok {
		rec.RxOffset = rsd.Ptr(float64(v))
	}
	if raw, present := fields[bodyFieldColor]; present && len(raw) >= 1 {
		rec.ColorID = rsd.Ptr(int(raw[0]))
	}

	// Unknown numbered fields ride along as extras so newer firmware tags
	// survive the trip to the export surface.
	for num, raw := range fields {
		if num <= maxKnownBodyField {
			continue
		}
		name := fmt.Sprintf("field_%d", num)
		if len(raw) <= 8 {
			var u uint64
			for i := len(raw) - 1; i >= 0; i-- {
				u = u<<8 | uint64(raw[i])
			}
			rec.Extras.Set(name, rsd.UintExtra(u))
		} else {
			// raw aliases the caller's span buffer, which is reused across
			// records; copy before retaining.
			rec.Extras.Set(name, rsd.BytesExtra(append([]byte(nil), raw...)))
		}
	}
}

func milliField(fields map[uint32][]byte, num uint32) *float64 {
	raw, present := fields[num]
	if !present {
		return nil
	}
	v, ok := codec.FieldI16(raw)
	if !ok {
		return nil
	}
	return rsd.Ptr(float64(v) / 1000.0)
}
