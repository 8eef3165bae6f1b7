// Package heuristic implements the tolerant record decoder. Where the
// strict engine trusts structure, this one trusts position: it walks a
// bounded record span through a small state machine (skip pad run, harvest
// float block, locate a plausible coordinate pair, locate a depth word) and
// emits a record no matter how little of that succeeds. Completeness of the
// timeline beats per-record accuracy; downstream continuity filtering
// removes the outliers.
package heuristic

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/monitoring"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/codec"
)

// Decoder is the tolerant engine. Zero value uses DefaultBands.
type Decoder struct {
	Bands Bands
}

// New returns a Decoder with the default offset bands.
func New() *Decoder {
	return &Decoder{Bands: DefaultBands()}
}

// Name identifies the engine in logs and fallback decisions.
func (*Decoder) Name() string { return "heuristic" }

// spanState enumerates the per-span state machine. Transitions run strictly
// forward; every state is allowed to fail without aborting the record.
type spanState int

const (
	stateSkipPad spanState = iota
	stateReadFloats
	stateFindCoord
	stateFindDepth
	stateDone
)

// DecodeSpan decodes the span [offset, offset+len(span)) bounded by the
// next located header. Unlike the strict engine this never returns a decode
// error for span content: a record is always emitted, with fields left
// unset when nothing plausible was found.
func (d *Decoder) DecodeSpan(ctx *rsd.DecodeContext, span []byte, offset int64) (*rsd.Record, error) {
	if len(span) < 8 {
		return nil, fmt.Errorf("heuristic: span at 0x%X: %w", offset, codec.ErrTruncated)
	}
	if !bytes.Equal(span[:4], rsd.HeaderMagicLE()) && !bytes.Equal(span[:4], rsd.HeaderMagicBE()) {
		return nil, fmt.Errorf("heuristic: no header magic at 0x%X: %w", offset, codec.ErrStructural)
	}

	bands := d.Bands
	if bands.CoordEnd == 0 {
		bands = DefaultBands()
	}

	rec := &rsd.Record{Offset: offset, Heuristic: true}
	d.salvageHeader(ctx, rec, span)
	if !ctx.WantChannel(rec.Channel) {
		return nil, nil
	}
	if rec.Seq == 0 {
		rec.Seq = ctx.SyntheticSeq(rec.Channel)
		rec.Extras.Set("seq_synthetic", rsd.FlagExtra())
	}

	coordPos := -1
	for st := stateSkipPad; st != stateDone; {
		switch st {
		case stateSkipPad:
			// A long pad run can spill into the float band; start the
			// float search past it.
			if padEnd := SkipPadRun(span, bands); padEnd > bands.FloatStart {
				bands.FloatStart = padEnd
			}
			st = stateReadFloats
		case stateReadFloats:
			for i, f := range ReadFloatBlock(span, bands) {
				rec.Extras.Set(fmt.Sprintf("hf_%d", i), rsd.FloatExtra(float64(f)))
			}
			st = stateFindCoord
		case stateFindCoord:
			coordPos = d.findCoord(ctx, rec, span, bands, offset)
			st = stateFindDepth
		case stateFindDepth:
			if coordPos >= 0 {
				if depth, ok := FindDepthNear(span, coordPos, bands); ok {
					rec.Depth = rsd.Ptr(depth)
				}
			}
			st = stateDone
		}
	}
	return rec, nil
}

// salvageHeader makes a permissive attempt at the structured header to
// recover sequence, timestamp and channel. Failure is fine; the span search
// below does not depend on it.
func (d *Decoder) salvageHeader(ctx *rsd.DecodeContext, rec *rsd.Record, span []byte) {
	hdr, err := codec.ParseVarstructPrefixed(span, 0, 4, len(span), codec.CRCPermissive)
	if err != nil {
		return
	}
	if seq, ok := codec.FieldU32(hdr.Fields[2]); ok {
		rec.Seq = seq
	}
	if t, ok := codec.FieldU32(hdr.Fields[5]); ok {
		rec.TimeMs = t
	}
	if hdr.CRCMismatch {
		rec.ChecksumMismatch = true
		rec.Extras.Set("checksum_mismatch", rsd.FlagExtra())
	}
	// A permissive body parse right behind the header often yields the
	// channel id even when the body checksum is shot.
	body, err := codec.ParseVarstruct(span, hdr.End, len(span), codec.CRCPermissive)
	if err != nil {
		return
	}
	if ch, ok := codec.FieldU32(body.Fields[0]); ok && rsd.ChannelPlausible(int(ch)) {
		rec.Channel = int(ch)
	}
}

// findCoord runs the coordinate pair search, first inside the expected
// band and, failing that, across the rest of the span (logged, since an
// out-of-band hit usually means the firmware moved the layout).
func (d *Decoder) findCoord(ctx *rsd.DecodeContext, rec *rsd.Record, span []byte, bands Bands, offset int64) int {
	prevLat, prevLon, havePrev := ctx.LastFix(rec.Channel)
	var prev *[2]float64
	if havePrev {
		prev = &[2]float64{prevLat, prevLon}
	}

	lat, lon, pos, ok := FindCoordPair(span, bands.CoordStart, bands.CoordEnd, prev, bands.MaxJumpM)
	if !ok {
		lat, lon, pos, ok = FindCoordPair(span, bands.CoordEnd, len(span), prev, bands.MaxJumpM)
		if ok {
			monitoring.Logf("heuristic: coordinate pair at 0x%X found %d bytes past expected band [%d,%d)",
				offset, pos-bands.CoordEnd, bands.CoordStart, bands.CoordEnd)
		}
	}
	if !ok {
		return -1
	}
	rec.SetFix(lat, lon)
	return pos
}

// SkipPadRun looks for the alternating pad/sentinel word run inside the pad
// band and returns the position just past it, or bands.PadStart when no
// qualifying run exists.
func SkipPadRun(span []byte, bands Bands) int {
	end := bands.PadEnd
	if end > len(span)-2 {
		end = len(span) - 2
	}
	for start := bands.PadStart; start < end; start += 2 {
		run := 0
		for p := start; p+2 <= len(span); p += 2 {
			w := binary.LittleEndian.Uint16(span[p:])
			if w != rsd.PadSentinelA && w != rsd.PadSentinelB {
				break
			}
			// The run must alternate, not repeat one sentinel.
			if run > 0 {
				prev := binary.LittleEndian.Uint16(span[p-2:])
				if prev == w {
					break
				}
			}
			run += 2
		}
		if run >= bands.PadMinRun {
			return start + run
		}
	}
	return bands.PadStart
}

// ReadFloatBlock decodes up to FloatCount plausible 32-bit floats from the
// float band. Implausible words (NaN, Inf, astronomic magnitudes) end the
// block.
func ReadFloatBlock(span []byte, bands Bands) []float32 {
	start, end := bands.FloatStart, bands.FloatEnd
	if end > len(span) {
		end = len(span)
	}
	var out []float32
	for p := start; p+4 <= end && len(out) < bands.FloatCount; p += 4 {
		f, ok := codec.FieldF32(span[p : p+4])
		if !ok || f > 1e6 || f < -1e6 {
			break
		}
		out = append(out, f)
	}
	return out
}

// FindCoordPair scans [start, end) for two consecutive 32-bit integers that
// decode to a plausible latitude/longitude under the map-unit conversion.
// When prev is non-nil the pair must lie within maxJumpM meters of it.
func FindCoordPair(span []byte, start, end int, prev *[2]float64, maxJumpM float64) (lat, lon float64, pos int, ok bool) {
	if end > len(span)-8 {
		end = len(span) - 8
	}
	for p := start; p <= end; p += 4 {
		rawLat, _ := codec.FieldI32(span[p : p+4])
		rawLon, _ := codec.FieldI32(span[p+4 : p+8])
		la := codec.MapUnitsToDegrees(rawLat)
		lo := codec.MapUnitsToDegrees(rawLon)
		if !coordPlausible(la, lo) {
			continue
		}
		if prev != nil && rsd.DistanceM(prev[0], prev[1], la, lo) > maxJumpM {
			continue
		}
		return la, lo, p, true
	}
	return 0, 0, -1, false
}

func coordPlausible(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	// Survey hardware does not operate at the poles; excluding the last few
	// degrees rejects a large family of small-integer false positives.
	return lat > -85 && lat < 85 && lon >= -180 && lon <= 180 &&
		(lat < -0.01 || lat > 0.01) && (lon < -0.01 || lon > 0.01)
}

// FindDepthNear searches a bounded window around an accepted coordinate
// pair for a 32-bit millimeter depth word. Absence leaves depth unset
// rather than guessing.
func FindDepthNear(span []byte, coordPos int, bands Bands) (float64, bool) {
	lo := coordPos - bands.DepthWindow
	if lo < 0 {
		lo = 0
	}
	hi := coordPos + 8 + bands.DepthWindow
	if hi > len(span)-4 {
		hi = len(span) - 4
	}
	for p := lo; p <= hi; p += 4 {
		if p >= coordPos && p < coordPos+8 {
			continue // the coordinate words themselves
		}
		v, _ := codec.FieldI32(span[p : p+4])
		if v > 0 && v <= bands.DepthMaxMm {
			return float64(v) / 1000.0, true
		}
	}
	return 0, false
}
