package heuristic

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/monitoring"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/codec"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// span returns a header magic followed by n filler bytes that decode to
// nothing plausible.
func emptySpan(n int) []byte {
	out := append([]byte(nil), rsd.HeaderMagicLE()...)
	for len(out) < n {
		out = append(out, 0x00)
	}
	return out
}

func putI32(span []byte, pos int, v int32) {
	binary.LittleEndian.PutUint32(span[pos:], uint32(v))
}

func tolerantCtx() *rsd.DecodeContext {
	return rsd.NewDecodeContext(rsd.CRCModePermissive, nil)
}

func TestSkipPadRun(t *testing.T) {
	bands := DefaultBands()
	span := emptySpan(128)
	// Plant an alternating 16-byte run at offset 12.
	words := []uint16{rsd.PadSentinelA, rsd.PadSentinelB, rsd.PadSentinelA, rsd.PadSentinelB,
		rsd.PadSentinelA, rsd.PadSentinelB, rsd.PadSentinelA, rsd.PadSentinelB}
	for i, w := range words {
		binary.LittleEndian.PutUint16(span[12+2*i:], w)
	}
	assert.Equal(t, 12+16, SkipPadRun(span, bands))
}

func TestSkipPadRunAbsent(t *testing.T) {
	bands := DefaultBands()
	assert.Equal(t, bands.PadStart, SkipPadRun(emptySpan(128), bands))
}

func TestSkipPadRunRejectsShortAndNonAlternating(t *testing.T) {
	bands := DefaultBands()

	short := emptySpan(128)
	for i := 0; i < 4; i++ { // 8 bytes, under PadMinRun
		w := rsd.PadSentinelA
		if i%2 == 1 {
			w = rsd.PadSentinelB
		}
		binary.LittleEndian.PutUint16(short[16+2*i:], w)
	}
	assert.Equal(t, bands.PadStart, SkipPadRun(short, bands))

	repeated := emptySpan(128)
	for i := 0; i < 10; i++ { // long enough but never alternates
		binary.LittleEndian.PutUint16(repeated[16+2*i:], rsd.PadSentinelA)
	}
	assert.Equal(t, bands.PadStart, SkipPadRun(repeated, bands))
}

func TestReadFloatBlock(t *testing.T) {
	bands := DefaultBands()
	span := emptySpan(256)
	for i, f := range []float32{1.5, -2.25, 100.0, 0.125} {
		binary.LittleEndian.PutUint32(span[bands.FloatStart+4*i:], math.Float32bits(f))
	}
	got := ReadFloatBlock(span, bands)
	require.Len(t, got, 4)
	assert.Equal(t, float32(1.5), got[0])
	assert.Equal(t, float32(-2.25), got[1])
}

func TestReadFloatBlockStopsAtGarbage(t *testing.T) {
	bands := DefaultBands()
	span := emptySpan(256)
	binary.LittleEndian.PutUint32(span[bands.FloatStart:], math.Float32bits(3.5))
	binary.LittleEndian.PutUint32(span[bands.FloatStart+4:], math.Float32bits(float32(math.NaN())))
	got := ReadFloatBlock(span, bands)
	require.Len(t, got, 1)
	assert.Equal(t, float32(3.5), got[0])
}

func TestFindCoordPair(t *testing.T) {
	span := emptySpan(600)
	putI32(span, 200, codec.DegreesToMapUnits(44.5))
	putI32(span, 204, codec.DegreesToMapUnits(-87.25))

	lat, lon, pos, ok := FindCoordPair(span, 64, 512, nil, 2000)
	require.True(t, ok)
	assert.Equal(t, 200, pos)
	assert.InDelta(t, 44.5, lat, 1e-6)
	assert.InDelta(t, -87.25, lon, 1e-6)
}

func TestFindCoordPairHonorsJumpLimit(t *testing.T) {
	span := emptySpan(600)
	putI32(span, 200, codec.DegreesToMapUnits(44.5))
	putI32(span, 204, codec.DegreesToMapUnits(-87.25))

	// Previous fix ~5 km away: the pair must be rejected.
	prev := &[2]float64{44.545, -87.25}
	_, _, _, ok := FindCoordPair(span, 64, 512, prev, 2000)
	assert.False(t, ok)

	// Previous fix a few meters away: accepted.
	prev = &[2]float64{44.5001, -87.2501}
	_, _, _, ok = FindCoordPair(span, 64, 512, prev, 2000)
	assert.True(t, ok)
}

func TestFindDepthNear(t *testing.T) {
	bands := DefaultBands()
	span := emptySpan(600)
	putI32(span, 200, codec.DegreesToMapUnits(44.5))
	putI32(span, 204, codec.DegreesToMapUnits(-87.25))
	putI32(span, 216, 13250) // 13.25 m in millimeters

	depth, ok := FindDepthNear(span, 200, bands)
	require.True(t, ok)
	assert.InDelta(t, 13.25, depth, 1e-6)
}

func TestFindDepthNearAbsent(t *testing.T) {
	bands := DefaultBands()
	span := emptySpan(600)
	putI32(span, 200, codec.DegreesToMapUnits(44.5))
	putI32(span, 204, codec.DegreesToMapUnits(-87.25))
	// Only out-of-range words near the pair.
	putI32(span, 216, 500000) // 500 m: beyond DepthMaxMm
	putI32(span, 220, -42)

	_, ok := FindDepthNear(span, 200, bands)
	assert.False(t, ok)
}

func TestDecodeSpanEmitsRecordWithoutCoordinates(t *testing.T) {
	// Nothing plausible in the span: the record must still be emitted with
	// position unset, never dropped.
	rec, err := New().DecodeSpan(tolerantCtx(), emptySpan(256), 4096)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(4096), rec.Offset)
	assert.True(t, rec.Heuristic)
	assert.False(t, rec.HasFix())
	assert.Nil(t, rec.Depth)
}

func TestDecodeSpanFullPath(t *testing.T) {
	bands := DefaultBands()
	span := emptySpan(600)
	// Pad run inside the pad band.
	for i := 0; i < 8; i++ {
		w := rsd.PadSentinelA
		if i%2 == 1 {
			w = rsd.PadSentinelB
		}
		binary.LittleEndian.PutUint16(span[bands.PadStart+2*i:], w)
	}
	binary.LittleEndian.PutUint32(span[bands.FloatStart:], math.Float32bits(7.5))
	putI32(span, 200, codec.DegreesToMapUnits(44.5))
	putI32(span, 204, codec.DegreesToMapUnits(-87.25))
	putI32(span, 216, 9750)

	ctx := tolerantCtx()
	rec, err := New().DecodeSpan(ctx, span, 0)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.True(t, rec.HasFix())
	assert.InDelta(t, 44.5, *rec.Lat, 1e-6)
	assert.InDelta(t, -87.25, *rec.Lon, 1e-6)
	require.NotNil(t, rec.Depth)
	assert.InDelta(t, 9.75, *rec.Depth, 1e-6)
	assert.Equal(t, rsd.FloatExtra(7.5), rec.Extras["hf_0"])
}

func TestDecodeSpanAcceptsByteSwappedMagic(t *testing.T) {
	span := emptySpan(256)
	copy(span[:4], rsd.HeaderMagicBE())
	rec, err := New().DecodeSpan(tolerantCtx(), span, 0)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestDecodeSpanSyntheticSequence(t *testing.T) {
	ctx := tolerantCtx()
	a, err := New().DecodeSpan(ctx, emptySpan(256), 0)
	require.NoError(t, err)
	b, err := New().DecodeSpan(ctx, emptySpan(256), 512)
	require.NoError(t, err)
	assert.NotEqual(t, a.Seq, b.Seq, "synthetic sequences must advance")
	assert.True(t, a.Extras.Has("seq_synthetic"))
}
