package waterfall

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/monitoring"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/rsdtest"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/stream"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// channelRun fabricates n records on one channel with sequence numbers
// starting at 1 and a per-row intensity given by f.
func channelRun(channel, n int, f func(row int) byte) []*rsd.Record {
	recs := make([]*rsd.Record, 0, n)
	for i := 0; i < n; i++ {
		samples := bytes.Repeat([]byte{f(i)}, 32)
		recs = append(recs, &rsd.Record{
			Channel: channel,
			Seq:     uint32(i + 1),
			Samples: samples,
		})
	}
	return recs
}

func rampIntensity(row int) byte {
	return byte((row * 37) % 200)
}

func TestBuildBlocks(t *testing.T) {
	recs := channelRun(rsd.ChannelLeftSidescan, 55, rampIntensity)
	blocks := BuildBlocks(recs, 25)[rsd.ChannelLeftSidescan]
	require.Len(t, blocks, 3)

	assert.Equal(t, 25, blocks[0].Rows())
	assert.Equal(t, uint32(1), blocks[0].StartSeq)
	assert.Equal(t, uint32(25), blocks[0].EndSeq)
	assert.False(t, blocks[0].Partial)

	assert.Equal(t, 2, blocks[2].Index)
	assert.Equal(t, 5, blocks[2].Rows())
	assert.True(t, blocks[2].Partial, "short final block is kept and flagged")
}

func TestPairBlocksBySequenceProximity(t *testing.T) {
	left := BuildBlocks(channelRun(rsd.ChannelLeftSidescan, 50, rampIntensity), 25)[rsd.ChannelLeftSidescan]
	right := BuildBlocks(channelRun(rsd.ChannelRightSidescan, 50, rampIntensity), 25)[rsd.ChannelRightSidescan]

	pairs := PairBlocks(left, right, DefaultSeqWindow)
	require.Len(t, pairs, 2)
	for i, p := range pairs {
		require.NotNil(t, p.Right)
		assert.Equal(t, i, p.Left.Index)
		assert.Equal(t, i, p.Right.Index)
	}
}

func TestPairBlocksWindowExcludesDistantBlocks(t *testing.T) {
	left := BuildBlocks(channelRun(rsd.ChannelLeftSidescan, 25, rampIntensity), 25)[rsd.ChannelLeftSidescan]
	right := BuildBlocks(channelRun(rsd.ChannelRightSidescan, 25, rampIntensity), 25)[rsd.ChannelRightSidescan]
	// Push the right block far outside the sequence window.
	right[0].StartSeq += 500
	right[0].EndSeq += 500

	pairs := PairBlocks(left, right, DefaultSeqWindow)
	require.Len(t, pairs, 1)
	assert.Nil(t, pairs[0].Right, "no counterpart within the window")
}

func TestAlignRecoversKnownShift(t *testing.T) {
	const shift = 3
	left := BuildBlocks(channelRun(rsd.ChannelLeftSidescan, 25, rampIntensity), 25)[rsd.ChannelLeftSidescan]
	right := BuildBlocks(channelRun(rsd.ChannelRightSidescan, 25, func(row int) byte {
		return rampIntensity(row + shift)
	}), 25)[rsd.ChannelRightSidescan]

	// The right side leads by `shift` rows, so matching rows sit that far
	// back in the right block.
	got := Align(BlockPair{Left: left[0], Right: right[0]})
	assert.Equal(t, -shift, got.ShiftRows)
	assert.Greater(t, got.Confidence, 0.0)
	assert.LessOrEqual(t, got.Confidence, 1.0)
}

func TestAlignDeterministic(t *testing.T) {
	left := BuildBlocks(channelRun(rsd.ChannelLeftSidescan, 25, rampIntensity), 25)[rsd.ChannelLeftSidescan]
	right := BuildBlocks(channelRun(rsd.ChannelRightSidescan, 25, func(row int) byte {
		return rampIntensity(row + 2)
	}), 25)[rsd.ChannelRightSidescan]
	pair := BlockPair{Left: left[0], Right: right[0]}

	first := Align(pair)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first.ShiftRows, Align(pair).ShiftRows)
		assert.Equal(t, first.Confidence, Align(pair).Confidence)
	}
}

func TestAlignDegenerateInput(t *testing.T) {
	flat := func(int) byte { return 128 }
	left := BuildBlocks(channelRun(rsd.ChannelLeftSidescan, 25, flat), 25)[rsd.ChannelLeftSidescan]
	right := BuildBlocks(channelRun(rsd.ChannelRightSidescan, 25, flat), 25)[rsd.ChannelRightSidescan]

	for name, pair := range map[string]BlockPair{
		"zero variance":  {Left: left[0], Right: right[0]},
		"missing right":  {Left: left[0]},
		"missing left":   {Right: right[0]},
		"both sides nil": {},
	} {
		got := Align(pair)
		assert.Zero(t, got.ShiftRows, name)
		assert.Zero(t, got.Confidence, name)
	}
}

func TestAlignTinyBlocksReportNoConfidence(t *testing.T) {
	left := BuildBlocks(channelRun(rsd.ChannelLeftSidescan, 2, rampIntensity), 2)[rsd.ChannelLeftSidescan]
	right := BuildBlocks(channelRun(rsd.ChannelRightSidescan, 2, func(row int) byte {
		return rampIntensity(row + 1)
	}), 2)[rsd.ChannelRightSidescan]

	got := Align(BlockPair{Left: left[0], Right: right[0]})
	assert.Zero(t, got.Confidence, "two rows cannot separate a peak from noise")
	assert.Zero(t, got.ShiftRows)
}

func TestAlignEmptySamplesDegenerate(t *testing.T) {
	mk := func(ch int) *ChannelBlock {
		recs := make([]*rsd.Record, 25)
		for i := range recs {
			recs[i] = &rsd.Record{Channel: ch, Seq: uint32(i + 1)}
		}
		return &ChannelBlock{Channel: ch, Records: recs, StartSeq: 1, EndSeq: 25}
	}
	got := Align(BlockPair{Left: mk(4), Right: mk(5)})
	assert.Zero(t, got.ShiftRows)
	assert.Zero(t, got.Confidence)
}

func TestCorrelateFFTMatchesDirect(t *testing.T) {
	n := 128
	a := make([]float64, n)
	b := make([]float64, n)
	for i := range a {
		a[i] = math.Sin(float64(i)/5) + math.Cos(float64(i)/13)
		if i >= 4 {
			b[i] = a[i-4]
		}
	}
	maxShift := n / 2
	direct := correlateDirect(a, b, maxShift)
	viaFFT := correlateFFT(a, b, maxShift)
	require.Len(t, viaFFT, len(direct))
	for i := range direct {
		assert.InDelta(t, direct[i], viaFFT[i], 1e-9, "shift %d", i-maxShift)
	}
}

func TestEngineEndToEnd(t *testing.T) {
	specs := rsdtest.Track(2000, []int{rsd.ChannelLeftSidescan, rsd.ChannelRightSidescan}, 44.5, -87.25)
	file := rsdtest.BuildFile(nil, specs...)
	res, err := stream.Normalize(context.Background(), bytes.NewReader(file), int64(len(file)),
		stream.Options{Engine: stream.EngineStrict})
	require.NoError(t, err)
	require.Equal(t, 2000, res.Decoded)
	require.NoError(t, stream.LoadSamples(context.Background(), bytes.NewReader(file), res.Records))

	eng := NewEngine()
	pairs, err := eng.Run(context.Background(), res.Records)
	require.NoError(t, err)
	require.Len(t, pairs, 40)
	for _, p := range pairs {
		require.NotNil(t, p.Pair.Right)
		assert.Equal(t, 25, p.Pair.Left.Rows())
		assert.LessOrEqual(t, abs(p.ShiftRows), 12)
	}

	again, err := eng.Run(context.Background(), res.Records)
	require.NoError(t, err)
	if diff := cmp.Diff(pairs, again); diff != "" {
		t.Fatalf("alignment is not deterministic:\n%s", diff)
	}
}

func TestEngineCancellation(t *testing.T) {
	recs := append(
		channelRun(rsd.ChannelLeftSidescan, 500, rampIntensity),
		channelRun(rsd.ChannelRightSidescan, 500, rampIntensity)...,
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := NewEngine()
	eng.Workers = 1
	_, err := eng.Run(ctx, recs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMosaicGeometry(t *testing.T) {
	left := BuildBlocks(channelRun(rsd.ChannelLeftSidescan, 25, rampIntensity), 25)[rsd.ChannelLeftSidescan]
	right := BuildBlocks(channelRun(rsd.ChannelRightSidescan, 25, rampIntensity), 25)[rsd.ChannelRightSidescan]
	pair := AlignedBlockPair{Pair: BlockPair{Left: left[0], Right: right[0]}, ShiftRows: 2}

	img := Mosaic([]AlignedBlockPair{pair}, MosaicOptions{Gap: 4})
	bounds := img.Bounds()
	assert.Equal(t, 2*32+4, bounds.Dx())
	assert.Equal(t, 25, bounds.Dy())

	// Port renders outboard-first: sample 0 lands just left of the gap.
	assert.Equal(t, rampIntensity(1), img.GrayAt(31, 1).Y)
	// Starboard row 0 takes the shifted right record (row 2).
	assert.Equal(t, rampIntensity(2), img.GrayAt(32+4, 0).Y)
	// The last shifted rows fall outside the block and stay dark.
	assert.Zero(t, img.GrayAt(32+4, 24).Y)
}
