package stream

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/monitoring"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/rsdtest"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/scan"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func normalize(t *testing.T, file []byte, opts Options) *Result {
	t.Helper()
	res, err := Normalize(context.Background(), bytes.NewReader(file), int64(len(file)), opts)
	require.NoError(t, err)
	return res
}

func TestNormalizeCleanFile(t *testing.T) {
	specs := rsdtest.Track(20, []int{rsd.ChannelLeftSidescan, rsd.ChannelRightSidescan}, 44.5, -87.25)
	file := rsdtest.BuildFile(nil, specs...)

	res := normalize(t, file, Options{Engine: EngineStrict})
	assert.Equal(t, 20, res.Headers)
	assert.Equal(t, 20, res.Decoded)
	assert.Zero(t, res.Skipped)
	assert.Zero(t, res.Flagged)
	assert.Zero(t, res.Fallbacks)

	require.Len(t, res.Records, 20)
	for i := 1; i < len(res.Records); i++ {
		assert.Greater(t, res.Records[i].Offset, res.Records[i-1].Offset)
	}
	for _, rec := range res.Records {
		assert.True(t, rec.HasFix())
		assert.False(t, rec.Heuristic)
		assert.False(t, rec.Anomalous)
	}
}

func TestNormalizeStrictSkipsCorruptSpan(t *testing.T) {
	specs := rsdtest.Track(10, []int{rsd.ChannelLeftSidescan}, 44.5, -87.25)
	specs[4].CorruptBodyCRC = true
	file := rsdtest.BuildFile(nil, specs...)

	res := normalize(t, file, Options{Engine: EngineStrict, CRC: rsd.CRCModeStrict})
	assert.Equal(t, 9, res.Decoded)
	assert.Equal(t, 1, res.Skipped)
}

func TestNormalizeUnknownFieldBytesSurviveBufferReuse(t *testing.T) {
	// The decode loop reuses one span buffer, so byte extras retained from
	// an earlier record must be copies, not aliases into that buffer.
	unknown := bytes.Repeat([]byte{0xAA}, 12)
	specs := rsdtest.Track(2, []int{rsd.ChannelLeftSidescan}, 44.5, -87.25)
	specs[0].Samples = bytes.Repeat([]byte{0x11}, 128)
	specs[0].UnknownFields = map[uint32][]byte{31: unknown}
	specs[1].Samples = bytes.Repeat([]byte{0xBB}, 16)
	file := rsdtest.BuildFile(nil, specs...)

	res := normalize(t, file, Options{Engine: EngineStrict})
	require.Equal(t, 2, res.Decoded)
	got, ok := res.Records[0].Extras["field_31"]
	require.True(t, ok)
	assert.Equal(t, unknown, got.B)
}

func TestNormalizeAutoFallsBackAfterConsecutiveFailures(t *testing.T) {
	specs := rsdtest.Track(10, []int{rsd.ChannelLeftSidescan, rsd.ChannelRightSidescan}, 44.5, -87.25)
	for _, i := range []int{4, 5, 6} {
		specs[i].CorruptBodyCRC = true
	}
	file := rsdtest.BuildFile(nil, specs...)

	res := normalize(t, file, Options{Engine: EngineAuto, CRC: rsd.CRCModeStrict})
	assert.Equal(t, 1, res.Fallbacks)
	assert.Equal(t, 10, res.Decoded)
	assert.Zero(t, res.Skipped)

	var salvaged int
	for _, rec := range res.Records {
		if rec.Heuristic {
			salvaged++
			assert.NotZero(t, rec.Seq, "salvaged records keep their header sequence")
		}
	}
	assert.Equal(t, 3, salvaged)
	for i := 1; i < len(res.Records); i++ {
		assert.Greater(t, res.Records[i].Offset, res.Records[i-1].Offset,
			"fallback retries must not disturb offset order")
	}
}

func TestNormalizeAutoShortStreakIsSkippedNotRetried(t *testing.T) {
	specs := rsdtest.Track(10, []int{rsd.ChannelLeftSidescan}, 44.5, -87.25)
	specs[3].CorruptBodyCRC = true
	specs[4].CorruptBodyCRC = true
	file := rsdtest.BuildFile(nil, specs...)

	res := normalize(t, file, Options{Engine: EngineAuto, CRC: rsd.CRCModeStrict})
	assert.Zero(t, res.Fallbacks)
	assert.Equal(t, 8, res.Decoded)
	assert.Equal(t, 2, res.Skipped)
}

func TestNormalizeFlagsPositionJump(t *testing.T) {
	specs := rsdtest.Track(20, []int{rsd.ChannelLeftSidescan}, 44.5, -87.25)
	// Teleport the back half of the track one degree north (~111 km).
	for i := 10; i < len(specs); i++ {
		lat := *specs[i].Lat + 1.0
		specs[i].Lat = &lat
	}
	file := rsdtest.BuildFile(nil, specs...)

	res := normalize(t, file, Options{Engine: EngineStrict})
	assert.Equal(t, 20, res.Decoded)
	assert.Equal(t, 1, res.Flagged)

	var anomalous []int
	for i, rec := range res.Records {
		if rec.Anomalous {
			anomalous = append(anomalous, i)
		}
	}
	assert.Equal(t, []int{10}, anomalous, "only the first record after the jump is anomalous")
}

func TestNormalizeChannelFilter(t *testing.T) {
	specs := rsdtest.Track(10, []int{rsd.ChannelLeftSidescan, rsd.ChannelRightSidescan}, 44.5, -87.25)
	file := rsdtest.BuildFile(nil, specs...)

	res := normalize(t, file, Options{Engine: EngineStrict, Channels: []int{rsd.ChannelLeftSidescan}})
	assert.Equal(t, 5, res.Decoded)
	for _, rec := range res.Records {
		assert.Equal(t, rsd.ChannelLeftSidescan, rec.Channel)
	}
}

func TestNormalizeMaxRecords(t *testing.T) {
	specs := rsdtest.Track(30, []int{rsd.ChannelLeftSidescan}, 44.5, -87.25)
	file := rsdtest.BuildFile(nil, specs...)

	res := normalize(t, file, Options{Engine: EngineStrict, MaxRecords: 7})
	assert.Equal(t, 7, res.Decoded)
}

func TestNormalizeNoHeadersIsFatal(t *testing.T) {
	file := make([]byte, 4096)
	_, err := Normalize(context.Background(), bytes.NewReader(file), int64(len(file)), Options{})
	assert.ErrorIs(t, err, scan.ErrNoHeaders)
}

func TestNormalizeLeadingJunkResyncs(t *testing.T) {
	specs := rsdtest.Track(6, []int{rsd.ChannelLeftSidescan}, 44.5, -87.25)
	junk := bytes.Repeat([]byte{0xDE, 0xAD}, 300)
	file := rsdtest.BuildFile(junk, specs...)

	res := normalize(t, file, Options{Engine: EngineStrict})
	assert.Equal(t, 6, res.Decoded)
	assert.Equal(t, int64(len(junk)), res.Records[0].Offset)
}

func TestNormalizeUnknownEngine(t *testing.T) {
	specs := rsdtest.Track(2, []int{rsd.ChannelLeftSidescan}, 44.5, -87.25)
	file := rsdtest.BuildFile(nil, specs...)
	_, err := Normalize(context.Background(), bytes.NewReader(file), int64(len(file)), Options{Engine: "psychic"})
	assert.ErrorContains(t, err, "unknown engine")
}

func TestNormalizeProgressNeverMovesBackwards(t *testing.T) {
	specs := rsdtest.Track(600, []int{rsd.ChannelLeftSidescan}, 44.5, -87.25)
	file := rsdtest.BuildFile(nil, specs...)

	var pcts []float64
	res := normalize(t, file, Options{
		Engine: EngineStrict,
		Progress: func(pct *float64, msg string) {
			if pct != nil {
				pcts = append(pcts, *pct)
			}
		},
	})
	assert.Equal(t, 600, res.Decoded)

	require.NotEmpty(t, pcts)
	for i := 1; i < len(pcts); i++ {
		assert.GreaterOrEqual(t, pcts[i], pcts[i-1], "scan and decode phases share one bar")
	}
	assert.Equal(t, 100.0, pcts[len(pcts)-1])
}

func TestProbeChannels(t *testing.T) {
	specs := rsdtest.Track(30, []int{rsd.ChannelLeftSidescan, rsd.ChannelRightSidescan, 1}, 44.5, -87.25)
	file := rsdtest.BuildFile(nil, specs...)

	counts, err := ProbeChannels(context.Background(), bytes.NewReader(file), int64(len(file)), 30)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{rsd.ChannelLeftSidescan: 10, rsd.ChannelRightSidescan: 10, 1: 10}, counts)
}

func TestLoadSamples(t *testing.T) {
	specs := rsdtest.Track(5, []int{rsd.ChannelLeftSidescan}, 44.5, -87.25)
	file := rsdtest.BuildFile(nil, specs...)

	res := normalize(t, file, Options{Engine: EngineStrict})
	for _, rec := range res.Records {
		assert.Nil(t, rec.Samples, "decode alone must not load payloads")
	}

	require.NoError(t, LoadSamples(context.Background(), bytes.NewReader(file), res.Records))
	for i, rec := range res.Records {
		assert.Equal(t, specs[i].Samples, rec.Samples)
	}
}

func TestNormalizeCancellation(t *testing.T) {
	specs := rsdtest.Track(4, []int{rsd.ChannelLeftSidescan}, 44.5, -87.25)
	file := rsdtest.BuildFile(nil, specs...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Normalize(ctx, bytes.NewReader(file), int64(len(file)), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
