package rsd

// DecodeContext carries the transient state of one parse pass. It is owned
// by whichever engine is executing the pass and discarded when the pass
// completes; nothing here survives across files.
type DecodeContext struct {
	// Pos is the current absolute file position of the pass.
	Pos int64
	// Channels restricts decoding to the listed channel ids; empty means all.
	Channels []int
	// Policy selects the CRC handling for structured decodes.
	Policy CRCMode
	// FallbackCount tracks consecutive strict failures in the current scan
	// region; the normalizer uses it to trigger engine degradation.
	FallbackCount int

	// lastFix remembers the previous accepted coordinate per channel for
	// the heuristic plausibility search and the continuity filter.
	lastFix map[int]fix

	// syntheticSeq hands out per-channel sequence numbers for heuristic
	// records whose real sequence field was unrecoverable.
	syntheticSeq map[int]uint32
}

type fix struct {
	lat, lon float64
}

// CRCMode is the checksum policy for a pass.
type CRCMode int

const (
	CRCModeStrict CRCMode = iota
	CRCModePermissive
)

// NewDecodeContext returns a context for one pass over a file.
func NewDecodeContext(policy CRCMode, channels []int) *DecodeContext {
	return &DecodeContext{
		Policy:       policy,
		Channels:     channels,
		lastFix:      make(map[int]fix),
		syntheticSeq: make(map[int]uint32),
	}
}

// SyntheticSeq returns the next per-channel sequence number for records
// whose on-disk sequence field could not be recovered. Monotonic per
// channel so sequence-window pairing still works on heuristic-only passes.
func (dc *DecodeContext) SyntheticSeq(channel int) uint32 {
	dc.syntheticSeq[channel]++
	return dc.syntheticSeq[channel]
}

// WantChannel reports whether the pass should emit records for channel id.
func (dc *DecodeContext) WantChannel(id int) bool {
	if len(dc.Channels) == 0 {
		return true
	}
	for _, c := range dc.Channels {
		if c == id {
			return true
		}
	}
	return false
}

// LastFix returns the previous accepted position for a channel, if any.
func (dc *DecodeContext) LastFix(channel int) (lat, lon float64, ok bool) {
	f, ok := dc.lastFix[channel]
	return f.lat, f.lon, ok
}

// AcceptFix records a position as the channel's reference for subsequent
// plausibility checks.
func (dc *DecodeContext) AcceptFix(channel int, lat, lon float64) {
	dc.lastFix[channel] = fix{lat: lat, lon: lon}
}
