package heuristic

// Bands holds the relative-offset windows the tolerant engine searches
// within a record span. The defaults were derived empirically from a small
// set of firmware dumps and do not generalize across every release, so they
// are configuration, not invariants; the decoder logs whenever a match
// lands outside its expected band.
type Bands struct {
	// PadStart/PadEnd bound where the alternating pad sentinel run may
	// begin, relative to the header magic.
	PadStart, PadEnd int
	// PadMinRun is the minimum pad run length in bytes worth skipping.
	PadMinRun int

	// FloatStart/FloatEnd bound the block of 32-bit floats kept as
	// unnamed extras for later correlation.
	FloatStart, FloatEnd int
	// FloatCount caps how many floats are retained.
	FloatCount int

	// CoordStart/CoordEnd bound the search for the consecutive
	// latitude/longitude pair.
	CoordStart, CoordEnd int

	// DepthWindow is the byte distance around an accepted coordinate pair
	// searched for a millimeter depth word.
	DepthWindow int
	// DepthMaxMm bounds plausible depth readings.
	DepthMaxMm int32

	// MaxJumpM is the largest coordinate delta from the previous accepted
	// fix still considered part of a contiguous survey track.
	MaxJumpM float64
}

// DefaultBands returns the offsets observed on the sampled firmware dumps.
func DefaultBands() Bands {
	return Bands{
		PadStart:    8,
		PadEnd:      48,
		PadMinRun:   14,
		FloatStart:  32,
		FloatEnd:    96,
		FloatCount:  4,
		CoordStart:  64,
		CoordEnd:    512,
		DepthWindow: 64,
		DepthMaxMm:  150000,
		MaxJumpM:    2000,
	}
}
