package waterfall

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
)

// fftRowThreshold is the block height above which the correlation switches
// from the direct O(n·s) sweep to the FFT path. Below it the direct sweep
// is faster and allocation-free.
const fftRowThreshold = 64

// AlignedBlockPair carries the estimated row shift between the two sides
// of a pair and how much to trust it. A degenerate pair (missing side,
// empty samples, zero variance) aligns with ShiftRows 0 and Confidence 0.
type AlignedBlockPair struct {
	Pair       BlockPair
	ShiftRows  int
	Confidence float64
}

// Align estimates the vertical offset between the pair's two blocks by
// normalized cross-correlation of their per-row intensity profiles. The
// search range is bounded by half the shorter block. Identical input
// always yields identical output.
func Align(pair BlockPair) AlignedBlockPair {
	out := AlignedBlockPair{Pair: pair}
	if pair.Left == nil || pair.Right == nil {
		return out
	}
	a := normalizedProfile(pair.Left)
	b := normalizedProfile(pair.Right)
	if a == nil || b == nil {
		return out
	}

	maxShift := len(a) / 2
	if m := len(b) / 2; m < maxShift {
		maxShift = m
	}
	if maxShift == 0 {
		return out
	}

	var scores []float64
	if len(a) >= fftRowThreshold && len(a) == len(b) {
		scores = correlateFFT(a, b, maxShift)
	} else {
		scores = correlateDirect(a, b, maxShift)
	}

	best := floats.MaxIdx(scores)
	out.ShiftRows = best - maxShift
	out.Confidence = peakSharpness(scores, best)
	if out.Confidence == 0 {
		out.ShiftRows = 0
	}
	return out
}

// normalizedProfile reduces a block to one mean sample intensity per row,
// centered and scaled to unit variance. nil means the block carries no
// usable signal.
func normalizedProfile(b *ChannelBlock) []float64 {
	rows := make([]float64, 0, len(b.Records))
	for _, rec := range b.Records {
		rows = append(rows, rowIntensity(rec))
	}
	if len(rows) < 2 {
		return nil
	}
	mean, std := stat.MeanStdDev(rows, nil)
	if std == 0 || math.IsNaN(std) {
		return nil
	}
	floats.AddConst(-mean, rows)
	floats.Scale(1/std, rows)
	return rows
}

func rowIntensity(rec *rsd.Record) float64 {
	if len(rec.Samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range rec.Samples {
		sum += float64(s)
	}
	return sum / float64(len(rec.Samples))
}

// correlateDirect computes the normalized correlation score for every shift
// in [-maxShift, maxShift]; index i holds shift i-maxShift.
func correlateDirect(a, b []float64, maxShift int) []float64 {
	scores := make([]float64, 2*maxShift+1)
	for s := -maxShift; s <= maxShift; s++ {
		sum, n := 0.0, 0
		for i := range a {
			j := i + s
			if j < 0 || j >= len(b) {
				continue
			}
			sum += a[i] * b[j]
			n++
		}
		if n > 0 {
			scores[s+maxShift] = sum / float64(n)
		}
	}
	return scores
}

// correlateFFT computes the same scores through the frequency domain:
// corr(s) = IFFT(FFT(a) · conj(FFT(b))). Both inputs are zero-padded to
// avoid circular wraparound, then the result is trimmed and normalized to
// match correlateDirect's overlap scaling.
func correlateFFT(a, b []float64, maxShift int) []float64 {
	n := len(a)
	padded := 2 * n
	pa := make([]float64, padded)
	pb := make([]float64, padded)
	copy(pa, a)
	copy(pb, b)

	fa := fft.FFTReal(pa)
	fb := fft.FFTReal(pb)
	prod := make([]complex128, padded)
	for i := range fa {
		prod[i] = fa[i] * complexConj(fb[i])
	}
	corr := fft.IFFT(prod)

	scores := make([]float64, 2*maxShift+1)
	for s := -maxShift; s <= maxShift; s++ {
		// corr index k holds sum a[i]*b[i-k]; shift s means b lags by -s.
		k := -s
		if k < 0 {
			k += padded
		}
		overlap := n - abs(s)
		if overlap <= 0 {
			continue
		}
		scores[s+maxShift] = real(corr[k]) / float64(overlap)
	}
	return scores
}

func complexConj(c complex128) complex128 {
	return complex(real(c), -imag(c))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// peakSharpness scores how much the winning shift stands out against the
// best score at least two rows away. A flat correlation surface means the
// estimate is noise, so the result degrades to zero.
func peakSharpness(scores []float64, peak int) float64 {
	if scores[peak] <= 0 {
		return 0
	}
	// With fewer than five shifts a centered peak has no index outside the
	// exclusion zone, so any positive peak would score 1. Too little
	// evidence either way.
	if len(scores) < 5 {
		return 0
	}
	runnerUp := math.Inf(-1)
	for i, v := range scores {
		if abs(i-peak) < 2 {
			continue
		}
		if v > runnerUp {
			runnerUp = v
		}
	}
	if math.IsInf(runnerUp, -1) {
		return 1
	}
	sharp := (scores[peak] - runnerUp) / scores[peak]
	if sharp < 0 {
		return 0
	}
	if sharp > 1 {
		return 1
	}
	return sharp
}
