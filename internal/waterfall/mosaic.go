package waterfall

import (
	"image"
	"image/color"
)

// MosaicOptions controls waterfall composition geometry.
type MosaicOptions struct {
	// Gap is the nadir gap in pixels between the two sides.
	Gap int
	// ColumnsPerSide pins the sample width; 0 uses the widest row.
	ColumnsPerSide int
}

// Mosaic renders aligned block pairs into a grayscale waterfall: per row,
// the port samples reversed, a nadir gap, then the starboard samples, with
// each pair's estimated shift applied to the starboard side. Pairs are
// stacked top to bottom in input order.
func Mosaic(pairs []AlignedBlockPair, opts MosaicOptions) *image.Gray {
	cols := opts.ColumnsPerSide
	if cols == 0 {
		for _, p := range pairs {
			for _, blk := range []*ChannelBlock{p.Pair.Left, p.Pair.Right} {
				if blk == nil {
					continue
				}
				for _, rec := range blk.Records {
					if len(rec.Samples) > cols {
						cols = len(rec.Samples)
					}
				}
			}
		}
	}
	height := 0
	for _, p := range pairs {
		height += pairRows(p.Pair)
	}
	width := 2*cols + opts.Gap
	img := image.NewGray(image.Rect(0, 0, width, height))

	y := 0
	for _, p := range pairs {
		rows := pairRows(p.Pair)
		for r := 0; r < rows; r++ {
			if p.Pair.Left != nil && r < len(p.Pair.Left.Records) {
				drawSide(img, p.Pair.Left.Records[r].Samples, y+r, cols, true, opts.Gap)
			}
			// The starboard side is shifted by the alignment estimate;
			// rows pushed outside the pair are dropped, not wrapped.
			if p.Pair.Right != nil {
				rr := r + p.ShiftRows
				if rr >= 0 && rr < len(p.Pair.Right.Records) {
					drawSide(img, p.Pair.Right.Records[rr].Samples, y+r, cols, false, opts.Gap)
				}
			}
		}
		y += rows
	}
	return img
}

func pairRows(p BlockPair) int {
	rows := 0
	if p.Left != nil {
		rows = len(p.Left.Records)
	}
	if p.Right != nil && len(p.Right.Records) > rows {
		rows = len(p.Right.Records)
	}
	return rows
}

// drawSide writes one row of samples. The port side renders outboard-first,
// so its samples run right-to-left toward the nadir gap.
func drawSide(img *image.Gray, samples []byte, y, cols int, port bool, gap int) {
	for i, s := range samples {
		if i >= cols {
			break
		}
		x := cols + gap + i
		if port {
			x = cols - 1 - i
		}
		img.SetGray(x, y, color.Gray{Y: s})
	}
}
