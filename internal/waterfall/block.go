// Package waterfall groups normalized sidescan records into fixed-size
// blocks per channel, pairs port and starboard blocks by sequence
// proximity, and estimates the row shift between the two sides of each
// pair by cross-correlation. Paired, shifted blocks are what the mosaic
// composer consumes.
package waterfall

import (
	"sort"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
)

const (
	// DefaultBlockRows is the canonical waterfall block height.
	DefaultBlockRows = 25
	// DefaultSeqWindow bounds how far apart (in sequence counts) two
	// blocks may sit and still pair.
	DefaultSeqWindow = 40
)

// ChannelBlock is a run of consecutive records from one channel. Records
// keep stream order; StartSeq/EndSeq span the sequence numbers inside.
type ChannelBlock struct {
	Channel  int
	Index    int
	StartSeq uint32
	EndSeq   uint32
	Records  []*rsd.Record
	// Partial marks a final block shorter than the requested height.
	Partial bool
}

// Rows returns the block height in records.
func (b *ChannelBlock) Rows() int { return len(b.Records) }

// MidSeq is the pairing key: the midpoint of the block's sequence span.
func (b *ChannelBlock) MidSeq() float64 {
	return (float64(b.StartSeq) + float64(b.EndSeq)) / 2
}

// BuildBlocks splits records into per-channel blocks of rows records each,
// preserving stream order. The final block of a channel may be partial and
// is flagged as such, never dropped.
func BuildBlocks(records []*rsd.Record, rows int) map[int][]*ChannelBlock {
	if rows <= 0 {
		rows = DefaultBlockRows
	}
	byChannel := make(map[int][]*rsd.Record)
	for _, rec := range records {
		byChannel[rec.Channel] = append(byChannel[rec.Channel], rec)
	}

	out := make(map[int][]*ChannelBlock, len(byChannel))
	for ch, recs := range byChannel {
		for at := 0; at < len(recs); at += rows {
			end := at + rows
			if end > len(recs) {
				end = len(recs)
			}
			chunk := recs[at:end]
			out[ch] = append(out[ch], &ChannelBlock{
				Channel:  ch,
				Index:    at / rows,
				StartSeq: chunk[0].Seq,
				EndSeq:   chunk[len(chunk)-1].Seq,
				Records:  chunk,
				Partial:  len(chunk) < rows,
			})
		}
	}
	return out
}

// BlockPair joins a port block with its starboard counterpart. Right is nil
// for an unpaired left block.
type BlockPair struct {
	Left  *ChannelBlock
	Right *ChannelBlock
}

// PairBlocks matches left blocks to the right block whose sequence midpoint
// is nearest, within window sequence counts. Each right block is used at
// most once; pairing is greedy in left order, which keeps the result
// deterministic for identical input.
func PairBlocks(left, right []*ChannelBlock, window float64) []BlockPair {
	if window <= 0 {
		window = DefaultSeqWindow
	}
	taken := make([]bool, len(right))
	pairs := make([]BlockPair, 0, len(left))
	for _, lb := range left {
		best, bestDist := -1, window
		for i, rb := range right {
			if taken[i] {
				continue
			}
			d := lb.MidSeq() - rb.MidSeq()
			if d < 0 {
				d = -d
			}
			if d <= bestDist {
				best, bestDist = i, d
			}
		}
		pair := BlockPair{Left: lb}
		if best >= 0 {
			taken[best] = true
			pair.Right = right[best]
		}
		pairs = append(pairs, pair)
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Left.Index < pairs[j].Left.Index
	})
	return pairs
}
