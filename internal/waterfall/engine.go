package waterfall

import (
	"context"
	"runtime"
	"sync"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
)

// Engine runs the block, pair, align pipeline over a normalized record
// stream. Alignment of independent pairs fans out across Workers and fans
// back in preserving pair order.
type Engine struct {
	BlockRows    int
	SeqWindow    float64
	LeftChannel  int
	RightChannel int
	Workers      int
}

// NewEngine returns an Engine with the conventional sidescan channel pair
// and default geometry.
func NewEngine() *Engine {
	return &Engine{
		BlockRows:    DefaultBlockRows,
		SeqWindow:    DefaultSeqWindow,
		LeftChannel:  rsd.ChannelLeftSidescan,
		RightChannel: rsd.ChannelRightSidescan,
		Workers:      runtime.GOMAXPROCS(0),
	}
}

// Run blocks the records, pairs the two configured channels, and aligns
// every pair. Output order follows the left channel's block order
// regardless of worker scheduling.
func (e *Engine) Run(ctx context.Context, records []*rsd.Record) ([]AlignedBlockPair, error) {
	blocks := BuildBlocks(records, e.BlockRows)
	pairs := PairBlocks(blocks[e.LeftChannel], blocks[e.RightChannel], e.SeqWindow)
	if len(pairs) == 0 {
		return nil, nil
	}

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(pairs) {
		workers = len(pairs)
	}

	aligned := make([]AlignedBlockPair, len(pairs))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				aligned[i] = Align(pairs[i])
			}
		}()
	}

	var err error
feed:
	for i := range pairs {
		if err = ctx.Err(); err != nil {
			break feed
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return aligned, nil
}
