// Package scan locates record-header magic sequences in a sonar log
// regardless of offset drift. Scanning works over an io.ReaderAt in bounded
// chunks so multi-hundred-megabyte files are never resident at once, and it
// is safely parallelizable: each chunk search is a pure function over its
// slice.
package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/progress"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
)

// ErrNoHeaders is the one fatal stream-level failure: not a single header
// magic anywhere in the scanned range.
var ErrNoHeaders = errors.New("scan: no record headers located")

const (
	// chunkSize bounds per-read memory. Cancellation is checked at chunk
	// boundaries, so this also bounds cancellation latency.
	chunkSize = 4 << 20
	// overlap keeps a magic straddling a chunk boundary findable.
	overlap = 3
)

// Headers scans [start, end) of r for the record-header magic in both byte
// orders and returns the absolute offsets found, ascending. report may be
// nil. Cancellation is honored between chunks.
func Headers(ctx context.Context, r io.ReaderAt, start, end int64, report progress.Func) ([]int64, error) {
	if report == nil {
		report = progress.Nop
	}
	if end <= start {
		return nil, nil
	}
	var offsets []int64
	buf := make([]byte, chunkSize+overlap)
	total := end - start

	for pos := start; pos < end; pos += chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		want := int64(len(buf))
		if pos+want > end {
			want = end - pos
		}
		n, err := r.ReadAt(buf[:want], pos)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("scan: read at 0x%X: %w", pos, err)
		}
		offsets = appendMatches(offsets, buf[:n], pos)
		done := pos - start + chunkSize
		if done > total {
			done = total
		}
		report(progress.Pct(float64(done)/float64(total)*100),
			fmt.Sprintf("scanning %d / %d MB", done>>20, total>>20))
	}
	return dedupe(offsets), nil
}

// HeadersParallel fans the scan out across workers, each owning an
// independent byte range, and merges the results in offset order. The
// chunk search is side-effect free so no locking is needed beyond the
// shared progress counter.
func HeadersParallel(ctx context.Context, r io.ReaderAt, size int64, workers int, report progress.Func) ([]int64, error) {
	if workers <= 1 || size <= chunkSize {
		return Headers(ctx, r, 0, size, report)
	}
	if report == nil {
		report = progress.Nop
	}

	stride := (size + int64(workers) - 1) / int64(workers)
	results := make([][]int64, workers)
	errs := make([]error, workers)
	var done atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		start := int64(w) * stride
		// Extend past the range end so a magic straddling two workers'
		// ranges is still seen by the left one.
		end := start + stride + overlap
		if end > size {
			end = size
		}
		if start >= size {
			break
		}
		wg.Add(1)
		go func(w int, start, end int64) {
			defer wg.Done()
			part, err := Headers(ctx, r, start, end, func(_ *float64, _ string) {
				d := done.Add(chunkSize)
				if d > size {
					d = size
				}
				report(progress.Pct(float64(d)/float64(size)*100),
					fmt.Sprintf("scanning %d / %d MB", d>>20, size>>20))
			})
			results[w], errs[w] = part, err
		}(w, start, end)
	}
	wg.Wait()

	var offsets []int64
	for w := range results {
		if errs[w] != nil {
			return nil, errs[w]
		}
		offsets = append(offsets, results[w]...)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return dedupe(offsets), nil
}

func appendMatches(dst []int64, chunk []byte, base int64) []int64 {
	from := len(dst)
	for _, magic := range [][]byte{rsd.HeaderMagicLE(), rsd.HeaderMagicBE()} {
		at := 0
		for {
			i := bytes.Index(chunk[at:], magic)
			if i < 0 {
				break
			}
			dst = append(dst, base+int64(at+i))
			at += i + 1
		}
	}
	fresh := dst[from:]
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })
	return dst
}

// dedupe drops duplicates introduced by chunk overlap. Input must be sorted.
func dedupe(offsets []int64) []int64 {
	if len(offsets) < 2 {
		return offsets
	}
	out := offsets[:1]
	for _, o := range offsets[1:] {
		if o != out[len(out)-1] {
			out = append(out, o)
		}
	}
	return out
}

// Spans converts header offsets into [offset, next) span bounds, the last
// span ending at fileSize. Record length is always the distance between
// located headers, never a fixed stride.
type Span struct {
	Offset int64
	End    int64
}

func Spans(offsets []int64, fileSize int64) []Span {
	spans := make([]Span, 0, len(offsets))
	for i, o := range offsets {
		end := fileSize
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		spans = append(spans, Span{Offset: o, End: end})
	}
	return spans
}
