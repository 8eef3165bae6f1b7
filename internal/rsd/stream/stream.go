// Package stream turns a raw sonar log into an ordered, continuity-checked
// record sequence. It scans for record headers, decodes each span with the
// selected engine, and applies a positional continuity filter so one corrupt
// coordinate cannot teleport the whole track.
package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/monitoring"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/progress"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/heuristic"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/scan"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/strict"
)

// Engine selects the decode strategy.
const (
	EngineStrict   = "strict"
	EngineTolerant = "tolerant"
	// EngineAuto decodes strictly and falls back to the tolerant engine
	// after repeated consecutive strict failures, resynchronizing to
	// strict as soon as a span parses cleanly again.
	EngineAuto = "auto"
)

const (
	// defaultFallbackAfter is how many consecutive strict failures the
	// auto engine tolerates before engaging the heuristic decoder.
	defaultFallbackAfter = 3
	// defaultMaxJumpM flags a fix this far from the channel's previous
	// fix as anomalous.
	defaultMaxJumpM = 5000
	// maxSpanBytes caps a single span read. Spans are the distance
	// between consecutive header magics, so a sparse tail region could
	// otherwise ask for most of the file.
	maxSpanBytes = 256 << 10
	// cancelEvery bounds how many spans decode between cancellation
	// checks.
	cancelEvery = 256
)

// Options configures a normalization run. The zero value decodes every
// channel with the auto engine and default thresholds.
type Options struct {
	Engine        string
	Channels      []int
	CRC           rsd.CRCMode
	Bands         *heuristic.Bands
	MaxRecords    int
	MaxJumpM      float64
	FallbackAfter int
	ScanWorkers   int
	Progress      progress.Func
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Engine == "" {
		out.Engine = EngineAuto
	}
	if out.MaxJumpM <= 0 {
		out.MaxJumpM = defaultMaxJumpM
	}
	if out.FallbackAfter <= 0 {
		out.FallbackAfter = defaultFallbackAfter
	}
	if out.Progress == nil {
		out.Progress = progress.Nop
	}
	return out
}

// Result is the outcome of a normalization run. Records are ordered by file
// offset; a span that fails to decode is counted, never fatal.
type Result struct {
	Records   []*rsd.Record
	Headers   int
	Decoded   int
	Skipped   int
	Flagged   int
	Fallbacks int
}

// Normalize scans r, decodes every located span, and returns the surviving
// records in offset order. The only fatal condition is a file with no header
// magic at all; everything else degrades to skip counts.
func Normalize(ctx context.Context, r io.ReaderAt, size int64, opts Options) (*Result, error) {
	o := opts.withDefaults()

	offsets, err := scan.HeadersParallel(ctx, r, size, o.ScanWorkers, scanProgress(o.Progress))
	if err != nil {
		return nil, err
	}
	if len(offsets) == 0 {
		return nil, fmt.Errorf("%w (%d bytes scanned)", scan.ErrNoHeaders, size)
	}

	spans := scan.Spans(offsets, size)
	res := &Result{Headers: len(offsets)}
	dctx := rsd.NewDecodeContext(o.CRC, o.Channels)

	tolerant := heuristic.New()
	if o.Bands != nil {
		tolerant.Bands = *o.Bands
	}
	var primary, fallback rsd.Decoder
	switch o.Engine {
	case EngineStrict:
		primary = strict.Decoder{}
	case EngineTolerant:
		primary = tolerant
	case EngineAuto:
		primary, fallback = strict.Decoder{}, tolerant
	default:
		return nil, fmt.Errorf("stream: unknown engine %q", o.Engine)
	}

	var (
		consecFails int
		useFallback bool
		pending     []scan.Span // strict failures awaiting a fallback retry
		buf         []byte
	)

	decode := func(sp scan.Span, dec rsd.Decoder) (*rsd.Record, error) {
		n := sp.End - sp.Offset
		if n > maxSpanBytes {
			n = maxSpanBytes
		}
		if int64(cap(buf)) < n {
			buf = make([]byte, n)
		}
		buf = buf[:n]
		if _, err := r.ReadAt(buf, sp.Offset); err != nil && err != io.EOF {
			return nil, fmt.Errorf("stream: read span at 0x%X: %w", sp.Offset, err)
		}
		dctx.Pos = sp.Offset
		return dec.DecodeSpan(dctx, buf, sp.Offset)
	}

	keep := func(rec *rsd.Record) {
		if rec == nil {
			return // filtered channel
		}
		if rec.HasFix() {
			if lat, lon, ok := dctx.LastFix(rec.Channel); ok &&
				rsd.DistanceM(lat, lon, *rec.Lat, *rec.Lon) > o.MaxJumpM {
				rec.Anomalous = true
				res.Flagged++
			}
			dctx.AcceptFix(rec.Channel, *rec.Lat, *rec.Lon)
		}
		res.Records = append(res.Records, rec)
		res.Decoded++
	}

	for i, sp := range spans {
		if i%cancelEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			// The scan phase reported 0-50; decoding covers the rest.
			o.Progress(progress.Pct(50+float64(i)/float64(len(spans))*50),
				fmt.Sprintf("decoding record %d / %d", i, len(spans)))
		}
		if o.MaxRecords > 0 && res.Decoded >= o.MaxRecords {
			break
		}

		rec, err := decode(sp, primary)
		if err == nil {
			if useFallback {
				useFallback = false
				monitoring.Logf("stream: strict decode resynced at 0x%X", sp.Offset)
			}
			// A short failure streak that never reached the fallback
			// threshold is abandoned, not retried.
			res.Skipped += len(pending)
			consecFails, pending = 0, pending[:0]
			keep(rec)
			continue
		}
		if fallback == nil {
			res.Skipped++
			continue
		}

		if useFallback {
			// Inside a damaged region: strict already failed above,
			// take whatever the tolerant engine can salvage.
			if rec, err = decode(sp, fallback); err != nil {
				res.Skipped++
				continue
			}
			keep(rec)
			continue
		}

		consecFails++
		pending = append(pending, sp)
		if consecFails < o.FallbackAfter {
			continue
		}

		// Strict decoding has lost the plot for this region; retry the
		// failed spans tolerantly and stay tolerant until a span
		// parses strictly again.
		useFallback = true
		res.Fallbacks++
		dctx.FallbackCount++
		monitoring.Logf("stream: %d consecutive strict failures at 0x%X, engaging heuristic decode", consecFails, sp.Offset)
		for _, ps := range pending {
			prec, perr := decode(ps, fallback)
			if perr != nil {
				res.Skipped++
				continue
			}
			keep(prec)
		}
		consecFails, pending = 0, pending[:0]
	}

	// Spans that failed strictly but never reached the fallback threshold.
	res.Skipped += len(pending)

	o.Progress(progress.Pct(100), fmt.Sprintf("decoded %d records (%d skipped, %d flagged)", res.Decoded, res.Skipped, res.Flagged))
	return res, nil
}

// ProbeChannels decodes up to maxRecords records permissively and reports
// how many were seen per channel. Fast channel discovery for logs whose
// transducer layout is unknown.
func ProbeChannels(ctx context.Context, r io.ReaderAt, size int64, maxRecords int) (map[int]int, error) {
	if maxRecords <= 0 {
		maxRecords = 200
	}
	res, err := Normalize(ctx, r, size, Options{
		Engine:     EngineAuto,
		CRC:        rsd.CRCModePermissive,
		MaxRecords: maxRecords,
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[int]int)
	for _, rec := range res.Records {
		counts[rec.Channel]++
	}
	return counts, nil
}

// LoadSamples reads the raw sample payload of every record that has one,
// filling Record.Samples. Kept separate from decoding so metadata-only
// consumers never pay for payload IO.
func LoadSamples(ctx context.Context, r io.ReaderAt, records []*rsd.Record) error {
	for i, rec := range records {
		if i%cancelEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if rec.SonarSize <= 0 || rec.Samples != nil {
			continue
		}
		buf := make([]byte, rec.SonarSize)
		if _, err := r.ReadAt(buf, rec.SonarOffset); err != nil && err != io.EOF {
			return fmt.Errorf("stream: read samples at 0x%X: %w", rec.SonarOffset, err)
		}
		rec.Samples = buf
	}
	return nil
}

// scanProgress maps the scan phase onto the first half of the progress bar.
func scanProgress(report progress.Func) progress.Func {
	return func(pct *float64, msg string) {
		if pct == nil {
			report(nil, msg)
			return
		}
		report(progress.Pct(*pct/2), msg)
	}
}
