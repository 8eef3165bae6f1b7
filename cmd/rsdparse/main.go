// rsdparse decodes a Garmin RSD sonar log into navigation records, exports
// them as CSV or sqlite, and optionally renders the paired sidescan
// channels into an aligned waterfall mosaic.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/config"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/progress"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/export"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/stream"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/trackdb"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/version"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/waterfall"
)

var (
	input      = flag.String("input", "", "Path to the .rsd log (required)")
	csvOut     = flag.String("csv", "", "Write decoded records to this CSV path")
	dbPath     = flag.String("db", "", "Persist the run to this sqlite database")
	pngOut     = flag.String("png", "", "Render the waterfall mosaic to this PNG path")
	configPath = flag.String("config", "", "JSON tuning config; flags override its values")

	engine     = flag.String("engine", "", "Decode engine: strict, tolerant or auto")
	channels   = flag.String("channels", "", "Comma-separated channel ids (default all)")
	permissive = flag.Bool("permissive-crc", true, "Keep records whose checksum does not verify")
	maxRecords = flag.Int("max-records", 0, "Stop after this many records (0 = no limit)")
	workers    = flag.Int("scan-workers", 0, "Parallel scan ranges (0 = single range)")
	blockRows  = flag.Int("block-rows", 0, "Waterfall block height in records")
	seqWindow  = flag.Float64("seq-window", 0, "Block pairing sequence window")
	quiet      = flag.Bool("quiet", false, "Suppress progress output")
	probe      = flag.Bool("probe", false, "Only report which channels the log contains")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Printf("rsdparse %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(*input)
	if err != nil {
		log.Fatalf("open input: %v", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.Fatalf("stat input: %v", err)
	}

	if *probe {
		counts, err := stream.ProbeChannels(ctx, f, info.Size(), *maxRecords)
		if err != nil {
			log.Fatalf("probe channels: %v", err)
		}
		chans := make([]int, 0, len(counts))
		for ch := range counts {
			chans = append(chans, ch)
		}
		sort.Ints(chans)
		for _, ch := range chans {
			fmt.Printf("channel %d: %d records\n", ch, counts[ch])
		}
		return
	}

	opts := buildOptions(cfg, set)
	start := time.Now()
	res, err := stream.Normalize(ctx, f, info.Size(), opts)
	if err != nil {
		log.Fatalf("normalize: %v", err)
	}
	log.Printf("decoded %d of %d records in %s (%d skipped, %d flagged, %d fallbacks)",
		res.Decoded, res.Headers, time.Since(start).Round(time.Millisecond),
		res.Skipped, res.Flagged, res.Fallbacks)

	var pairs []waterfall.AlignedBlockPair
	if *pngOut != "" || *dbPath != "" {
		if err := stream.LoadSamples(ctx, f, res.Records); err != nil {
			log.Fatalf("load samples: %v", err)
		}
		eng := waterfall.NewEngine()
		eng.BlockRows = pick(*blockRows, set["block-rows"], cfg.GetBlockRows())
		eng.SeqWindow = pickF(*seqWindow, set["seq-window"], cfg.GetSeqWindow())
		pairs, err = eng.Run(ctx, res.Records)
		if err != nil {
			log.Fatalf("align blocks: %v", err)
		}
		log.Printf("aligned %d block pairs", len(pairs))
	}

	if *csvOut != "" {
		if err := writeCSV(*csvOut, res.Records); err != nil {
			log.Fatalf("write csv: %v", err)
		}
		log.Printf("wrote %s", *csvOut)
	}

	if *dbPath != "" {
		if err := persistRun(ctx, *dbPath, res, pairs, opts.Engine); err != nil {
			log.Fatalf("persist run: %v", err)
		}
		log.Printf("persisted run to %s", *dbPath)
	}

	if *pngOut != "" {
		if err := writeMosaic(*pngOut, pairs, cfg.GetMosaicGap()); err != nil {
			log.Fatalf("write mosaic: %v", err)
		}
		log.Printf("wrote %s", *pngOut)
	}
}

// buildOptions merges config file values with explicit flag overrides.
func buildOptions(cfg *config.TuningConfig, set map[string]bool) stream.Options {
	opts := stream.Options{
		Engine:        cfg.GetEngine(),
		Channels:      cfg.GetChannels(),
		MaxRecords:    cfg.GetMaxRecords(),
		MaxJumpM:      cfg.GetMaxJumpM(),
		FallbackAfter: cfg.GetFallbackAfter(),
		ScanWorkers:   cfg.GetScanWorkers(),
	}
	bands := cfg.GetBands()
	opts.Bands = &bands

	crcPermissive := cfg.GetPermissiveCRC()
	if set["permissive-crc"] {
		crcPermissive = *permissive
	}
	if crcPermissive {
		opts.CRC = rsd.CRCModePermissive
	} else {
		opts.CRC = rsd.CRCModeStrict
	}

	if set["engine"] {
		opts.Engine = *engine
	}
	if set["channels"] {
		opts.Channels = parseChannels(*channels)
	}
	if set["max-records"] {
		opts.MaxRecords = *maxRecords
	}
	if set["scan-workers"] {
		opts.ScanWorkers = *workers
	}
	if !*quiet {
		opts.Progress = progress.Throttled(func(pct *float64, msg string) {
			if pct != nil {
				fmt.Fprintf(os.Stderr, "\r%5.1f%% %-60s", *pct, msg)
			}
		}, 200*time.Millisecond)
	}
	return opts
}

func parseChannels(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ch, err := strconv.Atoi(part)
		if err != nil {
			log.Fatalf("invalid channel %q", part)
		}
		out = append(out, ch)
	}
	return out
}

func pick(flagVal int, isSet bool, cfgVal int) int {
	if isSet {
		return flagVal
	}
	return cfgVal
}

func pickF(flagVal float64, isSet bool, cfgVal float64) float64 {
	if isSet {
		return flagVal
	}
	return cfgVal
}

func writeCSV(path string, records []*rsd.Record) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteCSV(out, records); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func persistRun(ctx context.Context, path string, res *stream.Result, pairs []waterfall.AlignedBlockPair, engine string) error {
	db, err := trackdb.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	runID, err := db.NewRun(*input, engine)
	if err != nil {
		return err
	}
	if err := db.InsertRecords(ctx, runID, res.Records); err != nil {
		return err
	}
	if err := db.InsertPairs(ctx, runID, pairs); err != nil {
		return err
	}
	return db.FinishRun(runID, res.Headers, res.Decoded, res.Skipped, res.Flagged, res.Fallbacks)
}

func writeMosaic(path string, pairs []waterfall.AlignedBlockPair, gap int) error {
	img := waterfall.Mosaic(pairs, waterfall.MosaicOptions{Gap: gap})
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
