// track-plot renders the navigation track of a decoded sonar log as a PNG:
// longitude/latitude scatter per channel, with anomalous fixes drawn in a
// contrasting color so continuity-filter hits are visible at a glance.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/stream"
)

func main() {
	input := flag.String("input", "", "Path to the .rsd log (required)")
	output := flag.String("output", "track.png", "Output PNG path")
	engine := flag.String("engine", "auto", "Decode engine: strict, tolerant or auto")
	flag.Parse()
	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(*input)
	if err != nil {
		log.Fatalf("open input: %v", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		log.Fatalf("stat input: %v", err)
	}

	res, err := stream.Normalize(context.Background(), f, info.Size(), stream.Options{Engine: *engine})
	if err != nil {
		log.Fatalf("normalize: %v", err)
	}

	if err := renderTrack(res.Records, *output); err != nil {
		log.Fatalf("render track: %v", err)
	}
	log.Printf("wrote %s (%d records)", *output, res.Decoded)
}

func renderTrack(records []*rsd.Record, path string) error {
	p := plot.New()
	p.Title.Text = "Survey track"
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	good := make(map[int]plotter.XYs)
	bad := make(plotter.XYs, 0)
	for _, rec := range records {
		if !rec.HasFix() {
			continue
		}
		pt := plotter.XY{X: *rec.Lon, Y: *rec.Lat}
		if rec.Anomalous {
			bad = append(bad, pt)
			continue
		}
		good[rec.Channel] = append(good[rec.Channel], pt)
	}

	palette := []color.RGBA{
		{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
		{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
		{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	}
	chans := make([]int, 0, len(good))
	for ch := range good {
		chans = append(chans, ch)
	}
	sort.Ints(chans)
	for i, ch := range chans {
		s, err := plotter.NewScatter(good[ch])
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = palette[i%len(palette)]
		s.GlyphStyle.Radius = vg.Points(1)
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("channel %d", ch), s)
	}
	if len(bad) > 0 {
		s, err := plotter.NewScatter(bad)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
		s.GlyphStyle.Radius = vg.Points(2)
		p.Add(s)
		p.Legend.Add("anomalous", s)
	}

	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}
