// Package export writes normalized record streams to interchange formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd"
)

// csvHeader is the fixed column set. Extras are flattened into the final
// column as a key=value list so unknown firmware fields survive export.
var csvHeader = []string{
	"offset", "channel", "seq", "time_ms",
	"lat", "lon", "depth_m",
	"sample_count", "sonar_offset", "sonar_size",
	"beam_deg", "pitch_deg", "roll_deg", "heave_m",
	"tx_offset", "rx_offset", "color_id",
	"anomalous", "checksum_mismatch", "heuristic",
	"extras",
}

// WriteCSV writes records to w, one row per record, header first. Optional
// fields that were not recovered render as empty cells, never as zero.
func WriteCSV(w io.Writer, records []*rsd.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	row := make([]string, len(csvHeader))
	for _, rec := range records {
		row[0] = strconv.FormatInt(rec.Offset, 10)
		row[1] = strconv.Itoa(rec.Channel)
		row[2] = strconv.FormatUint(uint64(rec.Seq), 10)
		row[3] = strconv.FormatUint(uint64(rec.TimeMs), 10)
		row[4] = optFloat(rec.Lat, 8)
		row[5] = optFloat(rec.Lon, 8)
		row[6] = optFloat(rec.Depth, 3)
		row[7] = strconv.Itoa(rec.SampleCount)
		row[8] = strconv.FormatInt(rec.SonarOffset, 10)
		row[9] = strconv.Itoa(rec.SonarSize)
		row[10] = optFloat(rec.BeamDeg, 3)
		row[11] = optFloat(rec.PitchDeg, 3)
		row[12] = optFloat(rec.RollDeg, 3)
		row[13] = optFloat(rec.HeaveM, 3)
		row[14] = optFloat(rec.TxOffset, 3)
		row[15] = optFloat(rec.RxOffset, 3)
		row[16] = optInt(rec.ColorID)
		row[17] = flag(rec.Anomalous)
		row[18] = flag(rec.ChecksumMismatch)
		row[19] = flag(rec.Heuristic)
		row[20] = rec.Extras.Encode()
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: record at 0x%X: %w", rec.Offset, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func optFloat(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
