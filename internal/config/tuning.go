// Package config loads parser tuning parameters from JSON. Every field is
// optional; pointer fields distinguish "not set" from a legitimate zero and
// the Get* accessors supply defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/festeraeb/Garmin-Rsd-Sidescan/internal/rsd/heuristic"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/parser.defaults.json"

// TuningConfig is the root configuration for a parse run. The schema is
// shared between startup configuration and the CLI flag overrides.
type TuningConfig struct {
	// Decode params
	Engine        *string  `json:"engine,omitempty"` // strict | tolerant | auto
	Channels      *[]int   `json:"channels,omitempty"`
	PermissiveCRC *bool    `json:"permissive_crc,omitempty"`
	FallbackAfter *int     `json:"fallback_after,omitempty"`
	MaxRecords    *int     `json:"max_records,omitempty"`
	MaxJumpM      *float64 `json:"max_jump_m,omitempty"`
	ScanWorkers   *int     `json:"scan_workers,omitempty"`

	// Heuristic offset bands
	PadStart    *int `json:"pad_start,omitempty"`
	PadEnd      *int `json:"pad_end,omitempty"`
	PadMinRun   *int `json:"pad_min_run,omitempty"`
	FloatStart  *int `json:"float_start,omitempty"`
	FloatEnd    *int `json:"float_end,omitempty"`
	FloatCount  *int `json:"float_count,omitempty"`
	CoordStart  *int `json:"coord_start,omitempty"`
	CoordEnd    *int `json:"coord_end,omitempty"`
	DepthWindow *int `json:"depth_window,omitempty"`
	DepthMaxMm  *int `json:"depth_max_mm,omitempty"`

	// Waterfall params
	BlockRows *int     `json:"block_rows,omitempty"`
	SeqWindow *float64 `json:"seq_window,omitempty"`
	MosaicGap *int     `json:"mosaic_gap,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must
// have a .json extension and stay under the max file size. Fields omitted
// from the JSON keep their defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.Engine != nil {
		switch *c.Engine {
		case "strict", "tolerant", "auto":
		default:
			return fmt.Errorf("engine must be strict, tolerant or auto, got %q", *c.Engine)
		}
	}

	if c.FallbackAfter != nil && *c.FallbackAfter < 1 {
		return fmt.Errorf("fallback_after must be at least 1, got %d", *c.FallbackAfter)
	}

	if c.MaxJumpM != nil && *c.MaxJumpM <= 0 {
		return fmt.Errorf("max_jump_m must be positive, got %f", *c.MaxJumpM)
	}

	if c.BlockRows != nil && *c.BlockRows < 2 {
		return fmt.Errorf("block_rows must be at least 2, got %d", *c.BlockRows)
	}

	if c.PadStart != nil && c.PadEnd != nil && *c.PadEnd <= *c.PadStart {
		return fmt.Errorf("pad band is empty: [%d, %d)", *c.PadStart, *c.PadEnd)
	}

	if c.FloatStart != nil && c.FloatEnd != nil && *c.FloatEnd <= *c.FloatStart {
		return fmt.Errorf("float band is empty: [%d, %d)", *c.FloatStart, *c.FloatEnd)
	}

	if c.CoordStart != nil && c.CoordEnd != nil && *c.CoordEnd <= *c.CoordStart {
		return fmt.Errorf("coordinate band is empty: [%d, %d)", *c.CoordStart, *c.CoordEnd)
	}

	if c.DepthMaxMm != nil && *c.DepthMaxMm <= 0 {
		return fmt.Errorf("depth_max_mm must be positive, got %d", *c.DepthMaxMm)
	}

	return nil
}

// GetEngine returns the engine value or the default.
func (c *TuningConfig) GetEngine() string {
	if c.Engine == nil {
		return "auto"
	}
	return *c.Engine
}

// GetChannels returns the channel filter, nil meaning all channels.
func (c *TuningConfig) GetChannels() []int {
	if c.Channels == nil {
		return nil
	}
	return *c.Channels
}

// GetPermissiveCRC returns whether checksum mismatches are tolerated.
func (c *TuningConfig) GetPermissiveCRC() bool {
	if c.PermissiveCRC == nil {
		return true
	}
	return *c.PermissiveCRC
}

// GetFallbackAfter returns the consecutive strict failure threshold.
func (c *TuningConfig) GetFallbackAfter() int {
	if c.FallbackAfter == nil {
		return 3
	}
	return *c.FallbackAfter
}

// GetMaxRecords returns the record cap, 0 meaning unlimited.
func (c *TuningConfig) GetMaxRecords() int {
	if c.MaxRecords == nil {
		return 0
	}
	return *c.MaxRecords
}

// GetMaxJumpM returns the continuity threshold in meters.
func (c *TuningConfig) GetMaxJumpM() float64 {
	if c.MaxJumpM == nil {
		return 5000
	}
	return *c.MaxJumpM
}

// GetScanWorkers returns the scan parallelism, 0 meaning single-threaded.
func (c *TuningConfig) GetScanWorkers() int {
	if c.ScanWorkers == nil {
		return 0
	}
	return *c.ScanWorkers
}

// GetBlockRows returns the waterfall block height.
func (c *TuningConfig) GetBlockRows() int {
	if c.BlockRows == nil {
		return 25
	}
	return *c.BlockRows
}

// GetSeqWindow returns the block pairing sequence window.
func (c *TuningConfig) GetSeqWindow() float64 {
	if c.SeqWindow == nil {
		return 40
	}
	return *c.SeqWindow
}

// GetMosaicGap returns the nadir gap width in pixels.
func (c *TuningConfig) GetMosaicGap() int {
	if c.MosaicGap == nil {
		return 8
	}
	return *c.MosaicGap
}

// GetBands assembles the heuristic offset bands, starting from the engine
// defaults and overriding only the fields the config sets.
func (c *TuningConfig) GetBands() heuristic.Bands {
	b := heuristic.DefaultBands()
	if c.PadStart != nil {
		b.PadStart = *c.PadStart
	}
	if c.PadEnd != nil {
		b.PadEnd = *c.PadEnd
	}
	if c.PadMinRun != nil {
		b.PadMinRun = *c.PadMinRun
	}
	if c.FloatStart != nil {
		b.FloatStart = *c.FloatStart
	}
	if c.FloatEnd != nil {
		b.FloatEnd = *c.FloatEnd
	}
	if c.FloatCount != nil {
		b.FloatCount = *c.FloatCount
	}
	if c.CoordStart != nil {
		b.CoordStart = *c.CoordStart
	}
	if c.CoordEnd != nil {
		b.CoordEnd = *c.CoordEnd
	}
	if c.DepthWindow != nil {
		b.DepthWindow = *c.DepthWindow
	}
	if c.DepthMaxMm != nil {
		b.DepthMaxMm = int32(*c.DepthMaxMm)
	}
	return b
}
