package rsd

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ExtraKind discriminates the variant stored in an ExtraValue.
type ExtraKind int

const (
	ExtraUint ExtraKind = iota
	ExtraFloat
	ExtraBytes
	ExtraFlag
)

// ExtraValue is a tagged variant for auxiliary decoder output. Known
// telemetry lives in typed Record fields; extras carry forward-compatible
// unknown tags and decoder diagnostics without collapsing everything to
// strings.
type ExtraValue struct {
	Kind ExtraKind
	U    uint64
	F    float64
	B    []byte
}

// Extras maps auxiliary value names to tagged variants.
type Extras map[string]ExtraValue

func UintExtra(v uint64) ExtraValue   { return ExtraValue{Kind: ExtraUint, U: v} }
func FloatExtra(v float64) ExtraValue { return ExtraValue{Kind: ExtraFloat, F: v} }
func BytesExtra(b []byte) ExtraValue  { return ExtraValue{Kind: ExtraBytes, B: b} }
func FlagExtra() ExtraValue           { return ExtraValue{Kind: ExtraFlag, U: 1} }

// Set stores v under name, allocating the map on first use.
func (e *Extras) Set(name string, v ExtraValue) {
	if *e == nil {
		*e = make(Extras, 4)
	}
	(*e)[name] = v
}

// Has reports whether name is present.
func (e Extras) Has(name string) bool {
	_, ok := e[name]
	return ok
}

func (v ExtraValue) String() string {
	switch v.Kind {
	case ExtraUint:
		return strconv.FormatUint(v.U, 10)
	case ExtraFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case ExtraBytes:
		return hex.EncodeToString(v.B)
	case ExtraFlag:
		return "1"
	}
	return ""
}

// Encode renders the extras as a stable semicolon-delimited key=value list
// for the text table export surface. Keys are sorted so output is
// deterministic.
func (e Extras) Encode() string {
	if len(e) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(';')
		}
		fmt.Fprintf(&sb, "%s=%s", k, e[k])
	}
	return sb.String()
}
