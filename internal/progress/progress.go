// Package progress defines the cooperative progress-reporting contract used
// by long scans, decodes and alignment runs. The sink is an injected
// callback, never a process-wide hook, and callers are guaranteed the
// emitter will not block them.
package progress

import (
	"sync"
	"time"
)

// Func receives progress updates. pct is nil when the total work is
// unknown; otherwise it is in [0, 100]. Implementations must return
// quickly; the throttled emitter additionally drops updates rather than
// wait.
type Func func(pct *float64, msg string)

// Nop discards all updates.
func Nop(*float64, string) {}

// Pct is a convenience for literal percentages at call sites.
func Pct(v float64) *float64 { return &v }

// Throttled wraps fn so at most one update per interval is delivered.
// Intermediate updates are dropped, except that a 100% update always goes
// through so consumers see completion. Safe for concurrent use by scan
// workers.
func Throttled(fn Func, interval time.Duration) Func {
	if fn == nil {
		return Nop
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	var mu sync.Mutex
	var last time.Time
	return func(pct *float64, msg string) {
		final := pct != nil && *pct >= 100
		mu.Lock()
		now := time.Now()
		if !final && now.Sub(last) < interval {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()
		fn(pct, msg)
	}
}
