package core

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latency bounds for the call histogram, in microseconds.
const (
	latencyMinMicros = 1
	latencyMaxMicros = int64(10 * time.Minute / time.Microsecond)
	latencySigFigs   = 3
)

// callTimer records remote call latencies for one run. Safe for concurrent use.
type callTimer struct {
	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

func newCallTimer() *callTimer {
	return &callTimer{hist: hdrhistogram.New(latencyMinMicros, latencyMaxMicros, latencySigFigs)}
}

// time runs fn and records how long it took.
func (t *callTimer) time(fn func()) {
	start := time.Now()
	fn()
	t.record(time.Since(start))
}

func (t *callTimer) record(d time.Duration) {
	us := d.Microseconds()
	if us < latencyMinMicros {
		us = latencyMinMicros
	}
	if us > latencyMaxMicros {
		us = latencyMaxMicros
	}
	t.mu.Lock()
	_ = t.hist.RecordValue(us)
	t.mu.Unlock()
}

// snapshot summarizes the recorded latencies.
func (t *callTimer) snapshot() CallMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hist.TotalCount() == 0 {
		return CallMetrics{}
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return CallMetrics{
		Calls: t.hist.TotalCount(),
		P50:   us(t.hist.ValueAtQuantile(50)),
		P95:   us(t.hist.ValueAtQuantile(95)),
		Max:   us(t.hist.Max()),
		Mean:  us(int64(t.hist.Mean())),
	}
}
