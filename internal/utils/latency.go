package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded ring of recent duration samples. Each tenant
// analyzer owns one to report event-processing percentiles on the status
// surface.
type LatencyTracker struct {
	mu   sync.Mutex
	ring []time.Duration
	next int
	size int
}

// NewLatencyTracker returns a tracker holding the most recent size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 256
	}
	return &LatencyTracker{size: size}
}

// Observe records one sample, evicting the oldest once the ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ring) < l.size {
		l.ring = append(l.ring, d)
		return
	}
	l.ring[l.next] = d
	l.next = (l.next + 1) % l.size
}

// Percentile returns the p-th percentile (0 to 100) over the retained
// samples, or zero when nothing has been observed yet.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.ring) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), l.ring...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	idx := int((p / 100.0) * float64(len(sorted)-1))
	return sorted[idx]
}

// Count reports how many samples the ring currently holds.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ring)
}
