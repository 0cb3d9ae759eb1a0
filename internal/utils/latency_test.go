package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTrackerPercentiles(t *testing.T) {
	tracker := NewLatencyTracker(10)
	for _, d := range []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
	} {
		tracker.Observe(d)
	}

	require.Equal(t, 5, tracker.Count())
	assert.Equal(t, 10*time.Millisecond, tracker.Percentile(0))
	assert.Equal(t, 30*time.Millisecond, tracker.Percentile(50))
	assert.Equal(t, 50*time.Millisecond, tracker.Percentile(100))
	assert.GreaterOrEqual(t, tracker.Percentile(95), 40*time.Millisecond)
}

func TestLatencyTrackerEmptyReturnsZero(t *testing.T) {
	assert.Zero(t, NewLatencyTracker(4).Percentile(95))
}

func TestLatencyTrackerRingEvictsOldest(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}

	// only the last three samples remain
	require.Equal(t, 3, tracker.Count())
	assert.Equal(t, 8*time.Millisecond, tracker.Percentile(0))
	assert.Equal(t, 10*time.Millisecond, tracker.Percentile(100))
}
