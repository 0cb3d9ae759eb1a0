package alarm

import (
	"time"

	"github.com/healthstack/healthwatch/internal/metrics"
	"github.com/healthstack/healthwatch/internal/models"
)

// floodControl rate-limits alarms per origin. After an origin delivers an
// alarm it enters a quiet period; alarms arriving during the quiet period are
// diverted to the aggregator and come out later as a single summary.
type floodControl struct {
	cooldown time.Duration
	lastSent map[string]time.Time
	agg      *aggregator
	now      func() time.Time
}

func newFloodControl(cooldown time.Duration) *floodControl {
	return &floodControl{
		cooldown: cooldown,
		lastSent: map[string]time.Time{},
		agg:      newAggregator(),
		now:      time.Now,
	}
}

// admit decides whether the alarm may be delivered now. A false return means
// the alarm was absorbed into the aggregator.
func (f *floodControl) admit(msg models.AlarmMessage) bool {
	now := f.now()
	if last, ok := f.lastSent[msg.Origin]; ok && now.Sub(last) < f.cooldown {
		f.agg.add(msg, now)
		metrics.AlarmSuppressed()
		return false
	}
	f.lastSent[msg.Origin] = now
	return true
}

// flush releases the aggregates of every origin whose quiet period has
// elapsed. Releasing restarts the origin's quiet period.
func (f *floodControl) flush() []Aggregate {
	now := f.now()
	var out []Aggregate
	for _, origin := range f.agg.origins() {
		if last, ok := f.lastSent[origin]; ok && now.Sub(last) < f.cooldown {
			continue
		}
		drained := f.agg.drainOrigin(origin)
		if len(drained) > 0 {
			f.lastSent[origin] = now
			out = append(out, drained...)
		}
	}
	return out
}

// pending reports how many aggregates are waiting for their quiet period to end.
func (f *floodControl) pending() int { return f.agg.size() }
