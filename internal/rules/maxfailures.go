package rules

import (
	"fmt"
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// MaxFailureCount triggers when the number of failures inside the sliding
// window reaches the configured threshold. A trigger clears the window so the
// pile has to build up again before the rule can fire a second time.
type MaxFailureCount struct {
	base
	threshold int
	failures  expiryQueue
	now       func() time.Time
}

// NewMaxFailureCount constructs the rule. threshold must be positive.
func NewMaxFailureCount(tenant, name, operation string, level models.AlarmLevel, window time.Duration, threshold int) *MaxFailureCount {
	return &MaxFailureCount{
		base: base{
			kind:      KindMaxFailureCount,
			tenant:    tenant,
			name:      name,
			operation: operation,
			level:     level,
			window:    window,
		},
		threshold: threshold,
		now:       time.Now,
	}
}

// Evaluate ignores non-failure events entirely. For failures it evicts expired
// entries, adds the new one, then compares against the threshold; that ordering
// fixes the exact trigger boundary and must not be rearranged.
func (r *MaxFailureCount) Evaluate(ev *models.Event) bool {
	if ev.Result != models.ResultFailure {
		return false
	}
	now := r.now()
	r.failures.evict(now)
	r.failures.push(now.Add(r.window))
	if r.failures.size() >= r.threshold {
		r.alarmText = fmt.Sprintf("%d failures occurred within %s", r.threshold, r.window)
		r.failures.clear()
		return true
	}
	return false
}
