package rules

import (
	"fmt"
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// FailurePercentage triggers when the failure ratio inside the sliding window
// reaches the configured percentage, provided a minimum number of operations
// have been observed. Both queues are cleared on trigger.
type FailurePercentage struct {
	base
	maxPercent int
	minOps     int
	successes  expiryQueue
	failures   expiryQueue
	now        func() time.Time
}

// NewFailurePercentage constructs the rule. maxPercent is 0-100; minOps guards
// against triggering on tiny samples.
func NewFailurePercentage(tenant, name, operation string, level models.AlarmLevel, window time.Duration, maxPercent, minOps int) *FailurePercentage {
	return &FailurePercentage{
		base: base{
			kind:      KindFailurePercentage,
			tenant:    tenant,
			name:      name,
			operation: operation,
			level:     level,
			window:    window,
		},
		maxPercent: maxPercent,
		minOps:     minOps,
		now:        time.Now,
	}
}

// Evaluate evicts both queues first, files the event by result, then checks
// sample size and ratio. Neutral events only age the window.
func (r *FailurePercentage) Evaluate(ev *models.Event) bool {
	now := r.now()
	r.successes.evict(now)
	r.failures.evict(now)

	switch ev.Result {
	case models.ResultSuccess:
		r.successes.push(now.Add(r.window))
	case models.ResultFailure:
		r.failures.push(now.Add(r.window))
	default:
		return false
	}

	total := r.successes.size() + r.failures.size()
	ratio := float64(r.failures.size()) / float64(total)
	if total >= r.minOps && ratio*100 >= float64(r.maxPercent) {
		r.alarmText = fmt.Sprintf("%d%% failures occurred within %s", r.maxPercent, r.window)
		r.failures.clear()
		r.successes.clear()
		return true
	}
	return false
}
