package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// TimeBetween watches the gap between operations. In pair mode a start
// operation arms a timer that the matching end operation must disarm within
// the window. In heartbeat mode a single operation must recur within the
// window. Timeouts fire on a timer goroutine, so interested parties register
// an OnTimeout callback; the return value of Evaluate only reports the
// synchronous trigger cases (no callback registered, start seen twice, end
// with no prior start).
type TimeBetween struct {
	base
	startOperation string
	endOperation   string

	mu            sync.Mutex
	startReceived bool
	timer         *time.Timer
	generation    uint64
	callbacks     []func(*TimeBetween)
}

// NewTimeBetween constructs the rule. With startOp and endOp set the window is
// the maximum allowed gap between the pair; with only operation set the window
// is the maximum allowed gap between recurrences.
func NewTimeBetween(tenant, name, operation string, level models.AlarmLevel, window time.Duration, startOp, endOp string) *TimeBetween {
	return &TimeBetween{
		base: base{
			kind:      KindTimeBetween,
			tenant:    tenant,
			name:      name,
			operation: operation,
			level:     level,
			window:    window,
		},
		startOperation: startOp,
		endOperation:   endOp,
	}
}

// OnTimeout registers fn to run when the window elapses. Callbacks run on the
// timer goroutine.
func (r *TimeBetween) OnTimeout(fn func(*TimeBetween)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Evaluate arms or disarms the timer depending on which operation arrived.
// A rule with no registered callback triggers synchronously on every event:
// it has no way to report a timeout, which is itself an alarm condition.
func (r *TimeBetween) Evaluate(ev *models.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.callbacks) == 0 {
		r.alarmText = "no timeout callback registered, rule cannot report timeout triggers"
		return true
	}

	switch {
	case r.operation != "" && ev.OperationName == r.operation:
		// Heartbeat: every occurrence restarts the window.
		r.disarm()
		r.arm()
	case r.startOperation != "" && ev.OperationName == r.startOperation:
		if r.startReceived {
			r.alarmText = fmt.Sprintf("start operation %q received twice with no %q between", r.startOperation, r.endOperation)
			r.disarm()
			r.startReceived = false
			return true
		}
		r.startReceived = true
		r.arm()
	case r.endOperation != "" && ev.OperationName == r.endOperation:
		if !r.startReceived {
			r.alarmText = fmt.Sprintf("end operation %q received with no prior %q", r.endOperation, r.startOperation)
			return true
		}
		r.startReceived = false
		r.disarm()
	}
	return false
}

// arm starts the window timer. The generation counter lets a stale timer that
// fires while being replaced recognize itself and bail out.
func (r *TimeBetween) arm() {
	r.generation++
	gen := r.generation
	r.timer = time.AfterFunc(r.window, func() { r.timeout(gen) })
}

func (r *TimeBetween) disarm() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *TimeBetween) timeout(gen uint64) {
	r.mu.Lock()
	if gen != r.generation || r.timer == nil {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.startReceived = false
	if r.operation != "" {
		r.alarmText = fmt.Sprintf("operation %q did not recur within %s", r.operation, r.window)
	} else {
		r.alarmText = fmt.Sprintf("operation %q did not complete with %q within %s", r.startOperation, r.endOperation, r.window)
	}
	callbacks := make([]func(*TimeBetween), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(r)
	}
}

// Operation returns empty so the analyzer routes every event through Evaluate;
// operation matching happens inside, as the pair mode watches two names.
func (r *TimeBetween) Operation() string { return "" }

// StartOperation returns the operation that arms the window.
func (r *TimeBetween) StartOperation() string { return r.startOperation }

// EndOperation returns the operation that disarms the window.
func (r *TimeBetween) EndOperation() string { return r.endOperation }

// Armed reports whether the window timer is running.
func (r *TimeBetween) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// Stop cancels any pending timer. Used when the owning analyzer shuts down or
// reloads its rule set.
func (r *TimeBetween) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startReceived = false
	r.disarm()
}
