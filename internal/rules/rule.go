package rules

import (
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// Rule is one stateful detection algorithm owned by a single tenant analyzer.
// Evaluate mutates the rule's window state on every call; the boolean reports a
// synchronous trigger. TimeBetween additionally triggers asynchronously through
// its timeout callbacks, so callers must not rely on the return value alone for
// that kind.
type Rule interface {
	Name() string
	Tenant() string
	// Operation returns the operation-name filter. Empty means the rule applies
	// to every operation of the tenant.
	Operation() string
	Kind() Kind
	Level() models.AlarmLevel
	Evaluate(ev *models.Event) bool
	// AlarmText returns the human message set by the most recent trigger.
	AlarmText() string
}

// base carries the attributes shared by all rule kinds.
type base struct {
	kind      Kind
	tenant    string
	name      string
	operation string
	level     models.AlarmLevel
	window    time.Duration
	alarmText string
}

func (b *base) Name() string             { return b.name }
func (b *base) Tenant() string           { return b.tenant }
func (b *base) Operation() string        { return b.operation }
func (b *base) Kind() Kind               { return b.kind }
func (b *base) Level() models.AlarmLevel { return b.level }
func (b *base) AlarmText() string        { return b.alarmText }

// expiryQueue is a FIFO of expiry timestamps. Entries whose expiry has passed
// are purged at the start of every evaluation, so eviction tracks wall-clock
// time rather than call count.
type expiryQueue struct {
	entries []time.Time
}

func (q *expiryQueue) evict(now time.Time) {
	i := 0
	for i < len(q.entries) && !q.entries[i].After(now) {
		i++
	}
	if i > 0 {
		q.entries = append(q.entries[:0], q.entries[i:]...)
	}
}

func (q *expiryQueue) push(expiry time.Time) {
	q.entries = append(q.entries, expiry)
}

func (q *expiryQueue) size() int { return len(q.entries) }

func (q *expiryQueue) clear() { q.entries = q.entries[:0] }
