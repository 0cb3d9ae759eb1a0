package alarm

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// Aggregate is one coalesced group of suppressed alarms: the first alarm of
// the group plus how often it repeated and over what span.
type Aggregate struct {
	Alarm     models.AlarmMessage
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// Summary renders the aggregate as a single alarm message. A group of one
// keeps its original text.
func (a Aggregate) Summary() models.AlarmMessage {
	msg := a.Alarm
	if a.Count > 1 {
		msg.Message = fmt.Sprintf("%s (repeated %d times)", a.Alarm.Message, a.Count)
	}
	return msg
}

// aggregator groups suppressed alarms by identity so a burst collapses into a
// single summary. Identity is the level plus message text; two rules producing
// the same text at the same level share one summary line.
type aggregator struct {
	entries map[string]*Aggregate
	order   []string
}

func newAggregator() *aggregator {
	return &aggregator{entries: map[string]*Aggregate{}}
}

func identity(msg models.AlarmMessage) string {
	h := sha1.Sum([]byte(string(msg.Level) + "|" + msg.Message))
	return hex.EncodeToString(h[:])
}

func (a *aggregator) add(msg models.AlarmMessage, now time.Time) {
	key := identity(msg)
	entry, ok := a.entries[key]
	if !ok {
		a.entries[key] = &Aggregate{Alarm: msg, Count: 1, FirstSeen: now, LastSeen: now}
		a.order = append(a.order, key)
		return
	}
	entry.Count++
	entry.LastSeen = now
}

// drainOrigin removes every aggregate raised by origin and returns them,
// preserving arrival order.
func (a *aggregator) drainOrigin(origin string) []Aggregate {
	var out []Aggregate
	remaining := a.order[:0]
	for _, key := range a.order {
		entry := a.entries[key]
		if entry.Alarm.Origin != origin {
			remaining = append(remaining, key)
			continue
		}
		out = append(out, *entry)
		delete(a.entries, key)
	}
	a.order = remaining
	return out
}

// origins returns the distinct origins with pending aggregates.
func (a *aggregator) origins() []string {
	seen := map[string]bool{}
	var out []string
	for _, key := range a.order {
		origin := a.entries[key].Alarm.Origin
		if !seen[origin] {
			seen[origin] = true
			out = append(out, origin)
		}
	}
	return out
}

func (a *aggregator) size() int { return len(a.entries) }
