package engine

import (
	"sync"
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// eventQueue is an unbounded FIFO of events. Producers never block; the single
// consumer blocks with a timeout so it can notice shutdown between events.
type eventQueue struct {
	mu     sync.Mutex
	items  []*models.Event
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev *models.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// popWait removes the oldest event, blocking up to timeout when the queue is
// empty.
func (q *eventQueue) popWait(timeout time.Duration) (*models.Event, bool) {
	if ev, ok := q.pop(); ok {
		return ev, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.signal:
			if ev, ok := q.pop(); ok {
				return ev, true
			}
		case <-timer.C:
			return nil, false
		}
	}
}

func (q *eventQueue) pop() (*models.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
