package alarm

import (
	"sync"
	"time"

	"github.com/healthstack/healthwatch/internal/models"
)

// queue is an unbounded FIFO of alarm messages. Push never blocks so rule
// evaluation cannot stall on slow channels; PopWait blocks with a timeout so
// the delivery loop wakes up regularly for flood-control flushes.
type queue struct {
	mu     sync.Mutex
	items  []models.AlarmMessage
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(msg models.AlarmMessage) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// popWait removes the oldest message, blocking up to timeout when the queue is
// empty. The second return reports whether a message was obtained.
func (q *queue) popWait(timeout time.Duration) (models.AlarmMessage, bool) {
	if msg, ok := q.pop(); ok {
		return msg, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.signal:
			if msg, ok := q.pop(); ok {
				return msg, true
			}
		case <-timer.C:
			return models.AlarmMessage{}, false
		}
	}
}

func (q *queue) pop() (models.AlarmMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return models.AlarmMessage{}, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
