package alarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/healthstack/healthwatch/internal/metrics"
	"github.com/healthstack/healthwatch/internal/models"
)

// Tap observes every alarm that passes flood control. Taps feed auxiliary
// consumers such as the live alarm stream; they must not block.
type Tap func(msg models.AlarmMessage)

// Manager owns the alarm pipeline: rules raise alarms into an unbounded queue,
// a single delivery goroutine runs them through flood control, and survivors
// are broadcast to the registered channels.
type Manager struct {
	queue  *queue
	holder *ChannelHolder
	flood  *floodControl
	logger *slog.Logger

	flushInterval time.Duration

	mu   sync.Mutex
	taps []Tap

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewManager wires the pipeline. floodCooldown is the per-origin quiet period;
// flushInterval is how often pending summaries are re-checked.
func NewManager(holder *ChannelHolder, floodCooldown, flushInterval time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		queue:         newQueue(),
		holder:        holder,
		flood:         newFloodControl(floodCooldown),
		logger:        logger,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Raise enqueues an alarm for delivery. Never blocks.
func (m *Manager) Raise(msg models.AlarmMessage) {
	m.queue.push(msg)
}

// AddTap registers an observer for delivered alarms.
func (m *Manager) AddTap(tap Tap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taps = append(m.taps, tap)
}

// Start launches the delivery loop.
func (m *Manager) Start() {
	go m.run()
}

// Stop drains the queue, delivers what it can, and waits for the loop to exit.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

// QueueDepth reports the number of alarms waiting for delivery.
func (m *Manager) QueueDepth() int {
	return m.queue.len()
}

func (m *Manager) run() {
	defer close(m.done)
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("alarm delivery loop panicked, flood control degraded", "panic", rec)
			m.raiseDegraded(rec)
		}
	}()
	for {
		select {
		case <-m.stop:
			m.drain()
			return
		default:
		}

		if msg, ok := m.queue.popWait(m.flushInterval); ok {
			m.process(msg)
		}
		for _, agg := range m.flood.flush() {
			m.deliverAggregate(agg)
		}
	}
}

// drain empties the queue on shutdown. Flood control still applies so a burst
// raised right before Stop cannot hammer the channels; whatever it absorbs is
// released as summaries on the next start of the process.
func (m *Manager) drain() {
	for {
		msg, ok := m.queue.pop()
		if !ok {
			break
		}
		m.process(msg)
	}
	for _, agg := range m.flood.flush() {
		m.deliverAggregate(agg)
	}
}

func (m *Manager) process(msg models.AlarmMessage) {
	if !m.flood.admit(msg) {
		m.logger.Debug("alarm absorbed by flood control", "origin", msg.Origin, "level", msg.Level)
		return
	}
	m.deliver(msg)
}

func (m *Manager) deliver(msg models.AlarmMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.holder.Broadcast(ctx, msg)
	metrics.AlarmSent(string(msg.Level))
	m.notifyTaps(msg)
}

func (m *Manager) deliverAggregate(agg Aggregate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.holder.BroadcastAggregated(ctx, agg)
	metrics.AlarmSent(string(agg.Alarm.Level))
	// taps observe the rendered summary, same shape as direct alarms
	m.notifyTaps(agg.Summary())
}

// raiseDegraded pushes one last high alarm reporting the dead delivery loop.
// The channel that caused the panic may panic again here, so the broadcast is
// fenced; channels registered before it still get the notice.
func (m *Manager) raiseDegraded(rec any) {
	defer func() { _ = recover() }()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := models.NewAlarm(models.AlarmHigh, "alarm-manager",
		fmt.Sprintf("alarm delivery loop stopped by panic, flood control degraded: %v", rec))
	m.holder.Broadcast(ctx, msg)
	m.notifyTaps(msg)
}

func (m *Manager) notifyTaps(msg models.AlarmMessage) {
	m.mu.Lock()
	taps := make([]Tap, len(m.taps))
	copy(taps, m.taps)
	m.mu.Unlock()
	for _, tap := range taps {
		tap(msg)
	}
}
