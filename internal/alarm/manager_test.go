package alarm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/healthstack/healthwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	mu         sync.Mutex
	sent       []models.AlarmMessage
	aggregated []Aggregate
	err        error
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Send(_ context.Context, msg models.AlarmMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) SendAggregated(_ context.Context, agg Aggregate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.aggregated = append(c.aggregated, agg)
	return nil
}

func (c *recordingChannel) messages() []models.AlarmMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.AlarmMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *recordingChannel) aggregates() []Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Aggregate, len(c.aggregated))
	copy(out, c.aggregated)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestManagerDeliversToChannels(t *testing.T) {
	ch := &recordingChannel{}
	holder := NewChannelHolder(testLogger())
	holder.Register(ch, models.AlarmLow)

	mgr := NewManager(holder, time.Minute, 10*time.Millisecond, testLogger())
	mgr.Start()
	defer mgr.Stop()

	mgr.Raise(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike"))

	waitFor(t, func() bool { return len(ch.messages()) == 1 })
	assert.Equal(t, "failure spike", ch.messages()[0].Message)
}

func TestManagerSuppressesRepeatsAndSummarizes(t *testing.T) {
	ch := &recordingChannel{}
	holder := NewChannelHolder(testLogger())
	holder.Register(ch, models.AlarmLow)

	mgr := NewManager(holder, 50*time.Millisecond, 10*time.Millisecond, testLogger())
	mgr.Start()
	defer mgr.Stop()

	for i := 0; i < 4; i++ {
		mgr.Raise(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike"))
	}

	// first passes immediately, the rest come back as one aggregate after the
	// quiet period
	waitFor(t, func() bool { return len(ch.aggregates()) == 1 })
	require.Len(t, ch.messages(), 1)
	assert.Equal(t, "failure spike", ch.messages()[0].Message)
	agg := ch.aggregates()[0]
	assert.Equal(t, 3, agg.Count)
	assert.Equal(t, "failure spike (repeated 3 times)", agg.Summary().Message)
}

type brokenChannel struct{}

func (brokenChannel) Name() string { return "broken" }

func (brokenChannel) Send(context.Context, models.AlarmMessage) error {
	panic("channel backend corrupted")
}

func (brokenChannel) SendAggregated(context.Context, Aggregate) error {
	panic("channel backend corrupted")
}

func TestManagerSurvivesPanickingChannel(t *testing.T) {
	working := &recordingChannel{}
	holder := NewChannelHolder(testLogger())
	holder.Register(working, models.AlarmLow)
	holder.Register(brokenChannel{}, models.AlarmLow)

	mgr := NewManager(holder, time.Minute, 10*time.Millisecond, testLogger())
	mgr.Start()

	mgr.Raise(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike"))

	// the delivery loop dies but the process does not; the degraded notice
	// still reaches the surviving channel
	waitFor(t, func() bool { return len(working.messages()) == 2 })
	last := working.messages()[1]
	assert.Equal(t, models.AlarmHigh, last.Level)
	assert.Equal(t, "alarm-manager", last.Origin)
	assert.Contains(t, last.Message, "flood control degraded")

	mgr.Stop()
}

func TestManagerStopDrainsQueue(t *testing.T) {
	ch := &recordingChannel{}
	holder := NewChannelHolder(testLogger())
	holder.Register(ch, models.AlarmLow)

	mgr := NewManager(holder, time.Minute, 10*time.Millisecond, testLogger())
	mgr.Raise(models.NewAlarm(models.AlarmHigh, "rule-a", "one"))
	mgr.Raise(models.NewAlarm(models.AlarmHigh, "rule-b", "two"))
	mgr.Start()
	mgr.Stop()

	assert.Len(t, ch.messages(), 2)
	assert.Zero(t, mgr.QueueDepth())
}

func TestManagerTapSeesDeliveredAlarms(t *testing.T) {
	holder := NewChannelHolder(testLogger())
	mgr := NewManager(holder, time.Minute, 10*time.Millisecond, testLogger())

	var mu sync.Mutex
	var tapped []models.AlarmMessage
	mgr.AddTap(func(msg models.AlarmMessage) {
		mu.Lock()
		tapped = append(tapped, msg)
		mu.Unlock()
	})

	mgr.Start()
	mgr.Raise(models.NewAlarm(models.AlarmMedium, "rule-a", "failure spike"))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(tapped) == 1
	})
	mgr.Stop()
}

func TestChannelHolderFiltersByLevel(t *testing.T) {
	low := &recordingChannel{}
	high := &recordingChannel{}
	holder := NewChannelHolder(testLogger())
	holder.Register(low, models.AlarmLow)
	holder.Register(high, models.AlarmHigh)

	holder.Broadcast(context.Background(), models.NewAlarm(models.AlarmMedium, "rule-a", "warn"))

	assert.Len(t, low.messages(), 1)
	assert.Empty(t, high.messages())
}

func TestChannelHolderContinuesPastFailingChannel(t *testing.T) {
	broken := &recordingChannel{err: errors.New("webhook down")}
	working := &recordingChannel{}
	holder := NewChannelHolder(testLogger())
	holder.Register(broken, models.AlarmLow)
	holder.Register(working, models.AlarmLow)

	holder.Broadcast(context.Background(), models.NewAlarm(models.AlarmHigh, "rule-a", "boom"))
	require.Len(t, working.messages(), 1)
}
