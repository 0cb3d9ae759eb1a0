package alarm

import (
	"testing"
	"time"

	"github.com/healthstack/healthwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestFloodControlFirstAlarmPasses(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	fc := newFloodControl(time.Minute)
	fc.now = clock.now

	assert.True(t, fc.admit(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike")))
	assert.Zero(t, fc.pending())
}

func TestFloodControlSuppressesDuringCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	fc := newFloodControl(time.Minute)
	fc.now = clock.now

	require.True(t, fc.admit(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike")))
	clock.advance(10 * time.Second)
	assert.False(t, fc.admit(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike")))
	assert.False(t, fc.admit(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike")))
	assert.Equal(t, 1, fc.pending())
}

func TestFloodControlIndependentOrigins(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	fc := newFloodControl(time.Minute)
	fc.now = clock.now

	require.True(t, fc.admit(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike")))
	assert.True(t, fc.admit(models.NewAlarm(models.AlarmHigh, "rule-b", "other problem")))
}

func TestFloodControlFlushSummarizesRepeats(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	fc := newFloodControl(time.Minute)
	fc.now = clock.now

	require.True(t, fc.admit(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike")))
	for i := 0; i < 3; i++ {
		clock.advance(time.Second)
		fc.admit(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike"))
	}

	// still inside the quiet period, nothing is due
	assert.Empty(t, fc.flush())

	clock.advance(2 * time.Minute)
	flushed := fc.flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, 3, flushed[0].Count)
	assert.Equal(t, "rule-a", flushed[0].Alarm.Origin)
	assert.Equal(t, 2*time.Second, flushed[0].LastSeen.Sub(flushed[0].FirstSeen))
	assert.Equal(t, "failure spike (repeated 3 times)", flushed[0].Summary().Message)
	assert.Zero(t, fc.pending())
}

func TestFloodControlFlushRestartsQuietPeriod(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	fc := newFloodControl(time.Minute)
	fc.now = clock.now

	require.True(t, fc.admit(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike")))
	fc.admit(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike"))

	clock.advance(2 * time.Minute)
	require.Len(t, fc.flush(), 1)

	// the summary restarted the cooldown
	assert.False(t, fc.admit(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike")))
}

func TestFloodControlSingleSuppressedAlarmKeepsText(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	fc := newFloodControl(time.Minute)
	fc.now = clock.now

	require.True(t, fc.admit(models.NewAlarm(models.AlarmLow, "rule-a", "slow response")))
	fc.admit(models.NewAlarm(models.AlarmLow, "rule-a", "slow response"))

	clock.advance(2 * time.Minute)
	flushed := fc.flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, 1, flushed[0].Count)
	assert.Equal(t, "slow response", flushed[0].Summary().Message)
}

func TestAggregatorGroupsByLevelAndText(t *testing.T) {
	now := time.Now()
	agg := newAggregator()
	agg.add(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike"), now)
	agg.add(models.NewAlarm(models.AlarmLow, "rule-a", "failure spike"), now)
	agg.add(models.NewAlarm(models.AlarmHigh, "rule-a", "failure spike"), now)

	assert.Equal(t, 2, agg.size())
	drained := agg.drainOrigin("rule-a")
	require.Len(t, drained, 2)
	assert.Equal(t, "failure spike (repeated 2 times)", drained[0].Summary().Message)
	assert.Equal(t, models.AlarmHigh, drained[0].Alarm.Level)
	assert.Equal(t, "failure spike", drained[1].Summary().Message)
	assert.Equal(t, models.AlarmLow, drained[1].Alarm.Level)
}
