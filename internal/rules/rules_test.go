package rules

import (
	"sync"
	"testing"
	"time"

	"github.com/healthstack/healthwatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets window tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func failure(tenant string) *models.Event {
	return models.NewEvent(tenant, "op", models.ResultFailure)
}

func success(tenant string) *models.Event {
	return models.NewEvent(tenant, "op", models.ResultSuccess)
}

func TestMaxFailureCountTriggersOnThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewMaxFailureCount("tenant-a", "too-many-failures", "", models.AlarmHigh, 9*time.Second, 4)
	r.now = clock.now

	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.True(t, r.Evaluate(failure("tenant-a")))
	assert.Contains(t, r.AlarmText(), "4 failures")
}

func TestMaxFailureCountClearsWindowAfterTrigger(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewMaxFailureCount("tenant-a", "too-many-failures", "", models.AlarmHigh, time.Minute, 2)
	r.now = clock.now

	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.True(t, r.Evaluate(failure("tenant-a")))
	// window cleared, the count starts over
	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.True(t, r.Evaluate(failure("tenant-a")))
}

func TestMaxFailureCountIgnoresNonFailures(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewMaxFailureCount("tenant-a", "too-many-failures", "", models.AlarmHigh, time.Minute, 2)
	r.now = clock.now

	assert.False(t, r.Evaluate(failure("tenant-a")))
	for i := 0; i < 10; i++ {
		assert.False(t, r.Evaluate(success("tenant-a")))
	}
	assert.True(t, r.Evaluate(failure("tenant-a")))
}

func TestMaxFailureCountEvictsExpiredFailures(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewMaxFailureCount("tenant-a", "too-many-failures", "", models.AlarmHigh, 9*time.Second, 3)
	r.now = clock.now

	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.False(t, r.Evaluate(failure("tenant-a")))
	clock.advance(10 * time.Second)
	// both earlier failures expired, window restarts at one
	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.True(t, r.Evaluate(failure("tenant-a")))
}

func TestFailurePercentageTriggersOnRatio(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewFailurePercentage("tenant-a", "failure-rate", "", models.AlarmMedium, time.Minute, 50, 4)
	r.now = clock.now

	assert.False(t, r.Evaluate(success("tenant-a")))
	assert.False(t, r.Evaluate(success("tenant-a")))
	assert.False(t, r.Evaluate(failure("tenant-a")))
	// 2 failures of 4 total: 50% at the minimum sample size
	assert.True(t, r.Evaluate(failure("tenant-a")))
	assert.Contains(t, r.AlarmText(), "50%")
}

func TestFailurePercentageHonorsMinimumSample(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewFailurePercentage("tenant-a", "failure-rate", "", models.AlarmMedium, time.Minute, 50, 4)
	r.now = clock.now

	// 100% failures but below the minimum operation count
	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.True(t, r.Evaluate(failure("tenant-a")))
}

func TestFailurePercentageNeutralOnlyAgesWindow(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewFailurePercentage("tenant-a", "failure-rate", "", models.AlarmMedium, time.Minute, 50, 2)
	r.now = clock.now

	assert.False(t, r.Evaluate(failure("tenant-a")))
	neutral := models.NewEvent("tenant-a", "op", models.ResultNeutral)
	assert.False(t, r.Evaluate(neutral))
	assert.True(t, r.Evaluate(failure("tenant-a")))
}

func TestFailurePercentageClearsBothQueuesAfterTrigger(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	r := NewFailurePercentage("tenant-a", "failure-rate", "", models.AlarmMedium, time.Minute, 50, 2)
	r.now = clock.now

	assert.False(t, r.Evaluate(success("tenant-a")))
	assert.False(t, r.Evaluate(failure("tenant-a")))
	assert.True(t, r.Evaluate(failure("tenant-a")))
	// fresh window: one failure alone is below the minimum sample
	assert.False(t, r.Evaluate(failure("tenant-a")))
}

// counter is a thread-safe timeout tally for TimeBetween tests.
type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) bump(*TimeBetween) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *counter) waitFor(t *testing.T, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for c.value() < want {
		select {
		case <-deadline:
			t.Fatalf("timeout callback fired %d times, want %d", c.value(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTimeBetweenTimesOutWithoutEnd(t *testing.T) {
	r := NewTimeBetween("tenant-a", "backup-overdue", "", models.AlarmHigh, 30*time.Millisecond, "backup-start", "backup-end")
	fired := &counter{}
	r.OnTimeout(fired.bump)

	assert.False(t, r.Evaluate(models.NewEvent("tenant-a", "backup-start", models.ResultSuccess)))
	require.True(t, r.Armed())

	fired.waitFor(t, 1)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, fired.value())
	assert.False(t, r.Armed())
	assert.Contains(t, r.AlarmText(), "backup-start")
}

func TestTimeBetweenEndInsideWindowDisarms(t *testing.T) {
	r := NewTimeBetween("tenant-a", "backup-overdue", "", models.AlarmHigh, 30*time.Millisecond, "backup-start", "backup-end")
	fired := &counter{}
	r.OnTimeout(fired.bump)

	assert.False(t, r.Evaluate(models.NewEvent("tenant-a", "backup-start", models.ResultSuccess)))
	assert.False(t, r.Evaluate(models.NewEvent("tenant-a", "backup-end", models.ResultSuccess)))
	assert.False(t, r.Armed())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, fired.value())
}

func TestTimeBetweenIgnoresUnrelatedOperations(t *testing.T) {
	r := NewTimeBetween("tenant-a", "backup-overdue", "", models.AlarmHigh, time.Minute, "backup-start", "backup-end")
	defer r.Stop()
	r.OnTimeout(func(*TimeBetween) {})

	assert.False(t, r.Evaluate(models.NewEvent("tenant-a", "unrelated", models.ResultSuccess)))
	assert.False(t, r.Armed())

	r.Evaluate(models.NewEvent("tenant-a", "backup-start", models.ResultSuccess))
	r.Evaluate(models.NewEvent("tenant-a", "unrelated", models.ResultSuccess))
	assert.True(t, r.Armed())
}

func TestTimeBetweenDoubleStartTriggersSynchronously(t *testing.T) {
	r := NewTimeBetween("tenant-a", "backup-overdue", "", models.AlarmHigh, time.Minute, "backup-start", "backup-end")
	defer r.Stop()
	r.OnTimeout(func(*TimeBetween) {})

	assert.False(t, r.Evaluate(models.NewEvent("tenant-a", "backup-start", models.ResultSuccess)))
	assert.True(t, r.Evaluate(models.NewEvent("tenant-a", "backup-start", models.ResultSuccess)))
	assert.Contains(t, r.AlarmText(), "twice")
	assert.False(t, r.Armed())
}

func TestTimeBetweenEndWithoutStartTriggersSynchronously(t *testing.T) {
	r := NewTimeBetween("tenant-a", "backup-overdue", "", models.AlarmHigh, time.Minute, "backup-start", "backup-end")
	defer r.Stop()
	r.OnTimeout(func(*TimeBetween) {})

	assert.True(t, r.Evaluate(models.NewEvent("tenant-a", "backup-end", models.ResultSuccess)))
	assert.Contains(t, r.AlarmText(), "no prior")
}

func TestTimeBetweenWithoutCallbackTriggersSynchronously(t *testing.T) {
	r := NewTimeBetween("tenant-a", "backup-overdue", "", models.AlarmHigh, time.Minute, "backup-start", "backup-end")
	defer r.Stop()

	assert.True(t, r.Evaluate(models.NewEvent("tenant-a", "backup-start", models.ResultSuccess)))
	assert.Contains(t, r.AlarmText(), "callback")
	assert.False(t, r.Armed())
}

func TestTimeBetweenHeartbeatRestartsWindow(t *testing.T) {
	r := NewTimeBetween("tenant-a", "sync-heartbeat", "sync", models.AlarmMedium, 50*time.Millisecond, "", "")
	fired := &counter{}
	r.OnTimeout(fired.bump)

	for i := 0; i < 4; i++ {
		assert.False(t, r.Evaluate(models.NewEvent("tenant-a", "sync", models.ResultSuccess)))
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 0, fired.value())
	require.True(t, r.Armed())

	fired.waitFor(t, 1)
	assert.Contains(t, r.AlarmText(), "recur")
}

func TestDefinitionBuildPerKind(t *testing.T) {
	defs := []Definition{
		{
			Tenant:      "tenant-a",
			Name:        "too-many-failures",
			Kind:        KindMaxFailureCount,
			Level:       models.AlarmHigh,
			Window:      Duration{9 * time.Second},
			MaxFailures: 4,
		},
		{
			Tenant:        "tenant-a",
			Name:          "failure-rate",
			Kind:          KindFailurePercentage,
			Level:         models.AlarmMedium,
			Window:        Duration{time.Minute},
			MaxPercentage: 50,
			MinOperations: 4,
		},
		{
			Tenant:         "tenant-a",
			Name:           "backup-overdue",
			Kind:           KindTimeBetween,
			Level:          models.AlarmHigh,
			Window:         Duration{time.Hour},
			StartOperation: "backup-start",
			EndOperation:   "backup-end",
		},
	}

	built, err := BuildAll(defs)
	require.NoError(t, err)
	require.Len(t, built, 3)

	assert.IsType(t, &MaxFailureCount{}, built[0])
	assert.IsType(t, &FailurePercentage{}, built[1])
	assert.IsType(t, &TimeBetween{}, built[2])
	built[2].(*TimeBetween).Stop()
}

func TestDefinitionValidateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		def  Definition
	}{
		{"missing tenant", Definition{Name: "x", Kind: KindMaxFailureCount, Level: models.AlarmLow, Window: Duration{time.Second}, MaxFailures: 1}},
		{"missing name", Definition{Tenant: "t", Kind: KindMaxFailureCount, Level: models.AlarmLow, Window: Duration{time.Second}, MaxFailures: 1}},
		{"zero window", Definition{Tenant: "t", Name: "x", Kind: KindMaxFailureCount, Level: models.AlarmLow, MaxFailures: 1}},
		{"bad level", Definition{Tenant: "t", Name: "x", Kind: KindMaxFailureCount, Level: "urgent", Window: Duration{time.Second}, MaxFailures: 1}},
		{"unknown kind", Definition{Tenant: "t", Name: "x", Kind: "script", Level: models.AlarmLow, Window: Duration{time.Second}}},
		{"zero threshold", Definition{Tenant: "t", Name: "x", Kind: KindMaxFailureCount, Level: models.AlarmLow, Window: Duration{time.Second}}},
		{"percentage out of range", Definition{Tenant: "t", Name: "x", Kind: KindFailurePercentage, Level: models.AlarmLow, Window: Duration{time.Second}, MaxPercentage: 150, MinOperations: 1}},
		{"same start and end", Definition{Tenant: "t", Name: "x", Kind: KindTimeBetween, Level: models.AlarmLow, Window: Duration{time.Second}, StartOperation: "a", EndOperation: "a"}},
		{"start without end", Definition{Tenant: "t", Name: "x", Kind: KindTimeBetween, Level: models.AlarmLow, Window: Duration{time.Second}, StartOperation: "a"}},
		{"no operations at all", Definition{Tenant: "t", Name: "x", Kind: KindTimeBetween, Level: models.AlarmLow, Window: Duration{time.Second}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.def.Validate())
		})
	}
}

func TestDurationJSONRoundTrip(t *testing.T) {
	d := Duration{90 * time.Second}
	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))

	var back Duration
	require.NoError(t, back.UnmarshalJSON(b))
	assert.Equal(t, d.Duration, back.Duration)

	assert.Error(t, back.UnmarshalJSON([]byte(`42`)))
}
