package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/healthstack/healthwatch/internal/metrics"
	"github.com/healthstack/healthwatch/internal/models"
	"github.com/healthstack/healthwatch/internal/rules"
	"github.com/healthstack/healthwatch/internal/utils"
)

// Alarmer receives alarms raised by rule triggers. Satisfied by
// alarm.Manager.
type Alarmer interface {
	Raise(msg models.AlarmMessage)
}

// TenantAnalyzer owns the rule set and event queue of one tenant. A single
// worker goroutine pops events and fans each one out to every matching rule.
// The analyzer has its own lifecycle: a panicking loop leaves it stopped, and
// the engine restarts stopped analyzers before feeding them.
type TenantAnalyzer struct {
	tenant  string
	queue   *eventQueue
	alarmer Alarmer
	logger  *slog.Logger
	latency *utils.LatencyTracker

	popTimeout time.Duration

	mu    sync.RWMutex
	rules []rules.Rule

	lifeMu    sync.Mutex
	state     string
	reloading bool
	stop      chan struct{}
	done      chan struct{}
}

func newTenantAnalyzer(tenant string, ruleSet []rules.Rule, alarmer Alarmer, popTimeout time.Duration, logger *slog.Logger) *TenantAnalyzer {
	a := &TenantAnalyzer{
		tenant:     tenant,
		queue:      newEventQueue(),
		alarmer:    alarmer,
		logger:     logger.With("tenant", tenant),
		latency:    utils.NewLatencyTracker(256),
		popTimeout: popTimeout,
		state:      StateStopped,
	}
	a.install(ruleSet)
	return a
}

// start spawns the worker loop. Starting a running or draining analyzer is a
// no-op, so the dispatcher can call it unconditionally before feeding. A
// reload in progress also blocks the start: the rule set is being swapped and
// the loop must not observe it half-built. Queued events wait and are
// processed once the reload restarts the analyzer.
func (a *TenantAnalyzer) start() {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	if a.state != StateStopped || a.reloading {
		return
	}
	a.state = StateRunning
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(a.stop, a.done)
}

// stopAndDrain signals the worker and waits, bounded by wait, for it to
// process the remaining queue. On success the pairing timers are cancelled and
// true is returned. On timeout the analyzer is left draining and false is
// returned; the caller decides whether to abandon it.
func (a *TenantAnalyzer) stopAndDrain(wait time.Duration) bool {
	a.lifeMu.Lock()
	state := a.state
	stop, done := a.stop, a.done
	if state == StateRunning {
		a.state = StateShuttingDown
		close(stop)
	}
	a.lifeMu.Unlock()

	if state == StateStopped || done == nil {
		a.stopAllTimers()
		return true
	}

	select {
	case <-done:
		a.stopAllTimers()
		return true
	case <-time.After(wait):
		return false
	}
}

// beginReload blocks dispatcher restarts until endReload. The caller stops
// and drains the analyzer between the two.
func (a *TenantAnalyzer) beginReload() {
	a.lifeMu.Lock()
	a.reloading = true
	a.lifeMu.Unlock()
}

func (a *TenantAnalyzer) endReload() {
	a.lifeMu.Lock()
	a.reloading = false
	a.lifeMu.Unlock()
}

func (a *TenantAnalyzer) currentState() string {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	return a.state
}

func (a *TenantAnalyzer) setState(state string) {
	a.lifeMu.Lock()
	a.state = state
	a.lifeMu.Unlock()
}

func (a *TenantAnalyzer) enqueue(ev *models.Event) {
	a.queue.push(ev)
}

func (a *TenantAnalyzer) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("analyzer loop panicked", "panic", rec)
			a.alarmer.Raise(models.NewAlarm(models.AlarmMedium, origin(a.tenant, "analyzer"),
				fmt.Sprintf("analyzer loop for %s stopped by panic: %v", a.tenant, rec)))
		}
		a.setState(StateStopped)
	}()

	for {
		select {
		case <-stop:
			for {
				ev, ok := a.queue.pop()
				if !ok {
					return
				}
				a.process(ev)
			}
		default:
		}

		if ev, ok := a.queue.popWait(a.popTimeout); ok {
			a.process(ev)
		}
	}
}

// process runs every matching rule against the event. Rules run in parallel
// and a panicking rule is isolated so the rest of the set still evaluates.
func (a *TenantAnalyzer) process(ev *models.Event) {
	start := time.Now()

	a.mu.RLock()
	ruleSet := make([]rules.Rule, len(a.rules))
	copy(ruleSet, a.rules)
	a.mu.RUnlock()

	var wg sync.WaitGroup
	for _, r := range ruleSet {
		if op := r.Operation(); op != "" && op != ev.OperationName {
			continue
		}
		wg.Add(1)
		go func(r rules.Rule) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					a.logger.Error("rule evaluation panicked",
						"rule", r.Name(),
						"event_id", ev.ID,
						"panic", rec)
				}
			}()
			if r.Evaluate(ev) {
				a.trigger(r, ev)
			}
		}(r)
	}
	wg.Wait()

	elapsed := time.Since(start)
	a.latency.Observe(elapsed)
	metrics.EventProcessed(a.tenant, elapsed)
}

// trigger raises the alarm for a triggered rule. ev is nil on the asynchronous
// timeout path, where no event is at hand.
func (a *TenantAnalyzer) trigger(r rules.Rule, ev *models.Event) {
	metrics.RuleTriggered(string(r.Kind()))
	msg := models.AlarmMessage{
		Level:   r.Level(),
		Origin:  origin(a.tenant, r.Name()),
		Message: fmt.Sprintf("rule %s triggered: %s", r.Name(), r.AlarmText()),
	}
	if ev != nil {
		msg.ExceptionText = ev.ErrorDetail
		msg.StorageID = ev.ID
	}
	a.alarmer.Raise(msg)
}

func origin(tenant, rule string) string {
	return fmt.Sprintf("%s/%s", tenant, rule)
}

// addOrReplaceRule inserts the rule, replacing any rule of the same name. The
// analyzer's tenant is fixed at construction; a rule owned by another tenant
// is a caller bug and is rejected.
func (a *TenantAnalyzer) addOrReplaceRule(r rules.Rule) error {
	if r.Tenant() != a.tenant {
		return fmt.Errorf("rule %s belongs to tenant %q, analyzer owns %q", r.Name(), r.Tenant(), a.tenant)
	}
	a.wireTimeout(r)

	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.rules {
		if existing.Name() == r.Name() {
			stopTimers(a.rules[i : i+1])
			a.rules[i] = r
			return nil
		}
	}
	a.rules = append(a.rules, r)
	return nil
}

// unloadAllRules discards the rule set and cancels pending pairing timers.
func (a *TenantAnalyzer) unloadAllRules() {
	a.mu.Lock()
	old := a.rules
	a.rules = nil
	a.mu.Unlock()
	stopTimers(old)
}

// install swaps in a new rule set wholesale, wiring pairing-timeout callbacks
// and cancelling timers of the outgoing set.
func (a *TenantAnalyzer) install(ruleSet []rules.Rule) {
	for _, r := range ruleSet {
		a.wireTimeout(r)
	}

	a.mu.Lock()
	old := a.rules
	a.rules = ruleSet
	a.mu.Unlock()

	stopTimers(old)
}

func (a *TenantAnalyzer) wireTimeout(r rules.Rule) {
	if tb, ok := r.(*rules.TimeBetween); ok {
		tb.OnTimeout(func(tb *rules.TimeBetween) {
			a.trigger(tb, nil)
		})
	}
}

func (a *TenantAnalyzer) status() models.AnalyzerStatus {
	a.mu.RLock()
	ruleCount := len(a.rules)
	a.mu.RUnlock()
	status := models.AnalyzerStatus{
		Name:       a.tenant,
		State:      a.currentState(),
		QueueDepth: a.queue.len(),
		RuleCount:  ruleCount,
	}
	if p95 := a.latency.Percentile(95); p95 > 0 {
		status.ProcessingP95 = p95.String()
	}
	return status
}

// ruleNames returns the live rule names, used by the operational surface.
func (a *TenantAnalyzer) ruleNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.rules))
	for _, r := range a.rules {
		names = append(names, r.Name())
	}
	return names
}

func (a *TenantAnalyzer) stopAllTimers() {
	a.mu.RLock()
	defer a.mu.RUnlock()
	stopTimers(a.rules)
}

func stopTimers(ruleSet []rules.Rule) {
	for _, r := range ruleSet {
		if tb, ok := r.(*rules.TimeBetween); ok {
			tb.Stop()
		}
	}
}
