package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/healthstack/healthwatch/internal/metrics"
	"github.com/healthstack/healthwatch/internal/models"
	"github.com/healthstack/healthwatch/internal/rules"
)

// Engine states.
const (
	StateStopped      = "stopped"
	StateRunning      = "running"
	StateShuttingDown = "shutting_down"
)

// ErrNotRunning is returned when an event is submitted outside the running
// state.
var ErrNotRunning = errors.New("engine is not running")

// RuleSource provides rule definitions. Satisfied by the storage layer.
type RuleSource interface {
	Definitions(ctx context.Context) ([]rules.Definition, error)
	DefinitionsForTenant(ctx context.Context, tenant string) ([]rules.Definition, error)
}

// Archiver records processed events. Satisfied by the event store.
type Archiver interface {
	Archive(ctx context.Context, ev *models.Event) error
}

// Options tunes engine timing.
type Options struct {
	// PopTimeout bounds how long the dispatcher and analyzers block waiting
	// for an event before re-checking for shutdown.
	PopTimeout time.Duration
	// ReloadWait bounds how long a rule reload waits for an analyzer to drain.
	ReloadWait time.Duration
	// StopWait bounds how long Stop waits for each analyzer to drain before
	// abandoning it.
	StopWait time.Duration
}

func (o *Options) normalize() {
	if o.PopTimeout <= 0 {
		o.PopTimeout = time.Second
	}
	if o.ReloadWait <= 0 {
		o.ReloadWait = 30 * time.Second
	}
	if o.StopWait <= 0 {
		o.StopWait = 30 * time.Second
	}
}

// Engine routes submitted events to per-tenant analyzers. A single dispatcher
// goroutine pops the main queue; analyzers created on first sight of a tenant
// load that tenant's rules from the rule source. Stop drains the main queue
// and every analyzer queue before returning.
type Engine struct {
	opts    Options
	source  RuleSource
	alarmer Alarmer
	archive Archiver
	logger  *slog.Logger

	mu        sync.RWMutex
	state     string
	analyzers map[string]*TenantAnalyzer

	queue        *eventQueue
	stopDispatch chan struct{}
	dispatchDone chan struct{}

	diagMu sync.Mutex
	diag   []models.TimestampedMessage
}

// New builds a stopped engine.
func New(opts Options, source RuleSource, alarmer Alarmer, archive Archiver, logger *slog.Logger) *Engine {
	opts.normalize()
	return &Engine{
		opts:      opts,
		source:    source,
		alarmer:   alarmer,
		archive:   archive,
		logger:    logger,
		state:     StateStopped,
		analyzers: map[string]*TenantAnalyzer{},
		queue:     newEventQueue(),
	}
}

// Start transitions the engine to running: all rule definitions are loaded
// and grouped by tenant, one analyzer is created and started per tenant, then
// the dispatch loop begins. Starting an engine that is not stopped is an
// error, not a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("cannot start engine in state %q", e.state)
	}
	e.state = StateRunning
	stop := make(chan struct{})
	done := make(chan struct{})
	e.stopDispatch = stop
	e.dispatchDone = done
	e.mu.Unlock()

	e.preloadAnalyzers()

	go e.dispatch(stop, done)
	e.note("engine started")
	e.logger.Info("engine started")
	return nil
}

// preloadAnalyzers creates an analyzer for every tenant known to the rule
// source. Storage being unreachable is not fatal: analyzers are then created
// lazily as events arrive.
func (e *Engine) preloadAnalyzers() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	defs, err := e.source.Definitions(ctx)
	if err != nil {
		e.logger.Warn("preloading rule definitions failed", "error", err)
		e.note("rule preload failed: %v", err)
		return
	}

	byTenant := map[string][]rules.Definition{}
	for _, d := range defs {
		byTenant[d.Tenant] = append(byTenant[d.Tenant], d)
	}

	for tenant, tenantDefs := range byTenant {
		ruleSet := e.buildRules(tenant, tenantDefs)

		e.mu.Lock()
		if _, ok := e.analyzers[tenant]; ok {
			e.mu.Unlock()
			continue
		}
		a := newTenantAnalyzer(tenant, ruleSet, e.alarmer, e.opts.PopTimeout, e.logger)
		a.start()
		e.analyzers[tenant] = a
		count := len(e.analyzers)
		e.mu.Unlock()

		metrics.SetActiveAnalyzers(count)
		e.note("analyzer for %s started with %d rules", tenant, len(ruleSet))
		e.logger.Info("analyzer started", "tenant", tenant, "rules", len(ruleSet))
	}
}

// Stop drains and stops the engine. Events already accepted are fully
// processed; new submissions are rejected as soon as Stop begins.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("cannot stop engine in state %q", e.state)
	}
	e.state = StateShuttingDown
	stop, done := e.stopDispatch, e.dispatchDone
	e.mu.Unlock()

	e.note("engine shutting down, draining %d queued events", e.queue.len())
	close(stop)
	<-done

	e.mu.Lock()
	analyzers := e.analyzers
	e.analyzers = map[string]*TenantAnalyzer{}
	e.mu.Unlock()

	for _, a := range analyzers {
		if !a.stopAndDrain(e.opts.StopWait) {
			e.note("analyzer for %s did not stop within %s, abandoned", a.tenant, e.opts.StopWait)
			e.logger.Warn("analyzer did not stop in time", "tenant", a.tenant, "wait", e.opts.StopWait)
		}
	}
	metrics.SetActiveAnalyzers(0)
	metrics.SetMainQueueDepth(0)

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()
	e.note("engine stopped")
	e.logger.Info("engine stopped")
	return nil
}

// Submit queues an event for analysis. Rejected unless the engine is running.
func (e *Engine) Submit(ev *models.Event) error {
	e.mu.RLock()
	running := e.state == StateRunning
	e.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}
	e.queue.push(ev)
	metrics.SetMainQueueDepth(e.queue.len())
	return nil
}

// State reports the current lifecycle state.
func (e *Engine) State() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// QueueDepth reports the number of events waiting in the main queue.
func (e *Engine) QueueDepth() int {
	return e.queue.len()
}

// Statuses returns a snapshot of every tenant analyzer.
func (e *Engine) Statuses() []models.AnalyzerStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.AnalyzerStatus, 0, len(e.analyzers))
	for _, a := range e.analyzers {
		out = append(out, a.status())
	}
	return out
}

// TenantRules returns the rule names loaded for a tenant. The second return
// reports whether the tenant has an analyzer.
func (e *Engine) TenantRules(tenant string) ([]string, bool) {
	e.mu.RLock()
	a, ok := e.analyzers[tenant]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return a.ruleNames(), true
}

// ReloadTenant stops the tenant's analyzer, waits (bounded) for it to drain,
// unloads its rules, fetches a fresh set, and restarts it. On drain timeout
// the running rules stay untouched and the error is returned; the analyzer is
// restarted by the dispatcher when its next event arrives. On fetch failure
// the analyzer restarts without rules.
func (e *Engine) ReloadTenant(ctx context.Context, tenant string) error {
	e.mu.RLock()
	a, ok := e.analyzers[tenant]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no analyzer for tenant %q", tenant)
	}

	a.beginReload()
	if !a.stopAndDrain(e.opts.ReloadWait) {
		a.endReload()
		e.note("reload for %s aborted: analyzer did not stop within %s", tenant, e.opts.ReloadWait)
		return fmt.Errorf("analyzer %s did not stop within %s", tenant, e.opts.ReloadWait)
	}

	a.unloadAllRules()
	ruleSet, err := e.loadRules(ctx, tenant)
	if err != nil {
		a.endReload()
		a.start()
		e.note("reload for %s failed, analyzer restarted without rules: %v", tenant, err)
		return fmt.Errorf("reload rules for %s: %w", tenant, err)
	}
	for _, r := range ruleSet {
		if err := a.addOrReplaceRule(r); err != nil {
			e.logger.Warn("skipping rule on reload", "tenant", tenant, "error", err)
		}
	}
	a.endReload()
	a.start()
	e.note("reloaded %d rules for tenant %s", len(ruleSet), tenant)
	e.logger.Info("rules reloaded", "tenant", tenant, "rules", len(ruleSet))
	return nil
}

// Diagnostics returns the recent engine activity log, newest last.
func (e *Engine) Diagnostics() []models.TimestampedMessage {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	out := make([]models.TimestampedMessage, len(e.diag))
	copy(out, e.diag)
	return out
}

func (e *Engine) dispatch(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("dispatch loop panicked", "panic", rec)
			e.alarmer.Raise(models.NewAlarm(models.AlarmHigh, "engine/dispatch",
				fmt.Sprintf("engine dispatch loop stopped by panic: %v", rec)))
			e.note("engine dispatch loop stopped by panic: %v", rec)
			e.mu.Lock()
			e.state = StateStopped
			e.mu.Unlock()
		}
	}()
	for {
		select {
		case <-stop:
			for {
				ev, ok := e.queue.pop()
				if !ok {
					return
				}
				e.route(ev)
			}
		default:
		}

		if ev, ok := e.queue.popWait(e.opts.PopTimeout); ok {
			e.route(ev)
			metrics.SetMainQueueDepth(e.queue.len())
		}
	}
}

func (e *Engine) route(ev *models.Event) {
	if e.archive != nil {
		if err := e.archive.Archive(context.Background(), ev); err != nil {
			e.logger.Warn("event archive failed", "event_id", ev.ID, "error", err)
		}
	}
	a := e.analyzerFor(ev.Tenant)
	a.start()
	a.enqueue(ev)
}

// analyzerFor returns the tenant's analyzer, creating and starting one on
// first sight. A tenant whose rules cannot be loaded still gets an analyzer,
// with an empty rule set, so its events drain instead of piling up.
func (e *Engine) analyzerFor(tenant string) *TenantAnalyzer {
	e.mu.RLock()
	a, ok := e.analyzers[tenant]
	e.mu.RUnlock()
	if ok {
		return a
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.analyzers[tenant]; ok {
		return a
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ruleSet, err := e.loadRules(ctx, tenant)
	if err != nil {
		e.logger.Warn("loading rules failed, starting analyzer without rules",
			"tenant", tenant, "error", err)
		e.note("analyzer for %s started without rules: %v", tenant, err)
		ruleSet = nil
	}

	a = newTenantAnalyzer(tenant, ruleSet, e.alarmer, e.opts.PopTimeout, e.logger)
	a.start()
	e.analyzers[tenant] = a
	metrics.SetActiveAnalyzers(len(e.analyzers))
	e.note("analyzer for %s started with %d rules", tenant, len(ruleSet))
	e.logger.Info("analyzer started", "tenant", tenant, "rules", len(ruleSet))
	return a
}

// loadRules fetches and builds the tenant's rules.
func (e *Engine) loadRules(ctx context.Context, tenant string) ([]rules.Rule, error) {
	defs, err := e.source.DefinitionsForTenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return e.buildRules(tenant, defs), nil
}

// buildRules constructs the evaluators, skipping definitions that fail
// validation so one bad rule cannot block the rest.
func (e *Engine) buildRules(tenant string, defs []rules.Definition) []rules.Rule {
	ruleSet := make([]rules.Rule, 0, len(defs))
	for i := range defs {
		r, err := defs[i].Build()
		if err != nil {
			e.logger.Warn("skipping invalid rule definition", "tenant", tenant, "error", err)
			continue
		}
		ruleSet = append(ruleSet, r)
	}
	return ruleSet
}

const diagLimit = 100

func (e *Engine) note(format string, args ...any) {
	e.diagMu.Lock()
	defer e.diagMu.Unlock()
	e.diag = append(e.diag, models.TimestampedMessage{
		Time: time.Now().UTC(),
		Text: fmt.Sprintf(format, args...),
	})
	if len(e.diag) > diagLimit {
		e.diag = e.diag[len(e.diag)-diagLimit:]
	}
}
