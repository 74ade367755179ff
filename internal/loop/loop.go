// Package loop drives one agent through perceive, believe, deliberate,
// plan, execute and reflect, forever.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/agentd/internal/backoff"
	"github.com/Harshitk-cp/agentd/internal/capability"
	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/Harshitk-cp/agentd/internal/service"
	cbackoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// phaseCleanup labels errors raised by end-of-cycle housekeeping.
	phaseCleanup domain.Phase = "cleanup"

	cleanupTimeout = 30 * time.Second
	maxBeliefDelta = 500
)

// Deps are the services one loop orchestrates. The loop never owns their
// state; it only sequences calls.
type Deps struct {
	AgentID      uuid.UUID
	Registry     *capability.Registry
	Beliefs      *service.BeliefService
	Goals        *service.GoalService
	Intentions   *service.IntentionStack
	Reflection   *service.ReflectionService
	Observations domain.ObservationStore
	Cycles       domain.CycleStore
}

// Status is a point-in-time snapshot for the status surface.
type Status struct {
	AgentID           uuid.UUID           `json:"agent_id"`
	State             domain.Phase        `json:"state"`
	Cycles            int64               `json:"cycles"`
	ConsecutiveErrors int                 `json:"consecutive_errors"`
	LastCycle         *domain.CycleRecord `json:"last_cycle,omitempty"`
	PendingOutcomes   int                 `json:"pending_outcomes"`
}

type deferredOutcome struct {
	id     uuid.UUID
	result domain.ActionResult
}

type Loop struct {
	deps   Deps
	logger *zap.Logger
	cfg    atomic.Pointer[Config]

	mu                sync.RWMutex
	state             domain.Phase
	cycle             int64
	consecutiveErrors int
	history           []domain.CycleRecord
	deferredCount     int
	// errBackoff yields the delay after each errored cycle and is reset
	// by a clean one.
	errBackoff    cbackoff.BackOff
	backoffPolicy backoff.Policy

	loaded atomic.Bool

	// Owned by the goroutine running cycles.
	outcomes    []service.Outcome
	deltas      []domain.Belief
	deferred    []deferredOutcome
	lastReflect time.Time

	wake  chan struct{}
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(deps Deps, cfg Config, logger *zap.Logger) *Loop {
	l := &Loop{
		deps:   deps,
		logger: logger.Named("loop").With(zap.String("agent_id", deps.AgentID.String())),
		state:  domain.PhaseIdle,
		wake:   make(chan struct{}, 1),
		now:    time.Now,
	}
	l.sleep = l.sleepOrWake
	c := cfg.normalized()
	l.cfg.Store(&c)
	l.backoffPolicy = c.Backoff
	l.errBackoff = c.Backoff.New()
	return l
}

// Reload swaps the configuration. The running cycle finishes with the old
// one.
func (l *Loop) Reload(cfg Config) {
	c := cfg.normalized()
	l.cfg.Store(&c)

	l.mu.Lock()
	if c.Backoff != l.backoffPolicy {
		// Keep the position of an ongoing error streak on the new schedule.
		l.backoffPolicy = c.Backoff
		l.errBackoff = c.Backoff.New()
		for i := 0; i < l.consecutiveErrors-1; i++ {
			l.errBackoff.NextBackOff()
		}
	}
	l.mu.Unlock()

	l.logger.Info("configuration reloaded",
		zap.Duration("cycle_interval", c.CycleInterval),
		zap.Int("max_intentions_per_cycle", c.MaxIntentionsPerCycle),
		zap.Int("execution_concurrency", c.ExecutionConcurrency))
}

func (l *Loop) Config() Config {
	return *l.cfg.Load()
}

func (l *Loop) State() domain.Phase {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Loop) setState(p domain.Phase) {
	l.mu.Lock()
	l.state = p
	l.mu.Unlock()
}

func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := Status{
		AgentID:           l.deps.AgentID,
		State:             l.state,
		Cycles:            l.cycle,
		ConsecutiveErrors: l.consecutiveErrors,
		PendingOutcomes:   l.deferredCount,
	}
	if n := len(l.history); n > 0 {
		last := l.history[n-1].Clone()
		st.LastCycle = &last
	}
	return st
}

// Cycles returns up to limit recent cycle records, newest first.
func (l *Loop) Cycles(limit int) []domain.CycleRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.CycleRecord, 0, len(l.history))
	for i := len(l.history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, l.history[i].Clone())
	}
	return out
}

// Wake cuts the current sleep short. It has no effect while the loop is
// backing off after errors.
func (l *Loop) Wake() {
	l.mu.RLock()
	backingOff := l.consecutiveErrors > 0
	l.mu.RUnlock()
	if backingOff {
		return
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Load restores beliefs, goals, intentions and the cycle counter.
func (l *Loop) Load(ctx context.Context) error {
	if err := l.deps.Beliefs.Load(ctx); err != nil {
		return fmt.Errorf("load beliefs: %w", err)
	}
	if err := l.deps.Goals.Load(ctx); err != nil {
		return fmt.Errorf("load goals: %w", err)
	}
	if err := l.deps.Intentions.Load(ctx); err != nil {
		return fmt.Errorf("load intentions: %w", err)
	}
	if l.deps.Cycles == nil {
		return nil
	}

	recent, err := l.deps.Cycles.ListCycles(ctx, l.deps.AgentID, l.Config().CycleHistory)
	if err != nil {
		return domain.NewRepositoryError("list cycles", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = l.history[:0]
	for i := len(recent) - 1; i >= 0; i-- {
		l.history = append(l.history, recent[i])
	}
	if len(recent) > 0 {
		l.cycle = recent[0].CycleNumber
	}
	l.loaded.Store(true)
	return nil
}

// Run cycles until ctx is cancelled. State not loaded yet is loaded first,
// retrying under the error backoff while the repository is unavailable.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.setState(domain.PhaseStopped)
		l.logger.Info("loop stopped", zap.Int64("cycles", l.Status().Cycles))
	}()

	if err := l.loadWithRetry(ctx); err != nil {
		return nil
	}
	l.lastReflect = l.now()
	l.logger.Info("loop started", zap.Duration("cycle_interval", l.Config().CycleInterval))

	for {
		rec := l.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.setState(domain.PhaseSleeping)
		if err := l.sleep(ctx, rec.Backoff.NextDelay); err != nil {
			return nil
		}
	}
}

// loadWithRetry returns only once state is loaded or ctx is done. Each
// failure counts as a consecutive error.
func (l *Loop) loadWithRetry(ctx context.Context) error {
	for !l.loaded.Load() {
		err := l.Load(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.mu.Lock()
		l.consecutiveErrors++
		n := l.consecutiveErrors
		delay := l.errBackoff.NextBackOff()
		l.mu.Unlock()

		l.logger.Error("failed to load state, retrying",
			zap.Int("consecutive_errors", n),
			zap.Duration("delay", delay),
			zap.Error(err))
		l.setState(domain.PhaseSleeping)
		if err := l.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// RunCycle runs one full iteration and returns its record. Phase errors
// and panics are recorded, never returned.
func (l *Loop) RunCycle(ctx context.Context) domain.CycleRecord {
	cfg := l.Config()
	if l.lastReflect.IsZero() {
		l.lastReflect = l.now()
	}

	l.mu.Lock()
	l.cycle++
	n := l.cycle
	l.mu.Unlock()

	rec := &domain.CycleRecord{
		ID:          uuid.New(),
		AgentID:     l.deps.AgentID,
		CycleNumber: n,
		StartedAt:   l.now(),
	}
	log := l.logger.With(zap.Int64("cycle", n))
	log.Debug("cycle started")

	var (
		observations []domain.Observation
		churn        = make(map[string]int)
		decisions    []service.Decision
	)

	l.runPhase(ctx, rec, log, domain.PhasePerceiving, func(ctx context.Context) error {
		p := l.deps.Registry.PerceiveAll(ctx)
		for _, w := range p.Warnings {
			l.warn(rec, domain.PhasePerceiving, fmt.Sprintf("%s: %v", w.Capability, w.Err))
		}
		observations = p.Observations
		rec.Observations = len(observations)
		return nil
	})

	l.runPhase(ctx, rec, log, domain.PhaseBelieving, func(ctx context.Context) error {
		changed, err := l.deps.Beliefs.Update(ctx, observations)
		if err != nil {
			return err
		}
		rec.BeliefsChanged = len(changed)
		for _, b := range changed {
			churn[b.Subject]++
		}
		l.deltas = append(l.deltas, changed...)
		if len(l.deltas) > maxBeliefDelta {
			l.deltas = l.deltas[len(l.deltas)-maxBeliefDelta:]
		}

		if len(observations) > 0 && l.deps.Observations != nil {
			if err := l.deps.Observations.ArchiveObservations(ctx, l.deps.AgentID, observations); err != nil {
				l.warn(rec, domain.PhaseBelieving, fmt.Sprintf("archive observations: %v", err))
			}
		}
		return nil
	})

	l.runPhase(ctx, rec, log, domain.PhaseDeliberating, func(ctx context.Context) error {
		decisions = l.deps.Goals.Deliberate(l.deps.Beliefs, churn, l.now())
		return nil
	})

	var replan []service.Decision
	for _, d := range decisions {
		if d.Replan {
			replan = append(replan, d)
		}
	}
	if len(replan) > 0 {
		l.runPhase(ctx, rec, log, domain.PhasePlanning, func(ctx context.Context) error {
			return l.plan(ctx, rec, log, replan)
		})
	}

	l.runPhase(ctx, rec, log, domain.PhaseExecuting, func(ctx context.Context) error {
		return l.execute(ctx, rec, cfg)
	})

	if l.shouldReflect(cfg) {
		l.runPhase(ctx, rec, log, domain.PhaseReflecting, func(ctx context.Context) error {
			return l.reflect(ctx, rec, log)
		})
	}

	l.finish(ctx, rec, cfg, log)
	return rec.Clone()
}

// runPhase runs fn unless ctx is already done, turning errors and panics
// into cycle errors.
func (l *Loop) runPhase(ctx context.Context, rec *domain.CycleRecord, log *zap.Logger, phase domain.Phase, fn func(ctx context.Context) error) {
	if ctx.Err() != nil {
		return
	}
	l.setState(phase)
	rec.PhasesRun = append(rec.PhasesRun, phase)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &domain.LoopPhaseError{Phase: phase, Err: fmt.Errorf("%v", r), Panic: true}
				log.Error("phase panicked",
					zap.String("phase", string(phase)),
					zap.Any("panic", r),
					zap.Stack("stack"))
			}
		}()
		if e := fn(ctx); e != nil {
			err = &domain.LoopPhaseError{Phase: phase, Err: e}
		}
	}()

	if err != nil {
		var pe *domain.LoopPhaseError
		if errors.As(err, &pe) && !pe.Panic {
			log.Error("phase failed", zap.String("phase", string(phase)), zap.Error(pe.Err))
		}
		l.fail(rec, phase, err)
	}
}

func (l *Loop) fail(rec *domain.CycleRecord, phase domain.Phase, err error) {
	rec.Errors = append(rec.Errors, domain.PhaseError{Phase: phase, Message: err.Error(), At: l.now()})
}

func (l *Loop) warn(rec *domain.CycleRecord, phase domain.Phase, msg string) {
	rec.Warnings = append(rec.Warnings, domain.PhaseError{Phase: phase, Message: msg, At: l.now()})
}

func (l *Loop) plan(ctx context.Context, rec *domain.CycleRecord, log *zap.Logger, replan []service.Decision) error {
	var caps []domain.CapabilityInfo
	for _, info := range l.deps.Registry.Describe() {
		if info.Enabled {
			caps = append(caps, info)
		}
	}
	beliefs := l.deps.Beliefs.QueryAll(0)

	var errs []error
	for _, d := range replan {
		if ctx.Err() != nil {
			break
		}
		plan, err := l.deps.Intentions.GeneratePlan(ctx, d.Goal, beliefs, caps)
		switch {
		case errors.Is(err, domain.ErrReasonerTimeout), errors.Is(err, domain.ErrReasonerMalformedOutput):
			// Left unplanned so the next cycle asks again.
			l.warn(rec, domain.PhasePlanning, err.Error())
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("goal %s: %w", d.Goal.ID, err))
			continue
		}

		if err := l.deps.Goals.MarkPlanned(ctx, d.Goal.ID, l.now()); err != nil {
			errs = append(errs, fmt.Errorf("mark goal %s planned: %w", d.Goal.ID, err))
		}
		if len(plan) > 0 {
			rec.GoalsPlanned++
		}
		log.Info("goal planned",
			zap.String("goal_id", d.Goal.ID.String()),
			zap.String("reason", d.Reason),
			zap.Int("steps", len(plan)))
	}
	return errors.Join(errs...)
}

// execute pops ready intentions in batches of ExecutionConcurrency until
// the per-cycle limit is reached or nothing is ready.
func (l *Loop) execute(ctx context.Context, rec *domain.CycleRecord, cfg Config) error {
	errs := []error{l.retryDeferred(ctx)}

	for rec.IntentionsExecuted < cfg.MaxIntentionsPerCycle && ctx.Err() == nil {
		n := min(cfg.ExecutionConcurrency, cfg.MaxIntentionsPerCycle-rec.IntentionsExecuted)
		batch := make([]domain.Intention, 0, n)
		for len(batch) < n {
			it, ok := l.deps.Intentions.Pop()
			if !ok {
				break
			}
			batch = append(batch, *it)
		}
		if len(batch) == 0 {
			break
		}

		results := make([]domain.ActionResult, len(batch))
		var g errgroup.Group
		for i := range batch {
			g.Go(func() error {
				results[i] = l.act(ctx, cfg, batch[i])
				return nil
			})
		}
		_ = g.Wait()

		// Outcomes are recorded even if ctx was cancelled meanwhile.
		rctx := context.WithoutCancel(ctx)
		for i, it := range batch {
			rec.IntentionsExecuted++
			l.outcomes = append(l.outcomes, service.Outcome{Intention: it, Result: results[i]})
			if err := l.deps.Intentions.RecordOutcome(rctx, it.ID, results[i]); err != nil {
				l.deferred = append(l.deferred, deferredOutcome{id: it.ID, result: results[i]})
				errs = append(errs, fmt.Errorf("record outcome of %s: %w", it.ID, err))
			}
		}
	}

	l.mu.Lock()
	l.deferredCount = len(l.deferred)
	l.mu.Unlock()
	return errors.Join(errs...)
}

// act runs one intention. A call already in flight is allowed to finish
// after cancellation, bounded by callTimeout.
func (l *Loop) act(ctx context.Context, cfg Config, it domain.Intention) domain.ActionResult {
	if it.Capability == "" {
		// Grouping steps with nothing to call succeed immediately.
		return domain.ActionResult{Success: true}
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.callTimeout(cfg))
	defer cancel()
	return l.deps.Registry.Execute(callCtx, it.Capability, domain.Action{
		IntentionID: it.ID,
		Name:        it.Action,
		Parameters:  it.Parameters,
	})
}

// callTimeout is ExecuteTimeout, raised to the executor's retry budget so
// the last retry is never cut short.
func (l *Loop) callTimeout(cfg Config) time.Duration {
	return max(cfg.ExecuteTimeout, l.deps.Registry.Executor().Config().Budget())
}

// retryDeferred re-applies outcomes whose persistence failed earlier.
func (l *Loop) retryDeferred(ctx context.Context) error {
	if len(l.deferred) == 0 {
		return nil
	}
	var keep []deferredOutcome
	var errs []error
	for _, d := range l.deferred {
		err := l.deps.Intentions.RecordOutcome(ctx, d.id, d.result)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrIntentionNotFound), errors.Is(err, domain.ErrInvalidTransition):
			l.logger.Warn("dropping deferred outcome", zap.String("intention_id", d.id.String()), zap.Error(err))
		default:
			keep = append(keep, d)
			errs = append(errs, fmt.Errorf("retry outcome of %s: %w", d.id, err))
		}
	}
	l.deferred = keep
	return errors.Join(errs...)
}

func (l *Loop) shouldReflect(cfg Config) bool {
	if l.deps.Reflection == nil || len(l.outcomes) == 0 {
		return false
	}
	if cfg.ReflectOutcomeThreshold > 0 && len(l.outcomes) >= cfg.ReflectOutcomeThreshold {
		return true
	}
	if cfg.ReflectInterval > 0 && l.now().Sub(l.lastReflect) >= cfg.ReflectInterval {
		return true
	}
	for _, o := range l.outcomes {
		if !o.Result.Success {
			return true
		}
	}
	return false
}

// reflect is advisory: a failure becomes a warning, never a cycle error.
func (l *Loop) reflect(ctx context.Context, rec *domain.CycleRecord, log *zap.Logger) error {
	outcomes, deltas := l.outcomes, l.deltas
	l.outcomes, l.deltas = nil, nil
	l.lastReflect = l.now()

	report, err := l.deps.Reflection.Learn(ctx, outcomes, deltas)
	if err != nil {
		log.Warn("reflection incomplete", zap.Error(err))
		l.warn(rec, domain.PhaseReflecting, err.Error())
	}
	if report != nil {
		log.Info("reflected",
			zap.Int("outcomes", len(outcomes)),
			zap.Int("procedures", len(report.Procedures)),
			zap.Int("goals_progressed", report.GoalsProgressed))
	}
	return nil
}

// finish runs end-of-cycle housekeeping, computes the next delay and
// persists the record. It runs even after cancellation.
func (l *Loop) finish(ctx context.Context, rec *domain.CycleRecord, cfg Config, log *zap.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for _, id := range l.deps.Goals.PendingRemovals() {
		if n, err := l.deps.Intentions.SkipGoal(cctx, id); err != nil {
			l.fail(rec, phaseCleanup, fmt.Errorf("skip intentions of goal %s: %w", id, err))
		} else if n > 0 {
			log.Info("skipped intentions of removed goal", zap.String("goal_id", id.String()), zap.Int("count", n))
		}
	}
	if _, err := l.deps.Goals.FlushRemovals(cctx); err != nil {
		l.fail(rec, phaseCleanup, err)
	}
	if _, err := l.deps.Intentions.Compact(cctx); err != nil {
		l.fail(rec, phaseCleanup, err)
	}

	finished := l.now()
	rec.FinishedAt = &finished

	l.mu.Lock()
	if rec.Clean() {
		l.consecutiveErrors = 0
		l.errBackoff.Reset()
		rec.Backoff = domain.BackoffState{NextDelay: cfg.CycleInterval}
	} else {
		l.consecutiveErrors++
		rec.Backoff = domain.BackoffState{
			ConsecutiveErrors: l.consecutiveErrors,
			NextDelay:         l.errBackoff.NextBackOff(),
		}
	}
	l.history = append(l.history, rec.Clone())
	if over := len(l.history) - cfg.CycleHistory; over > 0 {
		l.history = append([]domain.CycleRecord(nil), l.history[over:]...)
	}
	l.mu.Unlock()

	if l.deps.Cycles != nil {
		if err := l.deps.Cycles.SaveCycle(cctx, rec); err != nil {
			log.Error("failed to persist cycle record", zap.Error(err))
		} else if err := l.deps.Cycles.PruneCycles(cctx, l.deps.AgentID, cfg.CycleHistory); err != nil {
			log.Warn("failed to prune cycle records", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.Duration("took", finished.Sub(rec.StartedAt)),
		zap.Int("observations", rec.Observations),
		zap.Int("beliefs_changed", rec.BeliefsChanged),
		zap.Int("goals_planned", rec.GoalsPlanned),
		zap.Int("intentions_executed", rec.IntentionsExecuted),
		zap.Int("warnings", len(rec.Warnings)),
		zap.Duration("next_delay", rec.Backoff.NextDelay),
	}
	if rec.Clean() {
		log.Info("cycle complete", fields...)
		return
	}
	log.Warn("cycle complete with errors",
		append(fields, zap.Int("errors", len(rec.Errors)), zap.Int("consecutive_errors", rec.Backoff.ConsecutiveErrors))...)
}

func (l *Loop) sleepOrWake(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	case <-l.wake:
		return nil
	}
}
