package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPlanContextBeliefs = 20
	DefaultIntentionRetention = 24 * time.Hour
)

type PlanConfig struct {
	ContextBeliefs  int
	ReasonerTimeout time.Duration
	// Retention keeps finished intentions visible before Compact drops them.
	Retention time.Duration
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		ContextBeliefs:  DefaultPlanContextBeliefs,
		ReasonerTimeout: DefaultReasonerTimeout,
		Retention:       DefaultIntentionRetention,
	}
}

// HintSource supplies "what worked before" for a goal.
type HintSource interface {
	Hints(ctx context.Context, goal domain.Goal) []string
}

// DependencyResolution is the result of resolving one step index. Exactly
// one of ID or DropReason is set.
type DependencyResolution struct {
	ID         uuid.UUID
	DropReason string
}

func (r DependencyResolution) Dropped() bool { return r.DropReason != "" }

type IntentionFilter struct {
	GoalID *uuid.UUID
	PlanID *uuid.UUID
	Status domain.IntentionStatus
}

// IntentionStack exclusively owns the agent's intentions and their
// dependency graph.
type IntentionStack struct {
	agentID  uuid.UUID
	store    domain.IntentionStore
	reasoner domain.Reasoner
	hints    HintSource
	logger   *zap.Logger

	mu    sync.RWMutex
	items map[uuid.UUID]*domain.Intention
	cfg   PlanConfig

	now func() time.Time
}

func NewIntentionStack(agentID uuid.UUID, store domain.IntentionStore, reasoner domain.Reasoner, hints HintSource, cfg PlanConfig, logger *zap.Logger) *IntentionStack {
	return &IntentionStack{
		agentID:  agentID,
		store:    store,
		reasoner: reasoner,
		hints:    hints,
		logger:   logger.Named("intentions"),
		items:    make(map[uuid.UUID]*domain.Intention),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *IntentionStack) SetConfig(cfg PlanConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// SetHintSource installs the provider of "what worked before" hints.
func (s *IntentionStack) SetHintSource(h HintSource) {
	s.mu.Lock()
	s.hints = h
	s.mu.Unlock()
}

func (s *IntentionStack) config() PlanConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Load restores persisted intentions. Intentions left running by a
// previous process are requeued.
func (s *IntentionStack) Load(ctx context.Context) error {
	list, err := s.store.ListIntentions(ctx, s.agentID)
	if err != nil {
		return domain.NewRepositoryError("list intentions", err)
	}

	items := make(map[uuid.UUID]*domain.Intention, len(list))
	for i := range list {
		it := list[i]
		items[it.ID] = &it
	}

	var requeued []domain.Intention
	for _, it := range items {
		if it.Status != domain.IntentionRunning {
			continue
		}
		it.Status = domain.IntentionPending
		if depsSucceeded(it, items) {
			it.Status = domain.IntentionReady
		}
		it.StartedAt = nil
		requeued = append(requeued, *it)
	}

	if len(requeued) > 0 {
		if err := s.store.SaveIntentions(ctx, s.agentID, requeued); err != nil {
			return domain.NewRepositoryError("requeue intentions", err)
		}
		s.logger.Warn("requeued intentions interrupted by restart", zap.Int("count", len(requeued)))
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

// GeneratePlan asks the reasoner for a plan and commits it. Pending and
// ready intentions previously planned for the goal are superseded. An
// empty or malformed proposal commits nothing and is not an error.
func (s *IntentionStack) GeneratePlan(ctx context.Context, goal domain.Goal, beliefs []domain.Belief, capabilities []domain.CapabilityInfo) ([]domain.Intention, error) {
	cfg := s.config()

	ctxBeliefs := append([]domain.Belief(nil), beliefs...)
	sortBeliefs(ctxBeliefs)
	if cfg.ContextBeliefs > 0 && len(ctxBeliefs) > cfg.ContextBeliefs {
		ctxBeliefs = ctxBeliefs[:cfg.ContextBeliefs]
	}

	s.mu.RLock()
	hs := s.hints
	s.mu.RUnlock()
	var hints []string
	if hs != nil {
		hints = hs.Hints(ctx, goal)
	}

	rctx := ctx
	if cfg.ReasonerTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, cfg.ReasonerTimeout)
		defer cancel()
	}
	proposal, err := s.reasoner.GeneratePlan(rctx, domain.PlanRequest{
		Goal:         goal,
		Beliefs:      ctxBeliefs,
		Capabilities: capabilities,
		Hints:        hints,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrReasonerMalformedOutput):
		// Nothing is pushed. The error tells the caller the goal is still
		// unplanned.
		s.logger.Warn("malformed plan treated as empty", zap.String("goal_id", goal.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: plan for goal %s", domain.ErrReasonerMalformedOutput, goal.ID)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrReasonerTimeout):
		return nil, fmt.Errorf("%w: plan for goal %s", domain.ErrReasonerTimeout, goal.ID)
	default:
		return nil, fmt.Errorf("generate plan: %w", err)
	}
	if proposal == nil || len(proposal.Steps) == 0 {
		s.logger.Debug("empty plan", zap.String("goal_id", goal.ID.String()))
		return nil, nil
	}

	now := s.now()
	plan := s.buildPlan(goal, proposal.Steps, now)
	if len(plan) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var superseded []domain.Intention
	for _, it := range s.items {
		if it.GoalID != goal.ID {
			continue
		}
		if it.Status == domain.IntentionPending || it.Status == domain.IntentionReady {
			c := it.Clone()
			c.Status = domain.IntentionSkipped
			c.UpdatedAt = now
			c.FinishedAt = &now
			superseded = append(superseded, c)
		}
	}

	batch := append(append([]domain.Intention(nil), superseded...), plan...)
	if err := s.store.SaveIntentions(ctx, s.agentID, batch); err != nil {
		return nil, domain.NewRepositoryError("save plan", err)
	}

	for i := range batch {
		it := batch[i]
		s.items[it.ID] = &it
	}

	s.logger.Info("plan generated",
		zap.String("goal_id", goal.ID.String()),
		zap.Int("steps", len(plan)),
		zap.Int("superseded", len(superseded)))

	out := make([]domain.Intention, len(plan))
	for i := range plan {
		out[i] = plan[i].Clone()
	}
	return out, nil
}

// planResolver maps zero-based step indices onto intention IDs while
// keeping the dependency graph acyclic.
type planResolver struct {
	ids   []uuid.UUID
	valid []bool
	deps  map[int][]int
}

func newPlanResolver(valid []bool) *planResolver {
	r := &planResolver{
		ids:   make([]uuid.UUID, len(valid)),
		valid: valid,
		deps:  make(map[int][]int),
	}
	for i := range r.ids {
		r.ids[i] = uuid.New()
	}
	return r
}

// ResolveDependency resolves step from's reference to index.
func (r *planResolver) ResolveDependency(from, index int) DependencyResolution {
	switch {
	case index < 0 || index >= len(r.ids):
		return DependencyResolution{DropReason: fmt.Sprintf("index %d out of range [0,%d)", index, len(r.ids))}
	case index == from:
		return DependencyResolution{DropReason: "self reference"}
	case !r.valid[index]:
		return DependencyResolution{DropReason: fmt.Sprintf("step %d was dropped", index)}
	}
	for _, d := range r.deps[from] {
		if d == index {
			return DependencyResolution{DropReason: "duplicate reference"}
		}
	}
	if r.reaches(index, from) {
		return DependencyResolution{DropReason: fmt.Sprintf("reference to step %d creates a cycle", index)}
	}
	r.deps[from] = append(r.deps[from], index)
	return DependencyResolution{ID: r.ids[index]}
}

// reaches reports whether start transitively depends on target.
func (r *planResolver) reaches(start, target int) bool {
	seen := make(map[int]bool)
	stack := []int{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, r.deps[n]...)
	}
	return false
}

func (s *IntentionStack) buildPlan(goal domain.Goal, steps []domain.PlanStep, now time.Time) []domain.Intention {
	valid := make([]bool, len(steps))
	for i, st := range steps {
		valid[i] = strings.TrimSpace(st.Action) != "" || strings.TrimSpace(st.Description) != ""
		if !valid[i] {
			s.logger.Warn("dropping empty plan step", zap.String("goal_id", goal.ID.String()), zap.Int("step", i))
		}
	}
	r := newPlanResolver(valid)
	planID := uuid.New()

	out := make([]domain.Intention, 0, len(steps))
	for i, st := range steps {
		if !valid[i] {
			continue
		}
		var deps []uuid.UUID
		for _, idx := range st.DependsOn {
			res := r.ResolveDependency(i, idx)
			if res.Dropped() {
				s.logger.Warn("dropping plan dependency",
					zap.String("goal_id", goal.ID.String()),
					zap.Int("step", i),
					zap.Int("index", idx),
					zap.String("reason", res.DropReason))
				continue
			}
			deps = append(deps, res.ID)
		}

		typ := st.Type
		if !typ.IsValid() {
			typ = domain.IntentionAction
		}
		prio := st.Priority
		if prio == 0 {
			prio = goal.Priority
		}
		status := domain.IntentionReady
		if len(deps) > 0 {
			status = domain.IntentionPending
		}
		desc := strings.TrimSpace(st.Description)
		if desc == "" {
			desc = st.Capability + "." + st.Action
		}

		out = append(out, domain.Intention{
			ID:           r.ids[i],
			AgentID:      s.agentID,
			GoalID:       goal.ID,
			PlanID:       planID,
			Type:         typ,
			Description:  desc,
			Capability:   strings.TrimSpace(st.Capability),
			Action:       strings.TrimSpace(st.Action),
			Parameters:   st.Parameters,
			Priority:     domain.ClampPriority(prio),
			Dependencies: deps,
			Status:       status,
			// Offset keeps step order as the creation tie-break.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		})
	}
	return out
}

// Pop marks the best ready intention running and returns it. With nothing
// ready it returns false and changes nothing.
func (s *IntentionStack) Pop() (*domain.Intention, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.Intention
	for _, it := range s.items {
		if it.Status != domain.IntentionReady {
			continue
		}
		if best == nil || better(it, best) {
			best = it
		}
	}
	if best == nil {
		return nil, false
	}

	now := s.now()
	best.Status = domain.IntentionRunning
	best.StartedAt = &now
	best.UpdatedAt = now
	c := best.Clone()
	return &c, true
}

func better(a, b *domain.Intention) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// RecordOutcome finishes a running intention. Failure skips every
// transitive dependent; success readies dependents whose dependencies
// have all succeeded.
func (s *IntentionStack) RecordOutcome(ctx context.Context, id uuid.UUID, result domain.ActionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[id]
	if !ok {
		return domain.ErrIntentionNotFound
	}
	if cur.Status != domain.IntentionRunning {
		return fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, id, cur.Status)
	}

	now := s.now()
	staged := make(map[uuid.UUID]*domain.Intention)
	stage := func(it *domain.Intention) *domain.Intention {
		if c, ok := staged[it.ID]; ok {
			return c
		}
		c := it.Clone()
		staged[it.ID] = &c
		return &c
	}
	view := func(id uuid.UUID) *domain.Intention {
		if c, ok := staged[id]; ok {
			return c
		}
		return s.items[id]
	}

	done := stage(cur)
	r := result
	done.Result = &r
	done.FinishedAt = &now
	done.UpdatedAt = now
	if result.Success {
		done.Status = domain.IntentionSucceeded
	} else {
		done.Status = domain.IntentionFailed
	}

	dependents := s.dependentsIndex()
	if result.Success {
		for _, depID := range dependents[id] {
			d := view(depID)
			if d.Status != domain.IntentionPending {
				continue
			}
			ready := true
			for _, pre := range d.Dependencies {
				p := view(pre)
				if p == nil || p.Status != domain.IntentionSucceeded {
					ready = false
					break
				}
			}
			if ready {
				c := stage(d)
				c.Status = domain.IntentionReady
				c.UpdatedAt = now
			}
		}
	} else {
		queue := append([]uuid.UUID(nil), dependents[id]...)
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			d := view(next)
			if d == nil || !(d.Status == domain.IntentionPending || d.Status == domain.IntentionReady) {
				continue
			}
			c := stage(d)
			c.Status = domain.IntentionSkipped
			c.UpdatedAt = now
			c.FinishedAt = &now
			queue = append(queue, dependents[next]...)
		}
	}

	batch := make([]domain.Intention, 0, len(staged))
	for _, it := range staged {
		batch = append(batch, *it)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].CreatedAt.Before(batch[j].CreatedAt) })
	if err := s.store.SaveIntentions(ctx, s.agentID, batch); err != nil {
		return domain.NewRepositoryError("record outcome", err)
	}
	for k, v := range staged {
		s.items[k] = v
	}

	if !result.Success && len(staged) > 1 {
		s.logger.Info("dependents skipped after failure",
			zap.String("intention_id", id.String()),
			zap.Int("skipped", len(staged)-1))
	}
	return nil
}

// dependentsIndex maps an intention to the intentions that depend on it.
// Callers hold s.mu.
func (s *IntentionStack) dependentsIndex() map[uuid.UUID][]uuid.UUID {
	idx := make(map[uuid.UUID][]uuid.UUID)
	for _, it := range s.items {
		for _, d := range it.Dependencies {
			idx[d] = append(idx[d], it.ID)
		}
	}
	return idx
}

// SkipGoal skips every pending or ready intention of the goal.
func (s *IntentionStack) SkipGoal(ctx context.Context, goalID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var batch []domain.Intention
	for _, it := range s.items {
		if it.GoalID == goalID && (it.Status == domain.IntentionPending || it.Status == domain.IntentionReady) {
			c := it.Clone()
			c.Status = domain.IntentionSkipped
			c.UpdatedAt = now
			c.FinishedAt = &now
			batch = append(batch, c)
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := s.store.SaveIntentions(ctx, s.agentID, batch); err != nil {
		return 0, domain.NewRepositoryError("skip goal intentions", err)
	}
	for i := range batch {
		it := batch[i]
		s.items[it.ID] = &it
	}
	return len(batch), nil
}

// Compact drops finished intentions older than the retention window
// that no open intention still depends on.
func (s *IntentionStack) Compact(ctx context.Context) (int, error) {
	cfg := s.config()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[uuid.UUID]bool)
	for _, it := range s.items {
		if it.Status.IsOpen() {
			for _, d := range it.Dependencies {
				live[d] = true
			}
		}
	}

	var ids []uuid.UUID
	for id, it := range s.items {
		if !it.Status.IsTerminal() || live[id] {
			continue
		}
		if it.FinishedAt != nil && now.Sub(*it.FinishedAt) < cfg.Retention {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	if err := s.store.DeleteIntentions(ctx, s.agentID, ids); err != nil {
		return 0, domain.NewRepositoryError("compact intentions", err)
	}
	for _, id := range ids {
		delete(s.items, id)
	}
	return len(ids), nil
}

func (s *IntentionStack) Get(id uuid.UUID) (*domain.Intention, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, false
	}
	c := it.Clone()
	return &c, true
}

// List returns matching intentions in creation order.
func (s *IntentionStack) List(f IntentionFilter) []domain.Intention {
	s.mu.RLock()
	out := make([]domain.Intention, 0, len(s.items))
	for _, it := range s.items {
		if f.GoalID != nil && it.GoalID != *f.GoalID {
			continue
		}
		if f.PlanID != nil && it.PlanID != *f.PlanID {
			continue
		}
		if f.Status != "" && it.Status != f.Status {
			continue
		}
		out = append(out, it.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Counts tallies intentions by status.
func (s *IntentionStack) Counts() map[domain.IntentionStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.IntentionStatus]int)
	for _, it := range s.items {
		out[it.Status]++
	}
	return out
}

func depsSucceeded(it *domain.Intention, items map[uuid.UUID]*domain.Intention) bool {
	for _, d := range it.Dependencies {
		p, ok := items[d]
		if !ok || p.Status != domain.IntentionSucceeded {
			return false
		}
	}
	return true
}
