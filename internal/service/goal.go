package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultReplanInterval  = 24 * time.Hour
	DefaultChurnThreshold  = 3
	DefaultConfidenceFloor = 0.5
	maxProgress            = 100.0
)

type GoalConfig struct {
	ReplanInterval  time.Duration
	ChurnThreshold  int
	ConfidenceFloor float64
}

func DefaultGoalConfig() GoalConfig {
	return GoalConfig{
		ReplanInterval:  DefaultReplanInterval,
		ChurnThreshold:  DefaultChurnThreshold,
		ConfidenceFloor: DefaultConfidenceFloor,
	}
}

// Decision is the outcome of deliberating over one active goal.
type Decision struct {
	Goal        domain.Goal
	NeedsAction bool
	Replan      bool
	Reason      string
}

type GoalService struct {
	agentID uuid.UUID
	store   domain.GoalStore
	logger  *zap.Logger

	mu        sync.RWMutex
	goals     map[uuid.UUID]*domain.Goal
	churn     map[uuid.UUID]int
	lastNeeds map[uuid.UUID]bool
	removals  map[uuid.UUID]bool
	cfg       GoalConfig

	now func() time.Time
}

func NewGoalService(agentID uuid.UUID, store domain.GoalStore, cfg GoalConfig, logger *zap.Logger) *GoalService {
	return &GoalService{
		agentID:   agentID,
		store:     store,
		logger:    logger.Named("goals"),
		goals:     make(map[uuid.UUID]*domain.Goal),
		churn:     make(map[uuid.UUID]int),
		lastNeeds: make(map[uuid.UUID]bool),
		removals:  make(map[uuid.UUID]bool),
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *GoalService) SetConfig(cfg GoalConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *GoalService) Load(ctx context.Context) error {
	list, err := s.store.ListGoals(ctx, s.agentID)
	if err != nil {
		return domain.NewRepositoryError("list goals", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals = make(map[uuid.UUID]*domain.Goal, len(list))
	for i := range list {
		g := list[i]
		s.goals[g.ID] = &g
	}
	s.logger.Info("goals loaded", zap.Int("count", len(s.goals)))
	return nil
}

// Add validates and persists a new goal. Missing fields get defaults.
func (s *GoalService) Add(ctx context.Context, g domain.Goal) (*domain.Goal, error) {
	if !g.Type.IsValid() {
		return nil, fmt.Errorf("invalid goal type %q", g.Type)
	}
	if strings.TrimSpace(g.Description) == "" {
		return nil, fmt.Errorf("goal description is required")
	}
	if g.Type == domain.GoalMaintain && (g.Target.Subject == "" || g.Target.Predicate == "") {
		return nil, fmt.Errorf("maintain goal needs a target subject and predicate")
	}
	if g.Type == domain.GoalMaintain && g.Target.Comparator != "" &&
		g.Target.Comparator != domain.ComparatorGTE && g.Target.Comparator != domain.ComparatorLTE {
		return nil, fmt.Errorf("invalid comparator %q", g.Target.Comparator)
	}

	now := s.now()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	g.AgentID = s.agentID
	if g.Status == "" {
		g.Status = domain.GoalActive
	}
	if !g.Status.IsValid() {
		return nil, fmt.Errorf("invalid goal status %q", g.Status)
	}
	if g.Priority == 0 {
		g.Priority = 5
	}
	g.Priority = domain.ClampPriority(g.Priority)
	g.Progress = clampProgress(g.Progress)
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	s.mu.RLock()
	_, exists := s.goals[g.ID]
	s.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("goal %s already exists", g.ID)
	}

	if err := s.store.SaveGoal(ctx, &g); err != nil {
		return nil, domain.NewRepositoryError("save goal", err)
	}

	s.mu.Lock()
	s.goals[g.ID] = &g
	s.mu.Unlock()

	s.logger.Info("goal added",
		zap.String("goal_id", g.ID.String()),
		zap.String("type", string(g.Type)),
		zap.Int("priority", g.Priority))
	out := g.Clone()
	return &out, nil
}

func (s *GoalService) Get(id uuid.UUID) (*domain.Goal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[id]
	if !ok {
		return nil, false
	}
	c := g.Clone()
	return &c, true
}

// List returns every goal, including ones scheduled for removal.
func (s *GoalService) List() []domain.Goal {
	s.mu.RLock()
	out := make([]domain.Goal, 0, len(s.goals))
	for _, g := range s.goals {
		out = append(out, g.Clone())
	}
	s.mu.RUnlock()
	sortGoals(out)
	return out
}

// GetActive returns active goals by priority desc, then creation asc.
func (s *GoalService) GetActive() []domain.Goal {
	s.mu.RLock()
	out := make([]domain.Goal, 0, len(s.goals))
	for id, g := range s.goals {
		if g.Status == domain.GoalActive && !s.removals[id] {
			out = append(out, g.Clone())
		}
	}
	s.mu.RUnlock()
	sortGoals(out)
	return out
}

// Evaluate reports whether the goal needs action given current beliefs.
func (s *GoalService) Evaluate(g domain.Goal, beliefs domain.BeliefView) bool {
	s.mu.RLock()
	floor := s.cfg.ConfidenceFloor
	s.mu.RUnlock()
	return EvaluateGoal(g, beliefs, floor)
}

// EvaluateGoal is the per-type needs-action rule. floor applies when the
// goal sets no MinConfidence of its own.
func EvaluateGoal(g domain.Goal, beliefs domain.BeliefView, floor float64) bool {
	if g.Status != domain.GoalActive {
		return false
	}
	if g.Target.MinConfidence > 0 {
		floor = g.Target.MinConfidence
	}
	t := g.Target

	lookup := func() (*domain.Belief, bool) {
		if t.Subject == "" || t.Predicate == "" || beliefs == nil {
			return nil, false
		}
		return beliefs.Query(t.Subject, t.Predicate)
	}

	switch g.Type {
	case domain.GoalAchieve:
		if g.Progress >= maxProgress {
			return false
		}
		b, ok := lookup()
		if ok && b.Confidence >= floor && matchesValue(b.Object, t.Value) {
			return false
		}
		return true

	case domain.GoalMaintain:
		b, ok := lookup()
		if !ok || b.Confidence < floor {
			return true
		}
		v, ok := parseMetric(b.Object)
		if !ok {
			return true
		}
		if t.Comparator == domain.ComparatorLTE {
			return v > t.Threshold
		}
		return v < t.Threshold

	case domain.GoalAvoid:
		b, ok := lookup()
		return ok && b.Confidence >= floor && matchesValue(b.Object, t.Value)

	case domain.GoalQuery:
		b, ok := lookup()
		return !ok || b.Confidence < floor
	}
	return false
}

// Deliberate evaluates every active goal and decides which need a new plan.
// churn counts changed beliefs per subject since the previous call.
func (s *GoalService) Deliberate(beliefs domain.BeliefView, churn map[string]int, now time.Time) []Decision {
	active := s.GetActive()

	s.mu.Lock()
	defer s.mu.Unlock()

	decisions := make([]Decision, 0, len(active))
	for _, g := range active {
		for _, subj := range g.Target.Subjects() {
			s.churn[g.ID] += churn[subj]
		}

		needs := EvaluateGoal(g, beliefs, s.cfg.ConfidenceFloor)
		prev := s.lastNeeds[g.ID]
		s.lastNeeds[g.ID] = needs

		d := Decision{Goal: g, NeedsAction: needs}
		switch {
		case !needs:
			d.Reason = "condition satisfied"
		case g.LastPlannedAt == nil:
			d.Replan, d.Reason = true, "never planned"
		case s.cfg.ReplanInterval > 0 && now.Sub(*g.LastPlannedAt) >= s.cfg.ReplanInterval:
			d.Replan, d.Reason = true, "replan interval elapsed"
		case s.cfg.ChurnThreshold > 0 && s.churn[g.ID] >= s.cfg.ChurnThreshold:
			d.Replan, d.Reason = true, "belief churn"
		case (g.Type == domain.GoalMaintain || g.Type == domain.GoalAvoid) && !prev:
			d.Replan, d.Reason = true, "drifted from target"
		default:
			d.Reason = "plan in progress"
		}
		decisions = append(decisions, d)
	}
	return decisions
}

// MarkPlanned records a plan generation and resets the goal's churn.
func (s *GoalService) MarkPlanned(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.mutate(ctx, id, func(g *domain.Goal) error {
		g.LastPlannedAt = &at
		return nil
	}, func() { s.churn[id] = 0 })
}

// UpdateProgress adds delta and clamps to 0..100. Only achieve goals
// complete on reaching 100.
func (s *GoalService) UpdateProgress(ctx context.Context, id uuid.UUID, delta float64) (*domain.Goal, error) {
	var out domain.Goal
	err := s.mutate(ctx, id, func(g *domain.Goal) error {
		g.Progress = clampProgress(g.Progress + delta)
		if g.Type == domain.GoalAchieve && g.Status == domain.GoalActive && g.Progress >= maxProgress {
			g.Status = domain.GoalCompleted
		}
		out = g.Clone()
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	if out.Status == domain.GoalCompleted {
		s.logger.Info("goal completed", zap.String("goal_id", id.String()))
	}
	return &out, nil
}

func (s *GoalService) SetStatus(ctx context.Context, id uuid.UUID, status domain.GoalStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid goal status %q", status)
	}
	return s.mutate(ctx, id, func(g *domain.Goal) error {
		g.Status = status
		return nil
	}, nil)
}

// Remove schedules the goal for deletion at the next FlushRemovals. It
// disappears from GetActive immediately.
func (s *GoalService) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.goals[id]; !ok {
		return domain.ErrGoalNotFound
	}
	s.removals[id] = true
	return nil
}

// PendingRemovals lists goals scheduled for deletion.
func (s *GoalService) PendingRemovals() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(s.removals))
	for id := range s.removals {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// FlushRemovals deletes scheduled goals. On failure they stay scheduled.
func (s *GoalService) FlushRemovals(ctx context.Context) ([]uuid.UUID, error) {
	ids := s.PendingRemovals()
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.store.DeleteGoals(ctx, s.agentID, ids); err != nil {
		return nil, domain.NewRepositoryError("delete goals", err)
	}

	s.mu.Lock()
	for _, id := range ids {
		delete(s.goals, id)
		delete(s.removals, id)
		delete(s.churn, id)
		delete(s.lastNeeds, id)
	}
	s.mu.Unlock()
	s.logger.Info("goals removed", zap.Int("count", len(ids)))
	return ids, nil
}

// mutate applies fn to a copy, persists it, then commits it. after runs
// under the lock once the write succeeded.
func (s *GoalService) mutate(ctx context.Context, id uuid.UUID, fn func(g *domain.Goal) error, after func()) error {
	s.mu.RLock()
	cur, ok := s.goals[id]
	var g domain.Goal
	if ok {
		g = cur.Clone()
	}
	s.mu.RUnlock()
	if !ok {
		return domain.ErrGoalNotFound
	}

	if err := fn(&g); err != nil {
		return err
	}
	g.UpdatedAt = s.now()

	if err := s.store.SaveGoal(ctx, &g); err != nil {
		return domain.NewRepositoryError("save goal", err)
	}

	s.mu.Lock()
	s.goals[id] = &g
	if after != nil {
		after()
	}
	s.mu.Unlock()
	return nil
}

func sortGoals(gs []domain.Goal) {
	sort.SliceStable(gs, func(i, j int) bool {
		if gs[i].Priority != gs[j].Priority {
			return gs[i].Priority > gs[j].Priority
		}
		if !gs[i].CreatedAt.Equal(gs[j].CreatedAt) {
			return gs[i].CreatedAt.Before(gs[j].CreatedAt)
		}
		return gs[i].ID.String() < gs[j].ID.String()
	})
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > maxProgress {
		return maxProgress
	}
	return p
}

func parseMetric(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// matchesValue compares case-insensitively; an empty want means truthy.
func matchesValue(object, want string) bool {
	if want != "" {
		return strings.EqualFold(strings.TrimSpace(object), strings.TrimSpace(want))
	}
	return truthy(object)
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "on":
		return true
	case "", "false", "no", "n", "off":
		return false
	}
	if v, ok := parseMetric(s); ok {
		return v != 0
	}
	return true
}
