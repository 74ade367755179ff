package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store unavailable")

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// mockRepo is a map-backed repository with switchable write failures.
type mockRepo struct {
	mu         sync.Mutex
	beliefs    map[domain.BeliefKey]domain.Belief
	goals      map[uuid.UUID]domain.Goal
	intentions map[uuid.UUID]domain.Intention
	procedures map[string]domain.Procedure
	similar    []domain.ProcedureWithScore
	failWrites bool
	saveCalls  int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		beliefs:    make(map[domain.BeliefKey]domain.Belief),
		goals:      make(map[uuid.UUID]domain.Goal),
		intentions: make(map[uuid.UUID]domain.Intention),
		procedures: make(map[string]domain.Procedure),
	}
}

func (m *mockRepo) setFailWrites(v bool) {
	m.mu.Lock()
	m.failWrites = v
	m.mu.Unlock()
}

func (m *mockRepo) ListBeliefs(ctx context.Context, agentID uuid.UUID) ([]domain.Belief, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Belief
	for _, b := range m.beliefs {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (m *mockRepo) SaveBeliefs(ctx context.Context, agentID uuid.UUID, beliefs []domain.Belief) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.failWrites {
		return errStoreDown
	}
	for _, b := range beliefs {
		m.beliefs[b.Key()] = b.Clone()
	}
	return nil
}

func (m *mockRepo) ListGoals(ctx context.Context, agentID uuid.UUID) ([]domain.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Goal
	for _, g := range m.goals {
		out = append(out, g.Clone())
	}
	return out, nil
}

func (m *mockRepo) SaveGoal(ctx context.Context, g *domain.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	m.goals[g.ID] = g.Clone()
	return nil
}

func (m *mockRepo) DeleteGoals(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	for _, id := range ids {
		delete(m.goals, id)
	}
	return nil
}

func (m *mockRepo) ListIntentions(ctx context.Context, agentID uuid.UUID) ([]domain.Intention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Intention
	for _, it := range m.intentions {
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockRepo) SaveIntentions(ctx context.Context, agentID uuid.UUID, intentions []domain.Intention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	for _, it := range intentions {
		m.intentions[it.ID] = it.Clone()
	}
	return nil
}

func (m *mockRepo) DeleteIntentions(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	for _, id := range ids {
		delete(m.intentions, id)
	}
	return nil
}

func procKeyString(t domain.GoalType, shape string) string { return string(t) + "|" + shape }

func (m *mockRepo) GetProcedure(ctx context.Context, agentID uuid.UUID, goalType domain.GoalType, shape string) (*domain.Procedure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procedures[procKeyString(goalType, shape)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *mockRepo) SaveProcedure(ctx context.Context, p *domain.Procedure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites {
		return errStoreDown
	}
	m.procedures[procKeyString(p.GoalType, p.Shape)] = *p
	return nil
}

func (m *mockRepo) ListProcedures(ctx context.Context, agentID uuid.UUID, goalType domain.GoalType) ([]domain.Procedure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Procedure
	for _, p := range m.procedures {
		if p.GoalType == goalType {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepo) FindSimilarProcedures(ctx context.Context, agentID uuid.UUID, embedding []float32, limit int) ([]domain.ProcedureWithScore, error) {
	return m.similar, nil
}

// mockReasoner is a testify mock of domain.Reasoner.
type mockReasoner struct {
	mock.Mock
}

func (m *mockReasoner) ExtractBeliefs(ctx context.Context, obs domain.Observation, bctx domain.BeliefContext) ([]domain.BeliefCandidate, error) {
	args := m.Called(ctx, obs, bctx)
	cands, _ := args.Get(0).([]domain.BeliefCandidate)
	return cands, args.Error(1)
}

func (m *mockReasoner) GeneratePlan(ctx context.Context, req domain.PlanRequest) (*domain.PlanProposal, error) {
	args := m.Called(ctx, req)
	p, _ := args.Get(0).(*domain.PlanProposal)
	return p, args.Error(1)
}

// funcReasoner adapts plain functions to domain.Reasoner.
type funcReasoner struct {
	extract func(ctx context.Context, obs domain.Observation) ([]domain.BeliefCandidate, error)
	plan    func(ctx context.Context, req domain.PlanRequest) (*domain.PlanProposal, error)
}

func (f *funcReasoner) ExtractBeliefs(ctx context.Context, obs domain.Observation, _ domain.BeliefContext) ([]domain.BeliefCandidate, error) {
	if f.extract == nil {
		return nil, nil
	}
	return f.extract(ctx, obs)
}

func (f *funcReasoner) GeneratePlan(ctx context.Context, req domain.PlanRequest) (*domain.PlanProposal, error) {
	if f.plan == nil {
		return nil, nil
	}
	return f.plan(ctx, req)
}

// payloadReasoner turns {subject, predicate, value} payloads into candidates.
func payloadReasoner() *funcReasoner {
	return &funcReasoner{extract: func(_ context.Context, obs domain.Observation) ([]domain.BeliefCandidate, error) {
		subj, _ := obs.Payload["subject"].(string)
		pred, _ := obs.Payload["predicate"].(string)
		val, _ := obs.Payload["value"].(string)
		conf, _ := obs.Payload["confidence"].(float64)
		return []domain.BeliefCandidate{{Subject: subj, Predicate: pred, Object: val, Confidence: conf}}, nil
	}}
}

func observation(subject, predicate, value string, conf float64, priority int) domain.Observation {
	return domain.Observation{
		ID:        uuid.New(),
		Kind:      "fact",
		Priority:  priority,
		Timestamp: time.Now(),
		Payload: map[string]any{
			"subject":    subject,
			"predicate":  predicate,
			"value":      value,
			"confidence": conf,
		},
	}
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// stubEmbedder returns a fixed vector.
type stubEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return e.vec, e.err
}

var mockAnything = mock.Anything
