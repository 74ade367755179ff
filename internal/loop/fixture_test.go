package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Harshitk-cp/agentd/internal/backoff"
	"github.com/Harshitk-cp/agentd/internal/capability"
	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/Harshitk-cp/agentd/internal/service"
	"github.com/Harshitk-cp/agentd/internal/store/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store unavailable")

// flakyRepo is a memstore whose writes can be switched off.
type flakyRepo struct {
	*memstore.Store
	failBeliefs  atomic.Bool
	failOutcomes atomic.Bool

	// failLoads makes that many ListBeliefs calls fail.
	failLoads   atomic.Int32
	beliefLoads atomic.Int32
}

func (r *flakyRepo) ListBeliefs(ctx context.Context, agentID uuid.UUID) ([]domain.Belief, error) {
	r.beliefLoads.Add(1)
	if r.failLoads.Add(-1) >= 0 {
		return nil, errStoreDown
	}
	return r.Store.ListBeliefs(ctx, agentID)
}

func (r *flakyRepo) SaveBeliefs(ctx context.Context, agentID uuid.UUID, beliefs []domain.Belief) error {
	if r.failBeliefs.Load() {
		return errStoreDown
	}
	return r.Store.SaveBeliefs(ctx, agentID, beliefs)
}

// SaveIntentions fails only for batches that finish an intention.
func (r *flakyRepo) SaveIntentions(ctx context.Context, agentID uuid.UUID, its []domain.Intention) error {
	if r.failOutcomes.Load() {
		for _, it := range its {
			if it.Status == domain.IntentionSucceeded || it.Status == domain.IntentionFailed {
				return errStoreDown
			}
		}
	}
	return r.Store.SaveIntentions(ctx, agentID, its)
}

// scriptReasoner reads {subject, predicate, value} payloads and returns
// planned steps per goal description.
type scriptReasoner struct {
	mu     sync.Mutex
	plans   map[string][]domain.PlanStep
	planErr error
	panics  int
	calls   int
}

func (r *scriptReasoner) ExtractBeliefs(_ context.Context, obs domain.Observation, _ domain.BeliefContext) ([]domain.BeliefCandidate, error) {
	r.mu.Lock()
	r.calls++
	if r.panics > 0 {
		r.panics--
		r.mu.Unlock()
		panic("reasoner exploded")
	}
	r.mu.Unlock()

	subj, _ := obs.Payload["subject"].(string)
	pred, _ := obs.Payload["predicate"].(string)
	val, _ := obs.Payload["value"].(string)
	return []domain.BeliefCandidate{{Subject: subj, Predicate: pred, Object: val, Confidence: 0.9}}, nil
}

func (r *scriptReasoner) GeneratePlan(_ context.Context, req domain.PlanRequest) (*domain.PlanProposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.planErr != nil {
		return nil, r.planErr
	}
	return &domain.PlanProposal{Steps: r.plans[req.Goal.Description]}, nil
}

func (r *scriptReasoner) setPlan(desc string, steps ...domain.PlanStep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.plans == nil {
		r.plans = make(map[string][]domain.PlanStep)
	}
	r.plans[desc] = steps
}

// scriptCap is a capability driven by functions.
type scriptCap struct {
	name     string
	perceive func(ctx context.Context) ([]domain.Observation, error)
	execute  func(ctx context.Context, a domain.Action) (map[string]any, error)

	mu      sync.Mutex
	actions []string
}

func (c *scriptCap) Name() string { return c.name }

func (c *scriptCap) Perceive(ctx context.Context) ([]domain.Observation, error) {
	if c.perceive == nil {
		return nil, nil
	}
	return c.perceive(ctx)
}

func (c *scriptCap) Execute(ctx context.Context, a domain.Action) (map[string]any, error) {
	c.mu.Lock()
	c.actions = append(c.actions, a.Name)
	c.mu.Unlock()
	if c.execute == nil {
		return map[string]any{"ok": true}, nil
	}
	return c.execute(ctx, a)
}

func (c *scriptCap) HealthCheck(context.Context) bool { return true }

func (c *scriptCap) Actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.actions...)
}

func fact(subject, predicate, value string) domain.Observation {
	return domain.Observation{
		Kind:     "fact",
		Priority: 5,
		Payload:  map[string]any{"subject": subject, "predicate": predicate, "value": value},
	}
}

// once returns obs on the first call and nothing afterwards.
func once(obs ...domain.Observation) func(context.Context) ([]domain.Observation, error) {
	var done atomic.Bool
	return func(context.Context) ([]domain.Observation, error) {
		if done.Swap(true) {
			return nil, nil
		}
		return obs, nil
	}
}

func always(obs ...domain.Observation) func(context.Context) ([]domain.Observation, error) {
	return func(context.Context) ([]domain.Observation, error) { return obs, nil }
}

func step(action string, deps ...int) domain.PlanStep {
	return domain.PlanStep{Type: domain.IntentionAction, Description: action, Capability: "crm", Action: action, DependsOn: deps}
}

type fixture struct {
	agentID    uuid.UUID
	repo       *flakyRepo
	reasoner   *scriptReasoner
	registry   *capability.Registry
	beliefs    *service.BeliefService
	goals      *service.GoalService
	intentions *service.IntentionStack
	loop       *Loop
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CycleInterval = time.Minute
	cfg.ReflectInterval = time.Hour
	cfg.Backoff = backoff.Policy{Base: time.Second, Multiplier: 2, Max: 10 * time.Second, Jitter: true}
	return cfg
}

func newFixture(t *testing.T, caps ...domain.Capability) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		agentID:  uuid.New(),
		repo:     &flakyRepo{Store: memstore.New()},
		reasoner: &scriptReasoner{},
	}

	execCfg := capability.DefaultExecutorConfig()
	execCfg.MaxRetries = 0
	execCfg.Timeout = time.Second
	f.registry = capability.NewRegistry(f.agentID, capability.NewExecutor(execCfg, logger), logger)
	for _, c := range caps {
		require.NoError(t, f.registry.Register(c))
	}

	f.beliefs = service.NewBeliefService(f.agentID, f.repo, f.reasoner, service.DefaultBeliefConfig(), logger)
	f.goals = service.NewGoalService(f.agentID, f.repo, service.DefaultGoalConfig(), logger)
	f.intentions = service.NewIntentionStack(f.agentID, f.repo, f.reasoner, nil, service.DefaultPlanConfig(), logger)
	reflection := service.NewReflectionService(f.agentID, f.repo, f.goals, f.beliefs, f.intentions, nil, logger)
	f.intentions.SetHintSource(reflection)

	f.loop = New(Deps{
		AgentID:      f.agentID,
		Registry:     f.registry,
		Beliefs:      f.beliefs,
		Goals:        f.goals,
		Intentions:   f.intentions,
		Reflection:   reflection,
		Observations: f.repo,
		Cycles:       f.repo,
	}, testConfig(), logger)
	return f
}

func (f *fixture) addGoal(t *testing.T, g domain.Goal) *domain.Goal {
	t.Helper()
	out, err := f.goals.Add(context.Background(), g)
	require.NoError(t, err)
	return out
}

func coverageGoal() domain.Goal {
	return domain.Goal{
		Type:        domain.GoalMaintain,
		Description: "keep pipeline coverage at 3x",
		Priority:    8,
		Target:      domain.GoalTarget{Subject: "pipeline", Predicate: "coverage", Comparator: domain.ComparatorGTE, Threshold: 3},
	}
}

func achieveGoal(desc string) domain.Goal {
	return domain.Goal{Type: domain.GoalAchieve, Description: desc, Priority: 5}
}

func hasPhase(rec domain.CycleRecord, p domain.Phase) bool {
	for _, x := range rec.PhasesRun {
		if x == p {
			return true
		}
	}
	return false
}
