package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeliefsUpsertByKey(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	agent := uuid.New()
	now := time.Now().UTC()

	first := domain.Belief{ID: uuid.New(), Subject: "pipeline", Predicate: "coverage", Object: "1.5", Confidence: 0.9, Source: domain.SourceObservation, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveBeliefs(ctx, agent, []domain.Belief{first}))

	second := first
	second.Object = "3.2"
	second.History = []domain.BeliefRevision{{Object: "1.5", Confidence: 0.9, Reason: domain.RevisionReplaced, RevisedAt: now}}
	inbox := domain.Belief{ID: uuid.New(), Subject: "inbox", Predicate: "unread", Object: "4", Confidence: 0.6, Source: domain.SourceInference, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveBeliefs(ctx, agent, []domain.Belief{second, inbox}))

	list, err := s.ListBeliefs(ctx, agent)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "inbox", list[0].Subject)
	assert.Equal(t, "3.2", list[1].Object)
	require.Len(t, list[1].History, 1)
	assert.Equal(t, agent, list[1].AgentID)

	other, err := s.ListBeliefs(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestGoalsRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	agent := uuid.New()
	base := time.Now().UTC()

	older := &domain.Goal{ID: uuid.New(), AgentID: agent, Type: domain.GoalMaintain, Description: "coverage", Priority: 7,
		Target: domain.GoalTarget{Subject: "pipeline", Predicate: "coverage", Comparator: domain.ComparatorGTE, Threshold: 3},
		Status: domain.GoalActive, CreatedAt: base, UpdatedAt: base}
	newer := &domain.Goal{ID: uuid.New(), AgentID: agent, Type: domain.GoalAchieve, Description: "close deal", Priority: 5,
		Status: domain.GoalActive, CreatedAt: base.Add(time.Second), UpdatedAt: base}
	require.NoError(t, s.SaveGoal(ctx, newer))
	require.NoError(t, s.SaveGoal(ctx, older))

	older.Progress = 0.5
	require.NoError(t, s.SaveGoal(ctx, older))

	list, err := s.ListGoals(ctx, agent)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, older.ID, list[0].ID)
	assert.Equal(t, 0.5, list[0].Progress)
	assert.Equal(t, 3.0, list[0].Target.Threshold)

	require.NoError(t, s.DeleteGoals(ctx, agent, []uuid.UUID{older.ID}))
	list, err = s.ListGoals(ctx, agent)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, newer.ID, list[0].ID)
}

func TestIntentionsRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	agent := uuid.New()
	now := time.Now().UTC()
	dep := uuid.New()

	it := domain.Intention{ID: uuid.New(), GoalID: uuid.New(), PlanID: uuid.New(), Type: domain.IntentionAction,
		Capability: "crm", Action: "update", Parameters: map[string]any{"deal": "42"}, Priority: 6,
		Dependencies: []uuid.UUID{dep}, Status: domain.IntentionReady, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.SaveIntentions(ctx, agent, []domain.Intention{it}))

	it.Status = domain.IntentionFailed
	it.Result = &domain.ActionResult{Error: "forbidden", ErrorClass: domain.ErrorClassPermanent, Attempts: 1}
	require.NoError(t, s.SaveIntentions(ctx, agent, []domain.Intention{it}))

	list, err := s.ListIntentions(ctx, agent)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.IntentionFailed, list[0].Status)
	assert.Equal(t, []uuid.UUID{dep}, list[0].Dependencies)
	assert.Equal(t, "42", list[0].Parameters["deal"])
	require.NotNil(t, list[0].Result)
	assert.Equal(t, domain.ErrorClassPermanent, list[0].Result.ErrorClass)

	require.NoError(t, s.DeleteIntentions(ctx, agent, []uuid.UUID{it.ID}))
	list, err = s.ListIntentions(ctx, agent)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestArchiveObservationsIsIdempotent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	agent := uuid.New()
	o := domain.Observation{ID: uuid.New(), Source: "crm", Kind: "deal_stalled", Priority: 8, Timestamp: time.Now().UTC()}

	require.NoError(t, s.ArchiveObservations(ctx, agent, []domain.Observation{o}))
	require.NoError(t, s.ArchiveObservations(ctx, agent, []domain.Observation{o}))

	got, err := s.Observations(ctx, agent)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "deal_stalled", got[0].Kind)
}

func TestCyclesNewestFirstAndPrune(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	agent := uuid.New()

	for n := int64(1); n <= 5; n++ {
		rec := &domain.CycleRecord{ID: uuid.New(), AgentID: agent, CycleNumber: n, StartedAt: time.Now().UTC()}
		require.NoError(t, s.SaveCycle(ctx, rec))
	}

	got, err := s.ListCycles(ctx, agent, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(5), got[0].CycleNumber)
	assert.Equal(t, int64(4), got[1].CycleNumber)

	require.NoError(t, s.PruneCycles(ctx, agent, 3))
	got, err = s.ListCycles(ctx, agent, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[2].CycleNumber)
}

func TestProcedures(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	agent := uuid.New()
	now := time.Now().UTC()

	_, err := s.GetProcedure(ctx, agent, domain.GoalAchieve, "action:crm.update")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	update := &domain.Procedure{ID: uuid.New(), AgentID: agent, GoalType: domain.GoalAchieve, Shape: "action:crm.update",
		TriggerEmbedding: []float32{1, 0}, CreatedAt: now, UpdatedAt: now}
	update.Record(true, now)
	send := &domain.Procedure{ID: uuid.New(), AgentID: agent, GoalType: domain.GoalAchieve, Shape: "action:mail.send",
		TriggerEmbedding: []float32{0, 1}, CreatedAt: now, UpdatedAt: now}
	send.Record(false, now)
	query := &domain.Procedure{ID: uuid.New(), AgentID: agent, GoalType: domain.GoalQuery, Shape: "action:crm.search",
		CreatedAt: now, UpdatedAt: now}
	for _, p := range []*domain.Procedure{update, send, query} {
		require.NoError(t, s.SaveProcedure(ctx, p))
	}

	// Saving without an embedding keeps the stored one.
	update.TriggerEmbedding = nil
	update.Record(true, now)
	require.NoError(t, s.SaveProcedure(ctx, update))

	got, err := s.GetProcedure(ctx, agent, domain.GoalAchieve, "action:crm.update")
	require.NoError(t, err)
	assert.Equal(t, 2, got.UseCount)
	assert.Equal(t, []float32{1, 0}, got.TriggerEmbedding)

	list, err := s.ListProcedures(ctx, agent, domain.GoalAchieve)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "action:crm.update", list[0].Shape)

	all, err := s.ListProcedures(ctx, agent, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	similar, err := s.FindSimilarProcedures(ctx, agent, []float32{0.1, 0.9}, 1)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "action:mail.send", similar[0].Shape)
	assert.Greater(t, similar[0].Score, 0.9)
}

func TestOpenPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentd.db")
	ctx := context.Background()
	agent := uuid.New()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
	g := &domain.Goal{ID: uuid.New(), AgentID: agent, Type: domain.GoalQuery, Description: "who owns acme", Priority: 3,
		Status: domain.GoalActive, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.SaveGoal(ctx, g))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	list, err := s.ListGoals(ctx, agent)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "who owns acme", list[0].Description)
}
