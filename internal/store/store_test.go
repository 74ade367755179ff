package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v2"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func expectTx(mock pgxmock.PgxPoolIface, agentID uuid.UUID) {
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(agentID.String()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func expectCommit(mock pgxmock.PgxPoolIface) {
	mock.ExpectCommit()
	mock.ExpectRollback().WillReturnError(pgx.ErrTxClosed)
}

var beliefColumns = []string{
	"id", "agent_id", "subject", "predicate", "object", "confidence", "source",
	"evidence", "history", "created_at", "updated_at", "decayed_at",
}

func TestSaveBeliefsUpsertsInOneTransaction(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	agentID := uuid.New()
	now := time.Now().UTC()

	beliefs := []domain.Belief{
		{ID: uuid.New(), Subject: "pipeline", Predicate: "coverage", Object: "1.5", Confidence: 0.9, Source: domain.SourceObservation, CreatedAt: now, UpdatedAt: now, DecayedAt: now},
		{ID: uuid.New(), Subject: "inbox", Predicate: "unread", Object: "3", Confidence: 0.7, Source: domain.SourceInference, CreatedAt: now, UpdatedAt: now, DecayedAt: now},
	}

	expectTx(mock, agentID)
	for _, b := range beliefs {
		mock.ExpectExec("INSERT INTO beliefs").
			WithArgs(b.ID, agentID, b.Subject, b.Predicate, b.Object, b.Confidence, b.Source,
				pgxmock.AnyArg(), pgxmock.AnyArg(), b.CreatedAt, b.UpdatedAt, b.DecayedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	expectCommit(mock)

	require.NoError(t, repo.SaveBeliefs(context.Background(), agentID, beliefs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBeliefsRollsBackOnFailure(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	agentID := uuid.New()
	now := time.Now().UTC()

	beliefs := []domain.Belief{
		{ID: uuid.New(), Subject: "a", Predicate: "p", Object: "1", Confidence: 0.5, Source: domain.SourcePrior, CreatedAt: now, UpdatedAt: now, DecayedAt: now},
		{ID: uuid.New(), Subject: "b", Predicate: "p", Object: "2", Confidence: 0.5, Source: domain.SourcePrior, CreatedAt: now, UpdatedAt: now, DecayedAt: now},
	}

	expectTx(mock, agentID)
	mock.ExpectExec("INSERT INTO beliefs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO beliefs").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.SaveBeliefs(context.Background(), agentID, beliefs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBeliefsEmptyBatchIsNoop(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)

	require.NoError(t, repo.SaveBeliefs(context.Background(), uuid.New(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListBeliefsDecodesHistory(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	agentID := uuid.New()
	id := uuid.New()
	evidence := []uuid.UUID{uuid.New()}
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM beliefs\s+WHERE agent_id`).
		WithArgs(agentID).
		WillReturnRows(pgxmock.NewRows(beliefColumns).AddRow(
			id, agentID, "pipeline", "coverage", "3.2", 0.8, domain.SourceObservation,
			evidence, []byte(`[{"object":"1.5","confidence":0.9,"source":"observation","reason":"replaced","revised_at":"2026-01-01T00:00:00Z"}]`),
			now, now, now,
		))

	got, err := repo.ListBeliefs(context.Background(), agentID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "3.2", got[0].Object)
	assert.Equal(t, evidence, got[0].Evidence)
	require.Len(t, got[0].History, 1)
	assert.Equal(t, domain.RevisionReplaced, got[0].History[0].Reason)
	assert.Equal(t, "1.5", got[0].History[0].Object)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListGoalsDecodesTarget(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	agentID := uuid.New()
	now := time.Now().UTC()

	cols := []string{"id", "agent_id", "type", "description", "priority", "target", "status",
		"progress", "last_planned_at", "created_at", "updated_at"}
	mock.ExpectQuery(`FROM goals\s+WHERE agent_id`).
		WithArgs(agentID).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			uuid.New(), agentID, domain.GoalMaintain, "keep coverage", 7,
			[]byte(`{"subject":"pipeline","predicate":"coverage","comparator":"gte","threshold":3}`),
			domain.GoalActive, 0.0, (*time.Time)(nil), now, now,
		))

	got, err := repo.ListGoals(context.Background(), agentID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ComparatorGTE, got[0].Target.Comparator)
	assert.Equal(t, 3.0, got[0].Target.Threshold)
	assert.Nil(t, got[0].LastPlannedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveGoalMapsUniqueViolation(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	now := time.Now().UTC()
	g := &domain.Goal{ID: uuid.New(), AgentID: uuid.New(), Type: domain.GoalAchieve, Description: "ship", Priority: 5, Status: domain.GoalActive, CreatedAt: now, UpdatedAt: now}

	expectTx(mock, g.AgentID)
	mock.ExpectExec("INSERT INTO goals").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "goals_pkey"})
	mock.ExpectRollback()

	err := repo.SaveGoal(context.Background(), g)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGoals(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	agentID := uuid.New()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	expectTx(mock, agentID)
	mock.ExpectExec("DELETE FROM goals").
		WithArgs(agentID, ids).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	expectCommit(mock)

	require.NoError(t, repo.DeleteGoals(context.Background(), agentID, ids))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListIntentionsDecodesResult(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	agentID := uuid.New()
	now := time.Now().UTC()
	dep := uuid.New()

	cols := []string{"id", "agent_id", "goal_id", "plan_id", "type", "description", "capability", "action",
		"parameters", "priority", "dependencies", "status", "result",
		"created_at", "updated_at", "started_at", "finished_at"}
	mock.ExpectQuery(`FROM intentions\s+WHERE agent_id`).
		WithArgs(agentID).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(uuid.New(), agentID, uuid.New(), uuid.New(), domain.IntentionAction, "update deal", "crm", "update",
				[]byte(`{"deal":"42"}`), 6, []uuid.UUID{dep}, domain.IntentionFailed,
				[]byte(`{"success":false,"error":"403","error_class":"permanent","duration":0,"retries":0,"attempts":1}`),
				now, now, &now, &now).
			AddRow(uuid.New(), agentID, uuid.New(), uuid.New(), domain.IntentionAction, "notify", "mail", "send",
				[]byte(`null`), 5, []uuid.UUID{}, domain.IntentionPending, []byte(nil),
				now, now, (*time.Time)(nil), (*time.Time)(nil)))

	got, err := repo.ListIntentions(context.Background(), agentID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NotNil(t, got[0].Result)
	assert.Equal(t, domain.ErrorClassPermanent, got[0].Result.ErrorClass)
	assert.Equal(t, "42", got[0].Parameters["deal"])
	assert.Equal(t, []uuid.UUID{dep}, got[0].Dependencies)

	assert.Nil(t, got[1].Result)
	assert.Nil(t, got[1].Parameters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveIntentions(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	agentID := uuid.New()
	now := time.Now().UTC()
	it := domain.Intention{
		ID: uuid.New(), GoalID: uuid.New(), PlanID: uuid.New(), Type: domain.IntentionAction,
		Description: "update deal", Capability: "crm", Action: "update", Priority: 5,
		Status: domain.IntentionSucceeded, Result: &domain.ActionResult{Success: true, Attempts: 1},
		CreatedAt: now, UpdatedAt: now, StartedAt: &now, FinishedAt: &now,
	}

	expectTx(mock, agentID)
	mock.ExpectExec("INSERT INTO intentions").
		WithArgs(it.ID, agentID, it.GoalID, it.PlanID, it.Type, it.Description, it.Capability, it.Action,
			pgxmock.AnyArg(), it.Priority, []uuid.UUID{}, it.Status, pgxmock.AnyArg(),
			it.CreatedAt, it.UpdatedAt, it.StartedAt, it.FinishedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectCommit(mock)

	require.NoError(t, repo.SaveIntentions(context.Background(), agentID, []domain.Intention{it}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveObservations(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	agentID := uuid.New()
	o := domain.Observation{ID: uuid.New(), Source: "crm", Kind: "deal_stalled", Priority: 8, Timestamp: time.Now().UTC()}

	expectTx(mock, agentID)
	mock.ExpectExec("INSERT INTO observations").
		WithArgs(o.ID, agentID, o.Source, o.Kind, pgxmock.AnyArg(), o.Priority, o.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectCommit(mock)

	require.NoError(t, repo.ArchiveObservations(context.Background(), agentID, []domain.Observation{o}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCycles(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	agentID := uuid.New()
	rec := &domain.CycleRecord{
		ID: uuid.New(), AgentID: agentID, CycleNumber: 4, StartedAt: time.Now().UTC(),
		PhasesRun: []domain.Phase{domain.PhasePerceiving, domain.PhaseBelieving},
		Errors:    []domain.PhaseError{{Phase: domain.PhasePerceiving, Message: "boom"}},
	}

	mock.ExpectExec("INSERT INTO cycles").
		WithArgs(rec.ID, agentID, rec.CycleNumber, rec.StartedAt, 1, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.SaveCycle(context.Background(), rec))

	body, err := json.Marshal(rec)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT record FROM cycles").
		WithArgs(agentID, 10).
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(body))
	got, err := repo.ListCycles(context.Background(), agentID, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].CycleNumber)
	assert.Equal(t, rec.PhasesRun, got[0].PhasesRun)
	assert.False(t, got[0].Clean())

	expectTx(mock, agentID)
	mock.ExpectExec("DELETE FROM cycles").
		WithArgs(agentID, 100).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	expectCommit(mock)
	require.NoError(t, repo.PruneCycles(context.Background(), agentID, 100))

	assert.NoError(t, mock.ExpectationsWereMet())
}

var procColumns = []string{"id", "agent_id", "goal_type", "shape", "trigger_pattern", "trigger_embedding",
	"use_count", "success_count", "failure_count", "success_rate", "last_used_at", "created_at", "updated_at"}

func TestGetProcedureNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	agentID := uuid.New()

	mock.ExpectQuery(`FROM procedures\s+WHERE agent_id`).
		WithArgs(agentID, domain.GoalAchieve, "action:crm.update").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetProcedure(context.Background(), agentID, domain.GoalAchieve, "action:crm.update")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindSimilarProcedures(t *testing.T) {
	mock := newMock(t)
	repo := NewRepository(mock)
	agentID := uuid.New()
	now := time.Now().UTC()
	query := []float32{0.1, 0.2, 0.3}

	cols := append(append([]string(nil), procColumns...), "score")
	vec := pgvector.NewVector([]float32{0.1, 0.2, 0.4})
	mock.ExpectQuery(`FROM procedures\s+WHERE agent_id`).
		WithArgs(agentID, pgxmock.AnyArg(), 3).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			uuid.New(), agentID, domain.GoalAchieve, "action:crm.update", "close the deal", &vec,
			4, 3, 1, 0.75, &now, now, now, 0.97,
		))

	got, err := repo.FindSimilarProcedures(context.Background(), agentID, query, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.97, got[0].Score, 1e-9)
	assert.Equal(t, "action:crm.update", got[0].Shape)
	assert.Equal(t, []float32{0.1, 0.2, 0.4}, got[0].TriggerEmbedding)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS beliefs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}
