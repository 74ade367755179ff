package domain

import (
	"context"

	"github.com/google/uuid"
)

type BeliefStore interface {
	ListBeliefs(ctx context.Context, agentID uuid.UUID) ([]Belief, error)
	// SaveBeliefs upserts the batch by (subject, predicate) in one transaction.
	SaveBeliefs(ctx context.Context, agentID uuid.UUID, beliefs []Belief) error
}

type GoalStore interface {
	ListGoals(ctx context.Context, agentID uuid.UUID) ([]Goal, error)
	SaveGoal(ctx context.Context, g *Goal) error
	DeleteGoals(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error
}

type IntentionStore interface {
	ListIntentions(ctx context.Context, agentID uuid.UUID) ([]Intention, error)
	// SaveIntentions upserts the batch in one transaction.
	SaveIntentions(ctx context.Context, agentID uuid.UUID, intentions []Intention) error
	DeleteIntentions(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error
}

type ObservationStore interface {
	ArchiveObservations(ctx context.Context, agentID uuid.UUID, obs []Observation) error
}

type CycleStore interface {
	SaveCycle(ctx context.Context, rec *CycleRecord) error
	ListCycles(ctx context.Context, agentID uuid.UUID, limit int) ([]CycleRecord, error)
	// PruneCycles keeps only the newest keep records.
	PruneCycles(ctx context.Context, agentID uuid.UUID, keep int) error
}

type ProcedureStore interface {
	GetProcedure(ctx context.Context, agentID uuid.UUID, goalType GoalType, shape string) (*Procedure, error)
	SaveProcedure(ctx context.Context, p *Procedure) error
	ListProcedures(ctx context.Context, agentID uuid.UUID, goalType GoalType) ([]Procedure, error)
	FindSimilarProcedures(ctx context.Context, agentID uuid.UUID, embedding []float32, limit int) ([]ProcedureWithScore, error)
}

// Repository is the persistence contract. Writes for one agent are
// serialised by the implementation.
type Repository interface {
	BeliefStore
	GoalStore
	IntentionStore
	ObservationStore
	CycleStore
	ProcedureStore
	Ping(ctx context.Context) error
}
