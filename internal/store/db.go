// Package store is the Postgres Repository.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed schema.sql
var schema string

// DB is the subset of *pgxpool.Pool the stores use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Repository bundles the per-table stores into a domain.Repository.
type Repository struct {
	*BeliefStore
	*GoalStore
	*IntentionStore
	*ObservationStore
	*CycleStore
	*ProcedureStore

	db DB
}

var _ domain.Repository = (*Repository)(nil)

func NewRepository(db DB) *Repository {
	return &Repository{
		BeliefStore:      NewBeliefStore(db),
		GoalStore:        NewGoalStore(db),
		IntentionStore:   NewIntentionStore(db),
		ObservationStore: NewObservationStore(db),
		CycleStore:       NewCycleStore(db),
		ProcedureStore:   NewProcedureStore(db),
		db:               db,
	}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// lockAgent serialises writers to one agent's rows for the rest of tx.
func lockAgent(ctx context.Context, tx pgx.Tx, agentID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, agentID.String()); err != nil {
		return fmt.Errorf("lock agent: %w", err)
	}
	return nil
}

// inAgentTx runs fn in a transaction holding the agent's write lock.
func inAgentTx(ctx context.Context, db DB, agentID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit reports ErrTxClosed.
		_ = tx.Rollback(ctx)
	}()

	if err := lockAgent(ctx, tx, agentID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return mapErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return b, nil
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
