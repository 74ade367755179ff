package store

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type CycleStore struct {
	db DB
}

func NewCycleStore(db DB) *CycleStore {
	return &CycleStore{db: db}
}

func (s *CycleStore) SaveCycle(ctx context.Context, rec *domain.CycleRecord) error {
	body, err := marshalJSON(rec)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO cycles (id, agent_id, cycle_number, started_at, error_count, record)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			error_count = EXCLUDED.error_count,
			record = EXCLUDED.record`,
		rec.ID, rec.AgentID, rec.CycleNumber, rec.StartedAt, len(rec.Errors), body,
	)
	if err != nil {
		return fmt.Errorf("save cycle: %w", mapErr(err))
	}
	return nil
}

// ListCycles returns the newest records first. A limit <= 0 returns all.
func (s *CycleStore) ListCycles(ctx context.Context, agentID uuid.UUID, limit int) ([]domain.CycleRecord, error) {
	query := `SELECT record FROM cycles WHERE agent_id = $1 ORDER BY cycle_number DESC, started_at DESC`
	args := []any{agentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var out []domain.CycleRecord
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan cycle row: %w", err)
		}
		var rec domain.CycleRecord
		if err := unmarshalJSON(body, &rec); err != nil {
			return nil, fmt.Errorf("cycle record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *CycleStore) PruneCycles(ctx context.Context, agentID uuid.UUID, keep int) error {
	if keep < 0 {
		return nil
	}
	return inAgentTx(ctx, s.db, agentID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM cycles
			 WHERE agent_id = $1 AND id NOT IN (
				SELECT id FROM cycles WHERE agent_id = $1
				ORDER BY cycle_number DESC, started_at DESC
				LIMIT $2
			 )`, agentID, keep); err != nil {
			return fmt.Errorf("prune cycles: %w", err)
		}
		return nil
	})
}
