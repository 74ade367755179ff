package store

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type GoalStore struct {
	db DB
}

func NewGoalStore(db DB) *GoalStore {
	return &GoalStore{db: db}
}

func (s *GoalStore) ListGoals(ctx context.Context, agentID uuid.UUID) ([]domain.Goal, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, agent_id, type, description, priority, target, status,
		        progress, last_planned_at, created_at, updated_at
		 FROM goals
		 WHERE agent_id = $1
		 ORDER BY created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var out []domain.Goal
	for rows.Next() {
		var g domain.Goal
		var target []byte
		if err := rows.Scan(
			&g.ID, &g.AgentID, &g.Type, &g.Description, &g.Priority, &target, &g.Status,
			&g.Progress, &g.LastPlannedAt, &g.CreatedAt, &g.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan goal row: %w", err)
		}
		if err := unmarshalJSON(target, &g.Target); err != nil {
			return nil, fmt.Errorf("goal %s target: %w", g.ID, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *GoalStore) SaveGoal(ctx context.Context, g *domain.Goal) error {
	target, err := marshalJSON(g.Target)
	if err != nil {
		return err
	}
	return inAgentTx(ctx, s.db, g.AgentID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO goals (
				id, agent_id, type, description, priority, target, status,
				progress, last_planned_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				description = EXCLUDED.description,
				priority = EXCLUDED.priority,
				target = EXCLUDED.target,
				status = EXCLUDED.status,
				progress = EXCLUDED.progress,
				last_planned_at = EXCLUDED.last_planned_at,
				updated_at = EXCLUDED.updated_at`,
			g.ID, g.AgentID, g.Type, g.Description, g.Priority, target, g.Status,
			g.Progress, g.LastPlannedAt, g.CreatedAt, g.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("save goal: %w", err)
		}
		return nil
	})
}

func (s *GoalStore) DeleteGoals(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return inAgentTx(ctx, s.db, agentID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM goals WHERE agent_id = $1 AND id = ANY($2)`, agentID, ids); err != nil {
			return fmt.Errorf("delete goals: %w", err)
		}
		return nil
	})
}
