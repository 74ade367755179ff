package store

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type IntentionStore struct {
	db DB
}

func NewIntentionStore(db DB) *IntentionStore {
	return &IntentionStore{db: db}
}

func (s *IntentionStore) ListIntentions(ctx context.Context, agentID uuid.UUID) ([]domain.Intention, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, agent_id, goal_id, plan_id, type, description, capability, action,
		        parameters, priority, dependencies, status, result,
		        created_at, updated_at, started_at, finished_at
		 FROM intentions
		 WHERE agent_id = $1
		 ORDER BY created_at`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list intentions: %w", err)
	}
	defer rows.Close()

	var out []domain.Intention
	for rows.Next() {
		var it domain.Intention
		var params, result []byte
		if err := rows.Scan(
			&it.ID, &it.AgentID, &it.GoalID, &it.PlanID, &it.Type, &it.Description, &it.Capability, &it.Action,
			&params, &it.Priority, &it.Dependencies, &it.Status, &result,
			&it.CreatedAt, &it.UpdatedAt, &it.StartedAt, &it.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan intention row: %w", err)
		}
		if err := unmarshalJSON(params, &it.Parameters); err != nil {
			return nil, fmt.Errorf("intention %s parameters: %w", it.ID, err)
		}
		if len(result) > 0 && string(result) != "null" {
			it.Result = &domain.ActionResult{}
			if err := unmarshalJSON(result, it.Result); err != nil {
				return nil, fmt.Errorf("intention %s result: %w", it.ID, err)
			}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *IntentionStore) SaveIntentions(ctx context.Context, agentID uuid.UUID, intentions []domain.Intention) error {
	if len(intentions) == 0 {
		return nil
	}
	return inAgentTx(ctx, s.db, agentID, func(tx pgx.Tx) error {
		for i := range intentions {
			it := &intentions[i]
			params, err := marshalJSON(it.Parameters)
			if err != nil {
				return err
			}
			var result []byte
			if it.Result != nil {
				if result, err = marshalJSON(it.Result); err != nil {
					return err
				}
			}
			deps := it.Dependencies
			if deps == nil {
				deps = []uuid.UUID{}
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO intentions (
					id, agent_id, goal_id, plan_id, type, description, capability, action,
					parameters, priority, dependencies, status, result,
					created_at, updated_at, started_at, finished_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
				ON CONFLICT (id) DO UPDATE SET
					status = EXCLUDED.status,
					result = EXCLUDED.result,
					updated_at = EXCLUDED.updated_at,
					started_at = EXCLUDED.started_at,
					finished_at = EXCLUDED.finished_at`,
				it.ID, agentID, it.GoalID, it.PlanID, it.Type, it.Description, it.Capability, it.Action,
				params, it.Priority, deps, it.Status, result,
				it.CreatedAt, it.UpdatedAt, it.StartedAt, it.FinishedAt,
			); err != nil {
				return fmt.Errorf("save intention %s: %w", it.ID, err)
			}
		}
		return nil
	})
}

func (s *IntentionStore) DeleteIntentions(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return inAgentTx(ctx, s.db, agentID, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM intentions WHERE agent_id = $1 AND id = ANY($2)`, agentID, ids); err != nil {
			return fmt.Errorf("delete intentions: %w", err)
		}
		return nil
	})
}
