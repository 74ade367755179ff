package store

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
)

type ProcedureStore struct {
	db DB
}

func NewProcedureStore(db DB) *ProcedureStore {
	return &ProcedureStore{db: db}
}

const procedureColumns = `id, agent_id, goal_type, shape, trigger_pattern, trigger_embedding,
	use_count, success_count, failure_count, success_rate, last_used_at, created_at, updated_at`

func (s *ProcedureStore) GetProcedure(ctx context.Context, agentID uuid.UUID, goalType domain.GoalType, shape string) (*domain.Procedure, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+procedureColumns+`
		 FROM procedures
		 WHERE agent_id = $1 AND goal_type = $2 AND shape = $3`, agentID, goalType, shape)
	p, err := scanProcedure(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

// SaveProcedure upserts by (agent, goal type, shape).
func (s *ProcedureStore) SaveProcedure(ctx context.Context, p *domain.Procedure) error {
	var embedding *pgvector.Vector
	if len(p.TriggerEmbedding) > 0 {
		v := pgvector.NewVector(p.TriggerEmbedding)
		embedding = &v
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO procedures (`+procedureColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (agent_id, goal_type, shape) DO UPDATE SET
			trigger_pattern = EXCLUDED.trigger_pattern,
			trigger_embedding = COALESCE(EXCLUDED.trigger_embedding, procedures.trigger_embedding),
			use_count = EXCLUDED.use_count,
			success_count = EXCLUDED.success_count,
			failure_count = EXCLUDED.failure_count,
			success_rate = EXCLUDED.success_rate,
			last_used_at = EXCLUDED.last_used_at,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.AgentID, p.GoalType, p.Shape, p.TriggerPattern, embedding,
		p.UseCount, p.SuccessCount, p.FailureCount, p.SuccessRate, p.LastUsedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save procedure: %w", mapErr(err))
	}
	return nil
}

// ListProcedures returns procedures best first. An empty goal type lists all.
func (s *ProcedureStore) ListProcedures(ctx context.Context, agentID uuid.UUID, goalType domain.GoalType) ([]domain.Procedure, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+procedureColumns+`
		 FROM procedures
		 WHERE agent_id = $1 AND ($2 = '' OR goal_type = $2)
		 ORDER BY success_rate DESC, shape`, agentID, string(goalType))
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	defer rows.Close()

	var out []domain.Procedure
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, fmt.Errorf("scan procedure row: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *ProcedureStore) FindSimilarProcedures(ctx context.Context, agentID uuid.UUID, embedding []float32, limit int) ([]domain.ProcedureWithScore, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+procedureColumns+`, 1 - (trigger_embedding <=> $2) AS score
		 FROM procedures
		 WHERE agent_id = $1 AND trigger_embedding IS NOT NULL
		 ORDER BY trigger_embedding <=> $2
		 LIMIT $3`, agentID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("find similar procedures: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcedureWithScore
	for rows.Next() {
		var p domain.Procedure
		var vec *pgvector.Vector
		var score float64
		if err := rows.Scan(
			&p.ID, &p.AgentID, &p.GoalType, &p.Shape, &p.TriggerPattern, &vec,
			&p.UseCount, &p.SuccessCount, &p.FailureCount, &p.SuccessRate, &p.LastUsedAt, &p.CreatedAt, &p.UpdatedAt,
			&score,
		); err != nil {
			return nil, fmt.Errorf("scan similar procedure row: %w", err)
		}
		if vec != nil {
			p.TriggerEmbedding = vec.Slice()
		}
		out = append(out, domain.ProcedureWithScore{Procedure: p, Score: score})
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProcedure(row scanner) (*domain.Procedure, error) {
	var p domain.Procedure
	var vec *pgvector.Vector
	if err := row.Scan(
		&p.ID, &p.AgentID, &p.GoalType, &p.Shape, &p.TriggerPattern, &vec,
		&p.UseCount, &p.SuccessCount, &p.FailureCount, &p.SuccessRate, &p.LastUsedAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if vec != nil {
		p.TriggerEmbedding = vec.Slice()
	}
	return &p, nil
}
