package store

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type BeliefStore struct {
	db DB
}

func NewBeliefStore(db DB) *BeliefStore {
	return &BeliefStore{db: db}
}

func (s *BeliefStore) ListBeliefs(ctx context.Context, agentID uuid.UUID) ([]domain.Belief, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, agent_id, subject, predicate, object, confidence, source,
		        evidence, history, created_at, updated_at, decayed_at
		 FROM beliefs
		 WHERE agent_id = $1
		 ORDER BY subject, predicate`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list beliefs: %w", err)
	}
	defer rows.Close()

	var out []domain.Belief
	for rows.Next() {
		var b domain.Belief
		var history []byte
		if err := rows.Scan(
			&b.ID, &b.AgentID, &b.Subject, &b.Predicate, &b.Object, &b.Confidence, &b.Source,
			&b.Evidence, &history, &b.CreatedAt, &b.UpdatedAt, &b.DecayedAt,
		); err != nil {
			return nil, fmt.Errorf("scan belief row: %w", err)
		}
		if err := unmarshalJSON(history, &b.History); err != nil {
			return nil, fmt.Errorf("belief %s history: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *BeliefStore) SaveBeliefs(ctx context.Context, agentID uuid.UUID, beliefs []domain.Belief) error {
	if len(beliefs) == 0 {
		return nil
	}
	return inAgentTx(ctx, s.db, agentID, func(tx pgx.Tx) error {
		for i := range beliefs {
			b := &beliefs[i]
			history, err := marshalJSON(b.History)
			if err != nil {
				return err
			}
			evidence := b.Evidence
			if evidence == nil {
				evidence = []uuid.UUID{}
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO beliefs (
					id, agent_id, subject, predicate, object, confidence, source,
					evidence, history, created_at, updated_at, decayed_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				ON CONFLICT (agent_id, subject, predicate) DO UPDATE SET
					object = EXCLUDED.object,
					confidence = EXCLUDED.confidence,
					source = EXCLUDED.source,
					evidence = EXCLUDED.evidence,
					history = EXCLUDED.history,
					updated_at = EXCLUDED.updated_at,
					decayed_at = EXCLUDED.decayed_at`,
				b.ID, agentID, b.Subject, b.Predicate, b.Object, b.Confidence, b.Source,
				evidence, history, b.CreatedAt, b.UpdatedAt, b.DecayedAt,
			); err != nil {
				return fmt.Errorf("save belief %s: %w", b.Key(), err)
			}
		}
		return nil
	})
}
