package store

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ObservationStore struct {
	db DB
}

func NewObservationStore(db DB) *ObservationStore {
	return &ObservationStore{db: db}
}

// ArchiveObservations copies consumed observations out of the live queue.
// Re-archiving an observation is a no-op.
func (s *ObservationStore) ArchiveObservations(ctx context.Context, agentID uuid.UUID, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	return inAgentTx(ctx, s.db, agentID, func(tx pgx.Tx) error {
		for i := range obs {
			o := &obs[i]
			payload, err := marshalJSON(o.Payload)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO observations (id, agent_id, source, kind, payload, priority, observed_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 ON CONFLICT (id) DO NOTHING`,
				o.ID, agentID, o.Source, o.Kind, payload, o.Priority, o.Timestamp,
			); err != nil {
				return fmt.Errorf("archive observation %s: %w", o.ID, err)
			}
		}
		return nil
	})
}
