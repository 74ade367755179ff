// Package memstore is an in-process Repository for tests and single-run
// agents that do not need durability.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
)

const maxArchivedObservations = 10000

type procKey struct {
	agentID  uuid.UUID
	goalType domain.GoalType
	shape    string
}

// Store keeps every agent's rows in maps behind one mutex.
type Store struct {
	mu           sync.Mutex
	beliefs      map[uuid.UUID]map[domain.BeliefKey]domain.Belief
	goals        map[uuid.UUID]map[uuid.UUID]domain.Goal
	intentions   map[uuid.UUID]map[uuid.UUID]domain.Intention
	observations map[uuid.UUID][]domain.Observation
	cycles       map[uuid.UUID][]domain.CycleRecord
	procedures   map[procKey]domain.Procedure
}

var _ domain.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		beliefs:      make(map[uuid.UUID]map[domain.BeliefKey]domain.Belief),
		goals:        make(map[uuid.UUID]map[uuid.UUID]domain.Goal),
		intentions:   make(map[uuid.UUID]map[uuid.UUID]domain.Intention),
		observations: make(map[uuid.UUID][]domain.Observation),
		cycles:       make(map[uuid.UUID][]domain.CycleRecord),
		procedures:   make(map[procKey]domain.Procedure),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) ListBeliefs(ctx context.Context, agentID uuid.UUID) ([]domain.Belief, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Belief, 0, len(s.beliefs[agentID]))
	for _, b := range s.beliefs[agentID] {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

func (s *Store) SaveBeliefs(ctx context.Context, agentID uuid.UUID, beliefs []domain.Belief) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.beliefs[agentID]
	if m == nil {
		m = make(map[domain.BeliefKey]domain.Belief)
		s.beliefs[agentID] = m
	}
	for _, b := range beliefs {
		m[b.Key()] = b.Clone()
	}
	return nil
}

func (s *Store) ListGoals(ctx context.Context, agentID uuid.UUID) ([]domain.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Goal, 0, len(s.goals[agentID]))
	for _, g := range s.goals[agentID] {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveGoal(ctx context.Context, g *domain.Goal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.goals[g.AgentID]
	if m == nil {
		m = make(map[uuid.UUID]domain.Goal)
		s.goals[g.AgentID] = m
	}
	m[g.ID] = g.Clone()
	return nil
}

func (s *Store) DeleteGoals(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.goals[agentID], id)
	}
	return nil
}

func (s *Store) ListIntentions(ctx context.Context, agentID uuid.UUID) ([]domain.Intention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Intention, 0, len(s.intentions[agentID]))
	for _, it := range s.intentions[agentID] {
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveIntentions(ctx context.Context, agentID uuid.UUID, intentions []domain.Intention) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.intentions[agentID]
	if m == nil {
		m = make(map[uuid.UUID]domain.Intention)
		s.intentions[agentID] = m
	}
	for _, it := range intentions {
		m[it.ID] = it.Clone()
	}
	return nil
}

func (s *Store) DeleteIntentions(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.intentions[agentID], id)
	}
	return nil
}

func (s *Store) ArchiveObservations(ctx context.Context, agentID uuid.UUID, obs []domain.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(s.observations[agentID], obs...)
	if len(all) > maxArchivedObservations {
		all = all[len(all)-maxArchivedObservations:]
	}
	s.observations[agentID] = all
	return nil
}

// Observations returns the archived observations of an agent.
func (s *Store) Observations(agentID uuid.UUID) []domain.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Observation(nil), s.observations[agentID]...)
}

func (s *Store) SaveCycle(ctx context.Context, rec *domain.CycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.cycles[rec.AgentID]
	for i := range list {
		if list[i].ID == rec.ID {
			list[i] = rec.Clone()
			return nil
		}
	}
	s.cycles[rec.AgentID] = append(list, rec.Clone())
	return nil
}

// ListCycles returns the newest records first.
func (s *Store) ListCycles(ctx context.Context, agentID uuid.UUID, limit int) ([]domain.CycleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.cycles[agentID]
	out := make([]domain.CycleRecord, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, list[i].Clone())
	}
	return out, nil
}

func (s *Store) PruneCycles(ctx context.Context, agentID uuid.UUID, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.cycles[agentID]
	if keep >= 0 && len(list) > keep {
		s.cycles[agentID] = append([]domain.CycleRecord(nil), list[len(list)-keep:]...)
	}
	return nil
}

func (s *Store) GetProcedure(ctx context.Context, agentID uuid.UUID, goalType domain.GoalType, shape string) (*domain.Procedure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procedures[procKey{agentID, goalType, shape}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	p.TriggerEmbedding = append([]float32(nil), p.TriggerEmbedding...)
	return &p, nil
}

func (s *Store) SaveProcedure(ctx context.Context, p *domain.Procedure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	c.TriggerEmbedding = append([]float32(nil), p.TriggerEmbedding...)
	s.procedures[procKey{p.AgentID, p.GoalType, p.Shape}] = c
	return nil
}

func (s *Store) ListProcedures(ctx context.Context, agentID uuid.UUID, goalType domain.GoalType) ([]domain.Procedure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Procedure
	for k, p := range s.procedures {
		if k.agentID == agentID && (goalType == "" || k.goalType == goalType) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		return out[i].Shape < out[j].Shape
	})
	return out, nil
}

// FindSimilarProcedures ranks procedures by cosine similarity of their
// trigger embedding.
func (s *Store) FindSimilarProcedures(ctx context.Context, agentID uuid.UUID, embedding []float32, limit int) ([]domain.ProcedureWithScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ProcedureWithScore
	for k, p := range s.procedures {
		if k.agentID != agentID || len(p.TriggerEmbedding) == 0 {
			continue
		}
		out = append(out, domain.ProcedureWithScore{Procedure: p, Score: domain.Cosine(embedding, p.TriggerEmbedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
