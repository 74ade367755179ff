package domain

import (
	"time"

	"github.com/google/uuid"
)

// BeliefSource indicates where a belief originated. Sources decay at
// different rates: human statements are trusted longest, priors shortest.
type BeliefSource string

const (
	SourceObservation BeliefSource = "observation"
	SourceInference   BeliefSource = "inference"
	SourceToldByHuman BeliefSource = "told_by_human"
	SourcePrior       BeliefSource = "prior"
)

func (s BeliefSource) IsValid() bool {
	switch s {
	case SourceObservation, SourceInference, SourceToldByHuman, SourcePrior:
		return true
	}
	return false
}

// BeliefKey is the identity of a belief. At most one belief exists per key.
type BeliefKey struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
}

func (k BeliefKey) String() string {
	return k.Subject + "/" + k.Predicate
}

// Belief is a confidence-weighted fact the agent holds about the world.
type Belief struct {
	ID         uuid.UUID        `json:"id"`
	AgentID    uuid.UUID        `json:"agent_id"`
	Subject    string           `json:"subject"`
	Predicate  string           `json:"predicate"`
	Object     string           `json:"object"`
	Confidence float64          `json:"confidence"`
	Source     BeliefSource     `json:"source"`
	Evidence   []uuid.UUID      `json:"evidence,omitempty"`
	History    []BeliefRevision `json:"history,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	// DecayedAt is the last instant decay was applied up to.
	DecayedAt time.Time `json:"decayed_at"`
}

func (b *Belief) Key() BeliefKey {
	return BeliefKey{Subject: b.Subject, Predicate: b.Predicate}
}

// Clone returns a deep copy so callers cannot mutate store-owned state.
func (b *Belief) Clone() Belief {
	c := *b
	if b.Evidence != nil {
		c.Evidence = append([]uuid.UUID(nil), b.Evidence...)
	}
	if b.History != nil {
		c.History = append([]BeliefRevision(nil), b.History...)
	}
	return c
}

// RevisionReason explains why a belief changed.
type RevisionReason string

const (
	RevisionReinforced   RevisionReason = "reinforced"
	RevisionContradicted RevisionReason = "contradicted"
	RevisionReplaced     RevisionReason = "replaced"
	RevisionTold         RevisionReason = "told"
)

// BeliefRevision records the state a belief had before a conflicting update.
type BeliefRevision struct {
	Object        string         `json:"object"`
	Confidence    float64        `json:"confidence"`
	Source        BeliefSource   `json:"source"`
	Reason        RevisionReason `json:"reason"`
	ObservationID *uuid.UUID     `json:"observation_id,omitempty"`
	RevisedAt     time.Time      `json:"revised_at"`
}

// BeliefCandidate is a tuple proposed by the reasoner for one observation.
type BeliefCandidate struct {
	Subject    string       `json:"subject"`
	Predicate  string       `json:"predicate"`
	Object     string       `json:"object"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning,omitempty"`
	Source     BeliefSource `json:"source,omitempty"`
}

// BeliefView is the read-only slice of the belief store used by goal evaluation.
type BeliefView interface {
	Query(subject, predicate string) (*Belief, bool)
}
