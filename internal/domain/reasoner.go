package domain

import "context"

// BeliefContext is the context handed to the reasoner when extracting beliefs.
type BeliefContext struct {
	AgentRole string   `json:"agent_role,omitempty"`
	Related   []Belief `json:"related,omitempty"`
}

// PlanRequest carries everything the reasoner may use to propose a plan.
type PlanRequest struct {
	Goal         Goal             `json:"goal"`
	Beliefs      []Belief         `json:"beliefs"`
	Capabilities []CapabilityInfo `json:"capabilities"`
	Hints        []string         `json:"hints,omitempty"`
}

// PlanStep is one proposed step. DependsOn holds zero-based indices into
// the enclosing proposal's Steps.
type PlanStep struct {
	Type        IntentionType  `json:"type"`
	Description string         `json:"description"`
	Capability  string         `json:"capability"`
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Priority    int            `json:"priority"`
	DependsOn   []int          `json:"depends_on,omitempty"`
}

type PlanProposal struct {
	Steps     []PlanStep `json:"steps"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// Reasoner turns observations into belief candidates and goals into plans.
// Both calls must honour ctx deadlines.
type Reasoner interface {
	ExtractBeliefs(ctx context.Context, obs Observation, bctx BeliefContext) ([]BeliefCandidate, error)
	GeneratePlan(ctx context.Context, req PlanRequest) (*PlanProposal, error)
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
