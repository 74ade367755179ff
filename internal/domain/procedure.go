package domain

import (
	"time"

	"github.com/google/uuid"
)

// Procedure is learned "what worked before" knowledge for one
// combination of goal type and strategy shape.
type Procedure struct {
	ID      uuid.UUID `json:"id"`
	AgentID uuid.UUID `json:"agent_id"`

	GoalType GoalType `json:"goal_type"`
	Shape    string   `json:"shape"`

	// Trigger pattern (goal descriptions this procedure served)
	TriggerPattern   string    `json:"trigger_pattern"`
	TriggerEmbedding []float32 `json:"-"`

	// Effectiveness tracking
	UseCount     int        `json:"use_count"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	SuccessRate  float64    `json:"success_rate"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record adds one outcome and recomputes the success rate.
func (p *Procedure) Record(success bool, at time.Time) {
	p.UseCount++
	if success {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	p.SuccessRate = float64(p.SuccessCount) / float64(p.UseCount)
	p.LastUsedAt = &at
	p.UpdatedAt = at
}

// ProcedureWithScore is a procedure with its similarity to a query.
type ProcedureWithScore struct {
	Procedure
	Score float64 `json:"score"`
}

// ProceduralUpdate summarises how one procedure changed during reflection.
type ProceduralUpdate struct {
	GoalType    GoalType `json:"goal_type"`
	Shape       string   `json:"shape"`
	Successes   int      `json:"successes"`
	Failures    int      `json:"failures"`
	SuccessRate float64  `json:"success_rate"`
}
