package domain

import (
	"time"

	"github.com/google/uuid"
)

type IntentionType string

const (
	IntentionAction   IntentionType = "action"
	IntentionTactic   IntentionType = "tactic"
	IntentionStrategy IntentionType = "strategy"
)

func (t IntentionType) IsValid() bool {
	switch t {
	case IntentionAction, IntentionTactic, IntentionStrategy:
		return true
	}
	return false
}

type IntentionStatus string

const (
	IntentionPending   IntentionStatus = "pending"
	IntentionReady     IntentionStatus = "ready"
	IntentionRunning   IntentionStatus = "running"
	IntentionSucceeded IntentionStatus = "succeeded"
	IntentionFailed    IntentionStatus = "failed"
	IntentionSkipped   IntentionStatus = "skipped"
)

// IsTerminal reports whether no further transition is possible.
func (s IntentionStatus) IsTerminal() bool {
	return s == IntentionSucceeded || s == IntentionFailed || s == IntentionSkipped
}

// IsOpen reports whether the intention still waits for or is doing work.
func (s IntentionStatus) IsOpen() bool {
	return s == IntentionPending || s == IntentionReady || s == IntentionRunning
}

// Intention is a committed, schedulable step toward a goal.
type Intention struct {
	ID           uuid.UUID       `json:"id"`
	AgentID      uuid.UUID       `json:"agent_id"`
	GoalID       uuid.UUID       `json:"goal_id"`
	PlanID       uuid.UUID       `json:"plan_id"`
	Type         IntentionType   `json:"type"`
	Description  string          `json:"description"`
	Capability   string          `json:"capability"`
	Action       string          `json:"action"`
	Parameters   map[string]any  `json:"parameters,omitempty"`
	Priority     int             `json:"priority"`
	Dependencies []uuid.UUID     `json:"dependencies,omitempty"`
	Status       IntentionStatus `json:"status"`
	Result       *ActionResult   `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Shape is the coarse strategy signature used by procedural learning.
func (i *Intention) Shape() string {
	return string(i.Type) + ":" + i.Capability + "." + i.Action
}

func (i *Intention) Clone() Intention {
	c := *i
	if i.Dependencies != nil {
		c.Dependencies = append([]uuid.UUID(nil), i.Dependencies...)
	}
	if i.Parameters != nil {
		c.Parameters = make(map[string]any, len(i.Parameters))
		for k, v := range i.Parameters {
			c.Parameters[k] = v
		}
	}
	if i.Result != nil {
		r := *i.Result
		c.Result = &r
	}
	return c
}

// Action is the concrete request handed to a capability.
type Action struct {
	IntentionID uuid.UUID      `json:"intention_id"`
	Name        string         `json:"name"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}
