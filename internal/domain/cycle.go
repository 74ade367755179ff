package domain

import (
	"time"

	"github.com/google/uuid"
)

// Phase names a step of the proactive loop. They double as loop states.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhasePerceiving   Phase = "perceiving"
	PhaseBelieving    Phase = "believing"
	PhaseDeliberating Phase = "deliberating"
	PhasePlanning     Phase = "planning"
	PhaseExecuting    Phase = "executing"
	PhaseReflecting   Phase = "reflecting"
	PhaseSleeping     Phase = "sleeping"
	PhaseStopped      Phase = "stopped"
)

type PhaseError struct {
	Phase   Phase     `json:"phase"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type BackoffState struct {
	ConsecutiveErrors int           `json:"consecutive_errors"`
	NextDelay         time.Duration `json:"next_delay"`
}

// CycleRecord is operational data about one loop iteration. It is
// append-only while the cycle runs and persisted when it ends.
type CycleRecord struct {
	ID                 uuid.UUID    `json:"id"`
	AgentID            uuid.UUID    `json:"agent_id"`
	CycleNumber        int64        `json:"cycle_number"`
	StartedAt          time.Time    `json:"started_at"`
	FinishedAt         *time.Time   `json:"finished_at,omitempty"`
	PhasesRun          []Phase      `json:"phases_run"`
	Errors             []PhaseError `json:"errors,omitempty"`
	Warnings           []PhaseError `json:"warnings,omitempty"`
	Backoff            BackoffState `json:"backoff"`
	Observations       int          `json:"observations"`
	BeliefsChanged     int          `json:"beliefs_changed"`
	GoalsPlanned       int          `json:"goals_planned"`
	IntentionsExecuted int          `json:"intentions_executed"`
}

func (r *CycleRecord) Clean() bool {
	return len(r.Errors) == 0
}

func (r *CycleRecord) Clone() CycleRecord {
	c := *r
	c.PhasesRun = append([]Phase(nil), r.PhasesRun...)
	c.Errors = append([]PhaseError(nil), r.Errors...)
	c.Warnings = append([]PhaseError(nil), r.Warnings...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
