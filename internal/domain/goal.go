package domain

import (
	"time"

	"github.com/google/uuid"
)

type GoalType string

const (
	GoalAchieve  GoalType = "achieve"
	GoalMaintain GoalType = "maintain"
	GoalAvoid    GoalType = "avoid"
	GoalQuery    GoalType = "query"
)

func (t GoalType) IsValid() bool {
	switch t {
	case GoalAchieve, GoalMaintain, GoalAvoid, GoalQuery:
		return true
	}
	return false
}

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
	GoalAbandoned GoalStatus = "abandoned"
)

func (s GoalStatus) IsValid() bool {
	switch s {
	case GoalActive, GoalCompleted, GoalFailed, GoalAbandoned:
		return true
	}
	return false
}

// Comparators for maintain goals.
const (
	ComparatorGTE = "gte"
	ComparatorLTE = "lte"
)

// GoalTarget is the structured criterion a goal is evaluated against.
// Subject/Predicate name the monitored belief.
type GoalTarget struct {
	Subject       string   `json:"subject,omitempty" yaml:"subject"`
	Predicate     string   `json:"predicate,omitempty" yaml:"predicate"`
	Comparator    string   `json:"comparator,omitempty" yaml:"comparator"`
	Threshold     float64  `json:"threshold,omitempty" yaml:"threshold"`
	Value         string   `json:"value,omitempty" yaml:"value"`
	MinConfidence float64  `json:"min_confidence,omitempty" yaml:"min_confidence"`
	DependsOn     []string `json:"depends_on,omitempty" yaml:"depends_on"`
}

// Subjects returns every belief subject whose churn is relevant to the goal.
func (t GoalTarget) Subjects() []string {
	out := make([]string, 0, len(t.DependsOn)+1)
	seen := make(map[string]bool)
	if t.Subject != "" {
		out = append(out, t.Subject)
		seen[t.Subject] = true
	}
	for _, s := range t.DependsOn {
		if s != "" && !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return out
}

// Goal is a desired state with a type governing how "done" is determined.
type Goal struct {
	ID            uuid.UUID  `json:"id"`
	AgentID       uuid.UUID  `json:"agent_id"`
	Type          GoalType   `json:"type"`
	Description   string     `json:"description"`
	Priority      int        `json:"priority"`
	Target        GoalTarget `json:"target"`
	Status        GoalStatus `json:"status"`
	Progress      float64    `json:"progress"`
	LastPlannedAt *time.Time `json:"last_planned_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (g *Goal) Clone() Goal {
	c := *g
	if g.Target.DependsOn != nil {
		c.Target.DependsOn = append([]string(nil), g.Target.DependsOn...)
	}
	if g.LastPlannedAt != nil {
		t := *g.LastPlannedAt
		c.LastPlannedAt = &t
	}
	return c
}
