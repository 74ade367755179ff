package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinPriority = 1
	MaxPriority = 10
)

// ClampPriority forces a priority into the 1..10 range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// Observation is a single perceived fact produced by a capability.
// It is immutable once created and consumed once by belief revision.
type Observation struct {
	ID         uuid.UUID      `json:"id"`
	AgentID    uuid.UUID      `json:"agent_id"`
	Source     string         `json:"source"`
	Kind       string         `json:"kind"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Priority   int            `json:"priority"`
	ArchivedAt *time.Time     `json:"archived_at,omitempty"`
}
