package domain

import "context"

// Capability is a pluggable integration point. Implementations are
// registered explicitly at startup.
type Capability interface {
	Name() string
	Perceive(ctx context.Context) ([]Observation, error)
	Execute(ctx context.Context, action Action) (map[string]any, error)
	HealthCheck(ctx context.Context) bool
}

// Describer is implemented by capabilities that advertise their actions
// to the planner.
type Describer interface {
	Describe() CapabilityInfo
}

type CapabilityInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"actions,omitempty"`
	Enabled     bool     `json:"enabled"`
	Healthy     *bool    `json:"healthy,omitempty"`
}

// StatusCoder is implemented by errors that carry a transport status code.
type StatusCoder interface {
	StatusCode() int
}
