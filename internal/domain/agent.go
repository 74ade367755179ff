package domain

import (
	"time"

	"github.com/google/uuid"
)

// Agent identifies the single agent a process runs for.
type Agent struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	StartedAt time.Time `json:"started_at"`
}
