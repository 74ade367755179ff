package store

import "github.com/Harshitk-cp/agentd/internal/domain"

// Postgres errors are mapped onto the repository-wide sentinels.
var (
	ErrNotFound = domain.ErrNotFound
	ErrConflict = domain.ErrConflict
)
