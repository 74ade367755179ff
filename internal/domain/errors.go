package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound and ErrConflict are what every Repository returns for a
	// missing row and a violated uniqueness rule.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	ErrReasonerTimeout         = errors.New("reasoner timed out")
	ErrReasonerMalformedOutput = errors.New("reasoner returned malformed output")
	ErrCapabilityNotFound      = errors.New("capability not found")
	ErrCapabilityDisabled      = errors.New("capability disabled")
	ErrGoalNotFound            = errors.New("goal not found")
	ErrIntentionNotFound       = errors.New("intention not found")
	ErrInvalidTransition       = errors.New("invalid status transition")

	// ErrEmbeddingUnavailable is a failure worth trying again later, such as
	// a rate limit.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrEmbeddingRejected means the provider refused the request or its
	// configuration, so further calls will fail the same way.
	ErrEmbeddingRejected = errors.New("embedding request rejected")
)

// CapabilityError is a capability failure that already knows its retry class.
type CapabilityError struct {
	Class  ErrorClass
	Status int
	Err    error
}

func (e *CapabilityError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s capability error (status %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s capability error: %v", e.Class, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

func (e *CapabilityError) StatusCode() int { return e.Status }

// TransientCapabilityError marks err as retryable.
func TransientCapabilityError(err error) error {
	return &CapabilityError{Class: ErrorClassTransient, Err: err}
}

// PermanentCapabilityError marks err as not worth retrying.
func PermanentCapabilityError(err error) error {
	return &CapabilityError{Class: ErrorClassPermanent, Err: err}
}

// LoopPhaseError is any unexpected failure inside one loop phase,
// including recovered panics.
type LoopPhaseError struct {
	Phase Phase
	Err   error
	Panic bool
}

func (e *LoopPhaseError) Error() string {
	if e.Panic {
		return fmt.Sprintf("phase %s panicked: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("phase %s: %v", e.Phase, e.Err)
}

func (e *LoopPhaseError) Unwrap() error { return e.Err }

// RepositoryError wraps a persistence failure with the operation name.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

func NewRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{Op: op, Err: err}
}
