package domain

import "time"

// ErrorClass is the retry category of a capability failure.
type ErrorClass string

const (
	ErrorClassNone      ErrorClass = ""
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassPermanent ErrorClass = "permanent"
	ErrorClassUnknown   ErrorClass = "unknown"
)

// ActionResult is produced for every execution attempt, including total failure.
type ActionResult struct {
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorClass ErrorClass     `json:"error_class,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Retries    int            `json:"retries"`
	Attempts   int            `json:"attempts"`
}
