package loop

import (
	"time"

	"github.com/Harshitk-cp/agentd/internal/backoff"
)

const (
	DefaultCycleInterval           = 300 * time.Second
	DefaultMaxIntentionsPerCycle   = 5
	DefaultExecutionConcurrency    = 1
	DefaultExecuteTimeout          = 2 * time.Minute
	DefaultReflectInterval         = time.Hour
	DefaultReflectOutcomeThreshold = 5
	DefaultCycleHistory            = 100
	DefaultBackoffBase             = time.Second
	DefaultBackoffMultiplier       = 2.0
	DefaultMaxBackoff              = 5 * time.Minute
)

// Config is the loop's tunable behaviour. It is swapped whole by Reload.
type Config struct {
	CycleInterval         time.Duration
	MaxIntentionsPerCycle int
	ExecutionConcurrency  int
	// ExecuteTimeout bounds one intention's capability call, retries
	// included, and still applies after the loop is cancelled. It is
	// raised to the executor's retry budget when that is longer.
	ExecuteTimeout time.Duration

	ReflectInterval         time.Duration
	ReflectOutcomeThreshold int

	// CycleHistory is how many cycle records are kept in memory and in
	// the repository.
	CycleHistory int

	// Backoff applies after a cycle with errors. The first errored cycle
	// waits about Base; a clean cycle starts the schedule over.
	Backoff backoff.Policy
}

func DefaultConfig() Config {
	return Config{
		CycleInterval:           DefaultCycleInterval,
		MaxIntentionsPerCycle:   DefaultMaxIntentionsPerCycle,
		ExecutionConcurrency:    DefaultExecutionConcurrency,
		ExecuteTimeout:          DefaultExecuteTimeout,
		ReflectInterval:         DefaultReflectInterval,
		ReflectOutcomeThreshold: DefaultReflectOutcomeThreshold,
		CycleHistory:            DefaultCycleHistory,
		Backoff: backoff.Policy{
			Base:       DefaultBackoffBase,
			Multiplier: DefaultBackoffMultiplier,
			Max:        DefaultMaxBackoff,
			Jitter:     true,
		},
	}
}

func (c Config) normalized() Config {
	if c.MaxIntentionsPerCycle <= 0 {
		c.MaxIntentionsPerCycle = DefaultMaxIntentionsPerCycle
	}
	if c.ExecutionConcurrency <= 0 {
		c.ExecutionConcurrency = 1
	}
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = DefaultExecuteTimeout
	}
	if c.CycleHistory <= 0 {
		c.CycleHistory = DefaultCycleHistory
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = DefaultBackoffBase
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = DefaultMaxBackoff
	}
	return c
}
