// Package capability runs capability calls with retries and fans perception
// out across every enabled capability.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Harshitk-cp/agentd/internal/backoff"
	"github.com/Harshitk-cp/agentd/internal/domain"
	cbackoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryBase  = 500 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Minute
	DefaultTimeout    = 30 * time.Second
)

var errCapabilityPanic = errors.New("capability panicked")

type ExecutorConfig struct {
	MaxRetries   int
	Backoff      backoff.Policy
	Timeout      time.Duration
	RetryUnknown bool
	// RatePerSec limits calls per capability. Zero means unlimited.
	RatePerSec float64
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries: DefaultMaxRetries,
		Backoff: backoff.Policy{
			Base:       DefaultRetryBase,
			Multiplier: 2,
			Max:        DefaultMaxDelay,
			Jitter:     true,
		},
		Timeout: DefaultTimeout,
	}
}

// Executor wraps Capability.Execute with classification, retries and
// timing. It never panics and never returns an error: every call yields
// an ActionResult.
type Executor struct {
	logger *zap.Logger

	mu       sync.RWMutex
	cfg      ExecutorConfig
	limiters map[string]*rate.Limiter

	// newTimer supplies the timer for retry waits. Nil selects the
	// library's real timer.
	newTimer func() cbackoff.Timer
	now      func() time.Time
}

func NewExecutor(cfg ExecutorConfig, logger *zap.Logger) *Executor {
	return &Executor{
		logger:   logger.Named("executor"),
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		newTimer: func() cbackoff.Timer { return nil },
		now:      time.Now,
	}
}

// Budget is the longest one Execute call can take: every attempt timing
// out plus the worst-case waits between them. Zero means unbounded.
func (c ExecutorConfig) Budget() time.Duration {
	if c.Timeout <= 0 {
		return 0
	}
	retries := max(c.MaxRetries, 0)
	return time.Duration(retries+1)*c.Timeout + c.Backoff.Ceiling(retries)
}

// SetConfig replaces the retry configuration for subsequent calls.
func (e *Executor) SetConfig(cfg ExecutorConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.RatePerSec != e.cfg.RatePerSec {
		e.limiters = make(map[string]*rate.Limiter)
	}
	e.cfg = cfg
}

func (e *Executor) Config() ExecutorConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Executor) limiter(name string) *rate.Limiter {
	e.mu.RLock()
	rps := e.cfg.RatePerSec
	l, ok := e.limiters[name]
	e.mu.RUnlock()
	if rps <= 0 {
		return nil
	}
	if ok {
		return l
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok = e.limiters[name]; ok {
		return l
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	l = rate.NewLimiter(rate.Limit(rps), burst)
	e.limiters[name] = l
	return l
}

func (e *Executor) Execute(ctx context.Context, c domain.Capability, action domain.Action) domain.ActionResult {
	cfg := e.Config()
	start := e.now()
	name := c.Name()

	fields := append([]zap.Field{
		zap.String("capability", name),
		zap.String("action", action.Name),
		zap.String("intention_id", action.IntentionID.String()),
	}, paramFields(action.Parameters)...)

	var (
		out      map[string]any
		lastErr  error
		class    domain.ErrorClass
		attempts int
	)
	operation := func() error {
		if l := e.limiter(name); l != nil {
			if werr := l.Wait(ctx); werr != nil {
				lastErr = fmt.Errorf("rate limiter: %w", werr)
				class = Classify(lastErr)
				return cbackoff.Permanent(lastErr)
			}
		}

		attempts++
		out, lastErr = e.attempt(ctx, cfg.Timeout, c, action)
		if lastErr == nil {
			class = domain.ErrorClassNone
			return nil
		}
		class = Classify(lastErr)
		if !shouldRetry(class, cfg.RetryUnknown) {
			return cbackoff.Permanent(lastErr)
		}
		return lastErr
	}
	notify := func(err error, delay time.Duration) {
		e.logger.Warn("capability call failed, retrying", append(fields,
			zap.Int("attempt", attempts),
			zap.String("error_class", string(class)),
			zap.Duration("delay", delay),
			zap.Error(err))...)
	}

	b := cbackoff.WithContext(cbackoff.WithMaxRetries(cfg.Backoff.New(), uint64(max(cfg.MaxRetries, 0))), ctx)
	err := cbackoff.RetryNotifyWithTimer(operation, b, notify, e.newTimer())
	if err != nil && lastErr != nil && !errors.Is(err, lastErr) {
		// The context ended while waiting for the next attempt.
		err = fmt.Errorf("%w (retry aborted: %v)", lastErr, err)
	}

	retries := max(attempts-1, 0)
	result := domain.ActionResult{
		Success:  err == nil,
		Output:   out,
		Duration: e.now().Sub(start),
		Retries:  retries,
		Attempts: attempts,
	}
	if err != nil {
		if lastErr == nil {
			class = Classify(err)
		}
		result.Error = err.Error()
		result.ErrorClass = class
		result.Output = nil
		e.logger.Error("capability call failed", append(fields,
			zap.Int("retries", result.Retries),
			zap.String("error_class", string(class)),
			zap.Duration("duration", result.Duration),
			zap.Error(err))...)
		return result
	}

	e.logger.Info("capability call succeeded", append(fields,
		zap.Int("retries", result.Retries),
		zap.Duration("duration", result.Duration))...)
	return result
}

// attempt runs one call bounded by timeout. A capability that ignores its
// context is abandoned when the deadline passes.
func (e *Executor) attempt(ctx context.Context, timeout time.Duration, c domain.Capability, action domain.Action) (map[string]any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type reply struct {
		out map[string]any
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: domain.PermanentCapabilityError(fmt.Errorf("%w: %v", errCapabilityPanic, r))}
			}
		}()
		out, err := c.Execute(ctx, action)
		ch <- reply{out: out, err: err}
	}()

	select {
	case r := <-ch:
		return r.out, r.err
	case <-ctx.Done():
		select {
		case r := <-ch:
			return r.out, r.err
		default:
		}
		return nil, ctx.Err()
	}
}

func shouldRetry(class domain.ErrorClass, retryUnknown bool) bool {
	switch class {
	case domain.ErrorClassTransient:
		return true
	case domain.ErrorClassUnknown:
		return retryUnknown
	default:
		return false
	}
}
