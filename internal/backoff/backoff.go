// Package backoff builds the capped exponential schedules shared by the
// capability executor and the loop's error backoff.
package backoff

import (
	"math"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// JitterFactor is the fraction by which a jittered delay may deviate from
// the nominal one.
const JitterFactor = 0.25

// Policy describes delay = Base * Multiplier^attempt, capped at Max, with
// ±JitterFactor jitter when Jitter is set.
type Policy struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     bool
}

// New returns a fresh schedule positioned at attempt 0. The schedule never
// stops on its own; callers bound it with WithMaxRetries or a context.
func (p Policy) New() cbackoff.BackOff {
	if p.Base <= 0 {
		return &cbackoff.ZeroBackOff{}
	}

	eb := cbackoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.Multiplier = p.multiplier()
	eb.MaxInterval = time.Duration(math.MaxInt64)
	if p.Max > 0 {
		eb.MaxInterval = p.Max
	}
	eb.RandomizationFactor = 0
	if p.Jitter {
		eb.RandomizationFactor = JitterFactor
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	return &capped{BackOff: eb, max: p.Max}
}

// Ceiling is the longest total wait the first retries delays can add up
// to, jitter included.
func (p Policy) Ceiling(retries int) time.Duration {
	if p.Base <= 0 || retries <= 0 {
		return 0
	}
	var total float64
	d := float64(p.Base)
	for i := 0; i < retries; i++ {
		worst := d
		if p.Jitter {
			worst *= 1 + JitterFactor
		}
		if p.Max > 0 && worst > float64(p.Max) {
			worst = float64(p.Max)
		}
		total += worst
		if total >= float64(math.MaxInt64) {
			return time.Duration(math.MaxInt64)
		}
		d *= p.multiplier()
	}
	return time.Duration(total)
}

func (p Policy) multiplier() float64 {
	if p.Multiplier < 1 {
		return 1
	}
	return p.Multiplier
}

// capped keeps jittered delays at or below max. ExponentialBackOff caps
// only the nominal interval.
type capped struct {
	cbackoff.BackOff
	max time.Duration
}

func (c *capped) NextBackOff() time.Duration {
	d := c.BackOff.NextBackOff()
	if d != cbackoff.Stop && c.max > 0 && d > c.max {
		return c.max
	}
	return d
}
