// Package heartbeat is a built-in capability that reports the agent's own
// liveness as an observation every cycle.
package heartbeat

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/agentd/internal/domain"
)

const Name = "heartbeat"

type Capability struct {
	started time.Time
	ticks   atomic.Int64
	now     func() time.Time
}

func New() *Capability {
	return &Capability{started: time.Now(), now: time.Now}
}

func (c *Capability) Name() string { return Name }

func (c *Capability) Perceive(ctx context.Context) ([]domain.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := c.ticks.Add(1)
	now := c.now()
	return []domain.Observation{{
		Kind:      "heartbeat",
		Timestamp: now,
		Priority:  1,
		Payload: map[string]any{
			"subject":   "agent",
			"predicate": "uptime_seconds",
			"value":     int64(now.Sub(c.started).Seconds()),
			"tick":      n,
		},
	}}, nil
}

func (c *Capability) Execute(ctx context.Context, action domain.Action) (map[string]any, error) {
	switch action.Name {
	case "noop":
		return map[string]any{"ok": true}, nil
	case "sleep":
		d, _ := action.Parameters["ms"].(float64)
		t := time.NewTimer(time.Duration(d) * time.Millisecond)
		defer t.Stop()
		select {
		case <-t.C:
			return map[string]any{"slept_ms": d}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	default:
		return nil, domain.PermanentCapabilityError(fmt.Errorf("unsupported action %q", action.Name))
	}
}

func (c *Capability) HealthCheck(ctx context.Context) bool {
	return ctx.Err() == nil
}

func (c *Capability) Describe() domain.CapabilityInfo {
	return domain.CapabilityInfo{
		Name:        Name,
		Description: "reports agent liveness; actions do nothing observable",
		Actions:     []string{"noop", "sleep"},
	}
}
