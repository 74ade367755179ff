package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultObservationPriority = 5

var ErrDuplicateCapability = errors.New("capability already registered")

// PerceiveWarning records a capability that contributed nothing this cycle.
type PerceiveWarning struct {
	Capability string
	Err        error
}

type Perception struct {
	Observations []domain.Observation
	Warnings     []PerceiveWarning
}

type entry struct {
	cap     domain.Capability
	enabled bool
}

// Registry tracks the capabilities enabled for one agent.
type Registry struct {
	agentID  uuid.UUID
	executor *Executor
	logger   *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	timeout time.Duration

	now func() time.Time
}

func NewRegistry(agentID uuid.UUID, executor *Executor, logger *zap.Logger) *Registry {
	return &Registry{
		agentID:  agentID,
		executor: executor,
		logger:   logger.Named("registry"),
		entries:  make(map[string]*entry),
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
}

// SetPerceiveTimeout bounds each capability's Perceive call.
func (r *Registry) SetPerceiveTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

func (r *Registry) Executor() *Executor {
	return r.executor
}

// Register adds c in the enabled state.
func (r *Registry) Register(c domain.Capability) error {
	name := c.Name()
	if name == "" {
		return errors.New("capability name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, name)
	}
	r.entries[name] = &entry{cap: c, enabled: true}
	r.order = append(r.order, name)

	r.logger.Info("capability registered", zap.String("capability", name))
	return nil
}

func (r *Registry) Enable(name string) error  { return r.setEnabled(name, true) }
func (r *Registry) Disable(name string) error { return r.setEnabled(name, false) }

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCapabilityNotFound, name)
	}
	e.enabled = enabled
	return nil
}

func (r *Registry) Get(name string) (domain.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.cap, true
}

// Enabled returns enabled capabilities in registration order.
func (r *Registry) Enabled() []domain.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Capability, 0, len(r.order))
	for _, name := range r.order {
		if e := r.entries[name]; e.enabled {
			out = append(out, e.cap)
		}
	}
	return out
}

// PerceiveAll polls every enabled capability concurrently. A capability
// that fails or exceeds the timeout contributes no observations and a
// warning; it never holds up the others.
func (r *Registry) PerceiveAll(ctx context.Context) Perception {
	caps := r.Enabled()
	r.mu.RLock()
	timeout := r.timeout
	r.mu.RUnlock()

	obs := make([][]domain.Observation, len(caps))
	errs := make([]error, len(caps))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range caps {
		g.Go(func() error {
			obs[i], errs[i] = r.perceiveOne(gctx, timeout, c)
			return nil
		})
	}
	_ = g.Wait()

	var p Perception
	for i, c := range caps {
		if errs[i] != nil {
			r.logger.Warn("perception failed",
				zap.String("capability", c.Name()),
				zap.Error(errs[i]))
			p.Warnings = append(p.Warnings, PerceiveWarning{Capability: c.Name(), Err: errs[i]})
			continue
		}
		p.Observations = append(p.Observations, obs[i]...)
	}
	return p
}

func (r *Registry) perceiveOne(ctx context.Context, timeout time.Duration, c domain.Capability) ([]domain.Observation, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type reply struct {
		obs []domain.Observation
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- reply{err: fmt.Errorf("%w: %v", errCapabilityPanic, rec)}
			}
		}()
		o, err := c.Perceive(ctx)
		ch <- reply{obs: o, err: err}
	}()

	select {
	case rep := <-ch:
		if rep.err != nil {
			return nil, rep.err
		}
		return r.stamp(c.Name(), rep.obs), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("perceive abandoned: %w", ctx.Err())
	}
}

func (r *Registry) stamp(source string, obs []domain.Observation) []domain.Observation {
	now := r.now()
	out := make([]domain.Observation, 0, len(obs))
	for _, o := range obs {
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		if o.Source == "" {
			o.Source = source
		}
		if o.Timestamp.IsZero() {
			o.Timestamp = now
		}
		if o.Priority == 0 {
			o.Priority = defaultObservationPriority
		}
		o.Priority = domain.ClampPriority(o.Priority)
		o.AgentID = r.agentID
		out = append(out, o)
	}
	return out
}

// Execute runs action on the named capability through the executor.
func (r *Registry) Execute(ctx context.Context, name string, action domain.Action) domain.ActionResult {
	r.mu.RLock()
	e, ok := r.entries[name]
	enabled := ok && e.enabled
	r.mu.RUnlock()

	switch {
	case !ok:
		return domain.ActionResult{
			Error:      fmt.Sprintf("%v: %s", domain.ErrCapabilityNotFound, name),
			ErrorClass: domain.ErrorClassPermanent,
		}
	case !enabled:
		return domain.ActionResult{
			Error:      fmt.Sprintf("%v: %s", domain.ErrCapabilityDisabled, name),
			ErrorClass: domain.ErrorClassPermanent,
		}
	}
	return r.executor.Execute(ctx, e.cap, action)
}

// HealthCheckAll probes every registered capability concurrently.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]bool {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	caps := make([]domain.Capability, len(names))
	for i, n := range names {
		caps[i] = r.entries[n].cap
	}
	timeout := r.timeout
	r.mu.RUnlock()

	healthy := make([]bool, len(caps))
	var g errgroup.Group
	for i, c := range caps {
		g.Go(func() error {
			hctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			healthy[i] = r.healthOne(hctx, c)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]bool, len(names))
	for i, n := range names {
		out[n] = healthy[i]
	}
	return out
}

func (r *Registry) healthOne(ctx context.Context, c domain.Capability) (ok bool) {
	ch := make(chan bool, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- false
			}
		}()
		ch <- c.HealthCheck(ctx)
	}()
	select {
	case ok = <-ch:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Describe lists every registered capability for planning and status.
func (r *Registry) Describe() []domain.CapabilityInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.CapabilityInfo, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		info := domain.CapabilityInfo{Name: name}
		if d, ok := e.cap.(domain.Describer); ok {
			info = d.Describe()
			info.Name = name
		}
		info.Enabled = e.enabled
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Enabled && !out[j].Enabled })
	return out
}
