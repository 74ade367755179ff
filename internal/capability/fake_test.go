package capability

import (
	"context"
	"errors"
	"sync"

	"github.com/Harshitk-cp/agentd/internal/domain"
)

// fakeCapability replays a scripted sequence of Execute errors.
type fakeCapability struct {
	name     string
	mu       sync.Mutex
	errs     []error
	calls    int
	output   map[string]any
	obs      []domain.Observation
	perceive func(ctx context.Context) ([]domain.Observation, error)
	execute  func(ctx context.Context, a domain.Action) (map[string]any, error)
	healthy  bool
}

func (f *fakeCapability) Name() string { return f.name }

func (f *fakeCapability) Perceive(ctx context.Context) ([]domain.Observation, error) {
	if f.perceive != nil {
		return f.perceive(ctx)
	}
	return f.obs, nil
}

func (f *fakeCapability) Execute(ctx context.Context, a domain.Action) (map[string]any, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()

	if f.execute != nil {
		return f.execute(ctx, a)
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.output, nil
}

func (f *fakeCapability) HealthCheck(ctx context.Context) bool { return f.healthy }

func (f *fakeCapability) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type statusErr struct{ code int }

func (e statusErr) Error() string   { return "upstream rejected request" }
func (e statusErr) StatusCode() int { return e.code }

var errBoom = errors.New("something odd happened")
