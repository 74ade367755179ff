package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Harshitk-cp/agentd/internal/capability"
	"github.com/Harshitk-cp/agentd/internal/capability/heartbeat"
	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/Harshitk-cp/agentd/internal/llm"
	"github.com/Harshitk-cp/agentd/internal/loop"
	"github.com/Harshitk-cp/agentd/internal/reasoner"
	"github.com/Harshitk-cp/agentd/internal/service"
	"github.com/Harshitk-cp/agentd/internal/store/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type downStore struct{}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type testAgent struct {
	app   *App
	deps  Deps
	store *memstore.Store
}

func newTestAgent(t *testing.T) *testAgent {
	t.Helper()
	logger := zap.NewNop()
	agentID := uuid.New()
	repo := memstore.New()
	r := reasoner.New(llm.NewMockClient(), reasoner.Config{}, logger)

	execCfg := capability.DefaultExecutorConfig()
	execCfg.MaxRetries = 0
	execCfg.Timeout = time.Second
	registry := capability.NewRegistry(agentID, capability.NewExecutor(execCfg, logger), logger)
	require.NoError(t, registry.Register(heartbeat.New()))

	beliefs := service.NewBeliefService(agentID, repo, r, service.DefaultBeliefConfig(), logger)
	goals := service.NewGoalService(agentID, repo, service.DefaultGoalConfig(), logger)
	stack := service.NewIntentionStack(agentID, repo, r, nil, service.DefaultPlanConfig(), logger)
	reflection := service.NewReflectionService(agentID, repo, goals, beliefs, stack, nil, logger)
	stack.SetHintSource(reflection)

	cfg := loop.DefaultConfig()
	cfg.CycleInterval = time.Minute
	l := loop.New(loop.Deps{
		AgentID:      agentID,
		Registry:     registry,
		Beliefs:      beliefs,
		Goals:        goals,
		Intentions:   stack,
		Reflection:   reflection,
		Observations: repo,
		Cycles:       repo,
	}, cfg, logger)

	deps := Deps{
		Agent:      domain.Agent{ID: agentID, Name: "test", Role: "account manager", StartedAt: time.Now().UTC()},
		Loop:       l,
		Beliefs:    beliefs,
		Goals:      goals,
		Intentions: stack,
		Registry:   registry,
		Procedures: repo,
		Store:      repo,
	}
	return &testAgent{app: NewApp(deps, logger), deps: deps, store: repo}
}

func (a *testAgent) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.app.Router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	a := newTestAgent(t)

	rec := a.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, string(domain.PhaseIdle), body["state"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	a.deps.Store = downStore{}
	down := NewApp(a.deps, zap.NewNop())
	rec = httptest.NewRecorder()
	down.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestAgentIdentity(t *testing.T) {
	a := newTestAgent(t)
	rec := a.do(t, http.MethodGet, "/v1/agent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, a.deps.Agent.ID.String(), body["id"])
	assert.Equal(t, "account manager", body["role"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	a := newTestAgent(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	a.app.Router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestTellAndListBeliefs(t *testing.T) {
	a := newTestAgent(t)

	rec := a.do(t, http.MethodPost, "/v1/beliefs", `{"subject":"acme","predicate":"owner","object":"dana"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	told := decode(t, rec)
	assert.Equal(t, string(domain.SourceToldByHuman), told["source"])
	assert.Equal(t, 1.0, told["confidence"])

	rec = a.do(t, http.MethodPost, "/v1/beliefs", `{"subject":"acme","predicate":"tier","object":"gold","confidence":0.4}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/beliefs?min_confidence=0.5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["count"])

	rec = a.do(t, http.MethodGet, "/v1/beliefs?subject=acme&predicate=tier", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gold", decode(t, rec)["object"])

	rec = a.do(t, http.MethodGet, "/v1/beliefs?subject=acme&predicate=region", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	persisted, err := a.store.ListBeliefs(context.Background(), a.deps.Agent.ID)
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestTellValidation(t *testing.T) {
	a := newTestAgent(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"subject":`},
		{"missing predicate", `{"subject":"acme","object":"x"}`},
		{"confidence above one", `{"subject":"acme","predicate":"owner","object":"x","confidence":1.5}`},
		{"zero confidence", `{"subject":"acme","predicate":"owner","object":"x","confidence":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/v1/beliefs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := a.do(t, http.MethodGet, "/v1/beliefs?min_confidence=2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGoalLifecycle(t *testing.T) {
	a := newTestAgent(t)

	rec := a.do(t, http.MethodPost, "/v1/goals", `{
		"type": "maintain",
		"description": "keep pipeline coverage at 3x",
		"priority": 8,
		"target": {"subject": "pipeline", "predicate": "coverage", "comparator": "gte", "threshold": 3}
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)
	id := created["id"].(string)
	assert.Equal(t, string(domain.GoalActive), created["status"])

	rec = a.do(t, http.MethodGet, "/v1/goals/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 8.0, decode(t, rec)["priority"])

	rec = a.do(t, http.MethodDelete, "/v1/goals/"+id, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "removal_scheduled", decode(t, rec)["status"])

	// Removal lands at the end of the next cycle; until then the goal is
	// still listed and flagged.
	rec = a.do(t, http.MethodGet, "/v1/goals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, true, items[0].(map[string]any)["removal_pending"])

	a.deps.Loop.RunCycle(context.Background())

	rec = a.do(t, http.MethodGet, "/v1/goals", "")
	assert.Equal(t, 0.0, decode(t, rec)["count"])
	rec = a.do(t, http.MethodGet, "/v1/goals/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGoalErrors(t *testing.T) {
	a := newTestAgent(t)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/goals", `{"type":"wish","description":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/goals", `{"type":"achieve"}`).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/goals", `{"type":"maintain","description":"no target"}`).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodDelete, "/v1/goals/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodDelete, "/v1/goals/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/goals?status=bogus", "").Code)
}

func TestIntentions(t *testing.T) {
	a := newTestAgent(t)

	rec := a.do(t, http.MethodGet, "/v1/intentions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 0.0, body["count"])
	assert.Empty(t, body["items"])

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/intentions?status=bogus", "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/intentions?goal_id=nope", "").Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/intentions?status=failed&goal_id="+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/intentions/"+uuid.NewString(), "").Code)
}

func TestCapabilities(t *testing.T) {
	a := newTestAgent(t)

	rec := a.do(t, http.MethodGet, "/v1/capabilities?health=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode(t, rec)["items"].([]any)
	require.Len(t, items, 1)
	hb := items[0].(map[string]any)
	assert.Equal(t, heartbeat.Name, hb["name"])
	assert.Equal(t, true, hb["enabled"])
	assert.Equal(t, true, hb["healthy"])

	rec = a.do(t, http.MethodPost, "/v1/capabilities/heartbeat/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["enabled"])
	assert.Empty(t, a.deps.Registry.Enabled())

	rec = a.do(t, http.MethodPost, "/v1/capabilities/heartbeat/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, a.deps.Registry.Enabled(), 1)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/v1/capabilities/crm/enable", "").Code)
}

func TestProcedures(t *testing.T) {
	a := newTestAgent(t)
	now := time.Now().UTC()
	p := &domain.Procedure{ID: uuid.New(), AgentID: a.deps.Agent.ID, GoalType: domain.GoalAchieve,
		Shape: "action:crm.update", CreatedAt: now, UpdatedAt: now}
	p.Record(true, now)
	require.NoError(t, a.store.SaveProcedure(context.Background(), p))

	rec := a.do(t, http.MethodGet, "/v1/procedures?goal_type=achieve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["count"])

	rec = a.do(t, http.MethodGet, "/v1/procedures?goal_type=maintain", "")
	assert.Equal(t, 0.0, decode(t, rec)["count"])

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/procedures?goal_type=nope", "").Code)
}

func TestStatusAndCycles(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	a.deps.Loop.RunCycle(ctx)
	a.deps.Loop.RunCycle(ctx)

	rec := a.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode(t, rec)
	assert.Equal(t, 2.0, st["cycles"])
	assert.Equal(t, a.deps.Agent.ID.String(), st["agent_id"])
	assert.NotNil(t, st["last_cycle"])

	rec = a.do(t, http.MethodGet, "/v1/cycles?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 1.0, body["count"])
	first := body["items"].([]any)[0].(map[string]any)
	assert.Equal(t, 2.0, first["cycle_number"])

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/cycles?limit=-1", "").Code)
	assert.Equal(t, http.StatusAccepted, a.do(t, http.MethodPost, "/v1/wake", "").Code)
}

func TestMetrics(t *testing.T) {
	a := newTestAgent(t)
	a.do(t, http.MethodGet, "/v1/status", "")
	a.do(t, http.MethodGet, "/v1/goals/"+uuid.NewString(), "")

	rec := a.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)

	httpStats := body["http"].(map[string]any)
	assert.Equal(t, 3.0, httpStats["request_count"])
	assert.Equal(t, 1.0, httpStats["error_count"])

	agent := body["agent"].(map[string]any)
	assert.Equal(t, string(domain.PhaseIdle), agent["state"])
	assert.Contains(t, body, "build")
}
