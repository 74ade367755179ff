package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	for _, k := range []string{"CYCLE_INTERVAL_SECONDS", "MAX_RETRIES", "BACKOFF_MULTIPLIER", "MAX_BACKOFF_MS",
		"PER_CAPABILITY_TIMEOUT_MS", "PER_REASONER_TIMEOUT_MS", "LOOP_BACKOFF_BASE_MS", "EXECUTION_CONCURRENCY",
		"STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH", "AGENT_MANIFEST", "AGENT_ID", "AGENT_ROLE"} {
		t.Setenv(k, "")
	}

	cfg, err := Agent()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, cfg.CycleInterval)
	assert.Equal(t, 24*time.Hour, cfg.ReplanInterval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, 300*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 30*time.Second, cfg.CapabilityTimeout)
	assert.Equal(t, 60*time.Second, cfg.ReasonerTimeout)
	assert.Equal(t, time.Second, cfg.LoopBackoffBase)
	assert.Equal(t, 1, cfg.ExecutionConcurrency)
	assert.False(t, cfg.RetryUnknown)
	assert.Equal(t, StoreMemory, StoreDriver())
	assert.NotEqual(t, uuid.Nil, cfg.AgentID)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_RETRIES", "lots")
	t.Setenv("BACKOFF_MULTIPLIER", "0.5")
	t.Setenv("EXECUTION_CONCURRENCY", "0")
	t.Setenv("RETRY_UNKNOWN_ERRORS", "true")

	assert.Equal(t, 3, MaxRetries())
	assert.Equal(t, 2.0, BackoffMultiplier())
	assert.Equal(t, 1, ExecutionConcurrency())
	assert.True(t, RetryUnknownErrors())
}

func TestStoreDriverInference(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", "/tmp/agent.db")
	assert.Equal(t, StoreSQLite, StoreDriver())

	t.Setenv("DATABASE_URL", "postgres://localhost/agentd")
	assert.Equal(t, StorePostgres, StoreDriver())

	t.Setenv("STORE_DRIVER", StoreMemory)
	assert.Equal(t, StoreMemory, StoreDriver())
}

func TestAgentIDIsStablePerRole(t *testing.T) {
	a, err := resolveAgentID("", "sales")
	require.NoError(t, err)
	b, err := resolveAgentID("", "sales")
	require.NoError(t, err)
	c, err := resolveAgentID("", "support")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = resolveAgentID("not-a-uuid", "")
	assert.Error(t, err)
}

const manifestYAML = `
agent:
  id: 6f1c2b9e-3a4d-4e5f-8a7b-9c0d1e2f3a4b
  role: sales
roles:
  sales:
    description: keeps the pipeline healthy
    cycle_interval_seconds: 120
    replan_interval_hours: 6
seed_goals:
  - type: maintain
    description: keep pipeline coverage at 3x quota
    priority: 8
    target:
      subject: pipeline
      predicate: coverage
      comparator: gte
      threshold: 3
capabilities:
  heartbeat: false
  http:
    - name: crm
      base_url: http://crm.internal
      feed_path: /events
      actions: [search, update]
      timeout: 5s
`

func TestAgentWithManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o600))
	t.Setenv("AGENT_MANIFEST", path)
	t.Setenv("AGENT_ID", "")
	t.Setenv("AGENT_ROLE", "")
	t.Setenv("CYCLE_INTERVAL_SECONDS", "")

	cfg, err := Agent()
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("6f1c2b9e-3a4d-4e5f-8a7b-9c0d1e2f3a4b"), cfg.AgentID)
	assert.Equal(t, "sales", cfg.AgentRole)
	assert.Equal(t, 120*time.Second, cfg.CycleInterval)
	assert.Equal(t, 6*time.Hour, cfg.ReplanInterval)

	m := cfg.Manifest
	require.NotNil(t, m)
	assert.False(t, m.HeartbeatEnabled())
	require.Len(t, m.SeedGoals, 1)
	assert.Equal(t, domain.GoalMaintain, m.SeedGoals[0].Type)
	assert.Equal(t, 3.0, m.SeedGoals[0].Target.Threshold)
	require.Len(t, m.Capabilities.HTTP, 1)
	assert.Equal(t, 5*time.Second, m.Capabilities.HTTP[0].Timeout)
	assert.Equal(t, []string{"search", "update"}, m.Capabilities.HTTP[0].Actions)
}

func TestParseManifestRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"bad goal type":  "seed_goals:\n  - type: wish\n    description: x\n",
		"no description": "seed_goals:\n  - type: achieve\n",
		"duplicate cap":  "capabilities:\n  http:\n    - name: a\n    - name: a\n",
		"not yaml":       "roles: [",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestReloadOverridesSetVariables(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "agent.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CYCLE_INTERVAL_SECONDS=30\n"), 0o600))
	t.Setenv("AGENTD_ENV", envFile)
	t.Setenv("CYCLE_INTERVAL_SECONDS", "120")

	require.NoError(t, Load())
	assert.Equal(t, 120*time.Second, CycleInterval(), "Load keeps variables that are already set")

	require.NoError(t, Reload())
	assert.Equal(t, 30*time.Second, CycleInterval())
}

func TestReloadMissingFileIsFine(t *testing.T) {
	t.Setenv("AGENTD_ENV", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, Reload())
}

func TestEmbeddingSettings(t *testing.T) {
	for _, k := range []string{"EMBEDDING_MODEL", "EMBEDDING_BASE_URL", "EMBEDDING_TIMEOUT_MS", "EMBEDDING_DIMENSIONS"} {
		t.Setenv(k, "")
	}
	assert.Equal(t, "text-embedding-3-small", EmbeddingModel())
	assert.Equal(t, "https://api.openai.com/v1", EmbeddingBaseURL())
	assert.Equal(t, 10*time.Second, EmbeddingTimeout())
	assert.Zero(t, EmbeddingDimensions())

	t.Setenv("EMBEDDING_MODEL", "nomic-embed-text")
	t.Setenv("EMBEDDING_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("EMBEDDING_TIMEOUT_MS", "2500")
	t.Setenv("EMBEDDING_DIMENSIONS", "256")
	assert.Equal(t, "nomic-embed-text", EmbeddingModel())
	assert.Equal(t, "http://localhost:11434/v1", EmbeddingBaseURL())
	assert.Equal(t, 2500*time.Millisecond, EmbeddingTimeout())
	assert.Equal(t, 256, EmbeddingDimensions())

	t.Setenv("EMBEDDING_TIMEOUT_MS", "-1")
	t.Setenv("EMBEDDING_DIMENSIONS", "wide")
	assert.Equal(t, 10*time.Second, EmbeddingTimeout())
	assert.Zero(t, EmbeddingDimensions())
}
