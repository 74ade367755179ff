package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Harshitk-cp/agentd/internal/api"
	"github.com/Harshitk-cp/agentd/internal/backoff"
	"github.com/Harshitk-cp/agentd/internal/capability"
	"github.com/Harshitk-cp/agentd/internal/capability/heartbeat"
	"github.com/Harshitk-cp/agentd/internal/capability/httpcap"
	"github.com/Harshitk-cp/agentd/internal/config"
	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/Harshitk-cp/agentd/internal/embedding"
	"github.com/Harshitk-cp/agentd/internal/llm"
	"github.com/Harshitk-cp/agentd/internal/loop"
	"github.com/Harshitk-cp/agentd/internal/reasoner"
	"github.com/Harshitk-cp/agentd/internal/service"
	"github.com/Harshitk-cp/agentd/internal/store"
	"github.com/Harshitk-cp/agentd/internal/store/memstore"
	"github.com/Harshitk-cp/agentd/internal/store/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// agent is one fully wired reasoning loop and everything it owns.
type agent struct {
	identity   domain.Agent
	cfg        config.AgentConfig
	repo       domain.Repository
	registry   *capability.Registry
	beliefs    *service.BeliefService
	goals      *service.GoalService
	intentions *service.IntentionStack
	reflection *service.ReflectionService
	loop       *loop.Loop
	logger     *zap.Logger
}

// openRepository connects the configured backend. The returned func
// releases it.
func openRepository(ctx context.Context, driver string, logger *zap.Logger) (domain.Repository, func(), error) {
	switch driver {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, config.DatabaseURL())
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("connected to database", zap.String("driver", driver))
		return store.NewRepository(pool), pool.Close, nil

	case config.StoreSQLite:
		path := config.SQLitePath()
		s, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened sqlite store", zap.String("path", path))
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("close sqlite store", zap.Error(err))
			}
		}, nil

	case config.StoreMemory:
		logger.Warn("using in-memory store; state is lost on exit")
		return memstore.New(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// newReasoner builds the LLM-backed reasoner. A provider that cannot be
// initialised leaves the reasoner on structured observations only.
func newReasoner(logger *zap.Logger) *reasoner.Reasoner {
	provider := config.LLMProvider()
	client, err := llm.NewClient(provider, config.LLMAPIKey())
	if err != nil {
		logger.Warn("LLM client initialization failed", zap.String("provider", provider), zap.Error(err))
		return reasoner.New(nil, reasoner.Config{}, logger)
	}
	logger.Info("LLM client initialized", zap.String("provider", provider))
	return reasoner.New(client, reasoner.Config{}, logger)
}

func newEmbedder(logger *zap.Logger) domain.EmbeddingClient {
	provider := config.EmbeddingProvider()
	client, err := embedding.NewClient(provider, embedding.OpenAIConfig{
		APIKey:     config.EmbeddingAPIKey(),
		BaseURL:    config.EmbeddingBaseURL(),
		Model:      config.EmbeddingModel(),
		Timeout:    config.EmbeddingTimeout(),
		Dimensions: config.EmbeddingDimensions(),
	})
	if err != nil {
		logger.Warn("Embedding client initialization failed", zap.String("provider", provider), zap.Error(err))
		return nil
	}
	if client != nil {
		logger.Info("Embedding client initialized", zap.String("provider", provider))
	}
	return client
}

func newAgent(cfg config.AgentConfig, repo domain.Repository, r domain.Reasoner, embedder domain.EmbeddingClient, logger *zap.Logger) (*agent, error) {
	logger = logger.With(zap.String("agent_id", cfg.AgentID.String()))

	registry := capability.NewRegistry(cfg.AgentID, capability.NewExecutor(executorConfig(cfg), logger), logger)
	registry.SetPerceiveTimeout(cfg.CapabilityTimeout)
	if err := registerCapabilities(registry, cfg.Manifest); err != nil {
		return nil, err
	}

	a := &agent{cfg: cfg, repo: repo, registry: registry, logger: logger}
	a.identity = domain.Agent{ID: cfg.AgentID, Name: agentName(cfg), Role: cfg.AgentRole, StartedAt: time.Now().UTC()}
	a.beliefs = service.NewBeliefService(cfg.AgentID, repo, r, beliefConfig(cfg), logger)
	a.goals = service.NewGoalService(cfg.AgentID, repo, goalConfig(cfg), logger)
	a.intentions = service.NewIntentionStack(cfg.AgentID, repo, r, nil, planConfig(cfg), logger)
	a.reflection = service.NewReflectionService(cfg.AgentID, repo, a.goals, a.beliefs, a.intentions, embedder, logger)
	a.intentions.SetHintSource(a.reflection)

	a.loop = loop.New(loop.Deps{
		AgentID:      cfg.AgentID,
		Registry:     registry,
		Beliefs:      a.beliefs,
		Goals:        a.goals,
		Intentions:   a.intentions,
		Reflection:   a.reflection,
		Observations: repo,
		Cycles:       repo,
	}, loopConfig(cfg), logger)
	return a, nil
}

func registerCapabilities(registry *capability.Registry, m *config.Manifest) error {
	if m == nil || m.HeartbeatEnabled() {
		if err := registry.Register(heartbeat.New()); err != nil {
			return err
		}
	}
	if m == nil {
		return nil
	}
	for _, hc := range m.Capabilities.HTTP {
		c, err := httpcap.New(hc)
		if err != nil {
			return fmt.Errorf("capability %s: %w", hc.Name, err)
		}
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// start restores persisted state and adds the manifest's seed goals when
// the agent has none yet.
func (a *agent) start(ctx context.Context) error {
	if err := a.loop.Load(ctx); err != nil {
		return err
	}
	if a.cfg.Manifest == nil || len(a.goals.List()) > 0 {
		return nil
	}
	for _, sg := range a.cfg.Manifest.SeedGoals {
		g, err := a.goals.Add(ctx, domain.Goal{
			Type:        sg.Type,
			Description: sg.Description,
			Priority:    sg.Priority,
			Target:      sg.Target,
		})
		if err != nil {
			return fmt.Errorf("seed goal %q: %w", sg.Description, err)
		}
		a.logger.Info("seed goal added", zap.String("goal_id", g.ID.String()), zap.String("description", g.Description))
	}
	return nil
}

// reload pushes a freshly resolved configuration into every component.
// Identity and capabilities stay as they were at startup.
func (a *agent) reload(cfg config.AgentConfig) {
	cfg.AgentID = a.cfg.AgentID
	cfg.Manifest = a.cfg.Manifest
	a.cfg = cfg

	a.registry.Executor().SetConfig(executorConfig(cfg))
	a.registry.SetPerceiveTimeout(cfg.CapabilityTimeout)
	a.beliefs.SetConfig(beliefConfig(cfg))
	a.goals.SetConfig(goalConfig(cfg))
	a.intentions.SetConfig(planConfig(cfg))
	a.loop.Reload(loopConfig(cfg))
}

func (a *agent) apiDeps() api.Deps {
	return api.Deps{
		Agent:      a.identity,
		Loop:       a.loop,
		Beliefs:    a.beliefs,
		Goals:      a.goals,
		Intentions: a.intentions,
		Registry:   a.registry,
		Procedures: a.repo,
		Store:      a.repo,
	}
}

// agentName is "<role>@<host>", or just the host when no role is set.
func agentName(cfg config.AgentConfig) string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	if cfg.AgentRole == "" {
		return host
	}
	return cfg.AgentRole + "@" + host
}

func loopConfig(cfg config.AgentConfig) loop.Config {
	c := loop.DefaultConfig()
	c.CycleInterval = cfg.CycleInterval
	c.MaxIntentionsPerCycle = cfg.MaxIntentionsPerCycle
	c.ExecutionConcurrency = cfg.ExecutionConcurrency
	c.ReflectInterval = cfg.ReflectInterval
	c.ReflectOutcomeThreshold = cfg.ReflectOutcomeThreshold
	c.CycleHistory = cfg.CycleHistory
	c.Backoff = backoff.Policy{
		Base:       cfg.LoopBackoffBase,
		Multiplier: cfg.BackoffMultiplier,
		Max:        cfg.MaxBackoff,
		Jitter:     true,
	}
	return c
}

func executorConfig(cfg config.AgentConfig) capability.ExecutorConfig {
	c := capability.DefaultExecutorConfig()
	c.MaxRetries = cfg.MaxRetries
	c.Backoff = backoff.Policy{
		Base:       cfg.RetryBase,
		Multiplier: cfg.BackoffMultiplier,
		Max:        cfg.MaxBackoff,
		Jitter:     true,
	}
	c.Timeout = cfg.CapabilityTimeout
	c.RetryUnknown = cfg.RetryUnknown
	c.RatePerSec = cfg.RatePerSec
	return c
}

func beliefConfig(cfg config.AgentConfig) service.BeliefConfig {
	c := service.DefaultBeliefConfig()
	c.ReasonerTimeout = cfg.ReasonerTimeout
	c.AgentRole = cfg.AgentRole
	return c
}

func goalConfig(cfg config.AgentConfig) service.GoalConfig {
	c := service.DefaultGoalConfig()
	c.ReplanInterval = cfg.ReplanInterval
	c.ChurnThreshold = cfg.ChurnThreshold
	return c
}

func planConfig(cfg config.AgentConfig) service.PlanConfig {
	c := service.DefaultPlanConfig()
	c.ContextBeliefs = cfg.PlanContextBeliefs
	c.ReasonerTimeout = cfg.ReasonerTimeout
	return c
}
