package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentConfig is everything the loop and its services need, resolved once
// at startup from the environment and the optional manifest.
type AgentConfig struct {
	AgentID   uuid.UUID
	AgentRole string

	CycleInterval           time.Duration
	ReplanInterval          time.Duration
	ReflectInterval         time.Duration
	ReflectOutcomeThreshold int
	ChurnThreshold          int
	MaxIntentionsPerCycle   int
	ExecutionConcurrency    int
	PlanContextBeliefs      int
	CycleHistory            int

	MaxRetries        int
	RetryBase         time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	LoopBackoffBase   time.Duration
	RetryUnknown      bool
	RatePerSec        float64

	CapabilityTimeout time.Duration
	ReasonerTimeout   time.Duration

	Manifest *Manifest
}

// Agent assembles the AgentConfig. A manifest role profile overrides the
// cycle and replan intervals; AGENT_ID and AGENT_ROLE override the
// manifest's agent block.
func Agent() (AgentConfig, error) {
	cfg := AgentConfig{
		AgentRole:               AgentRole(),
		CycleInterval:           CycleInterval(),
		ReplanInterval:          StrategicReplanInterval(),
		ReflectInterval:         ReflectInterval(),
		ReflectOutcomeThreshold: ReflectOutcomeThreshold(),
		ChurnThreshold:          ChurnThreshold(),
		MaxIntentionsPerCycle:   MaxIntentionsPerCycle(),
		ExecutionConcurrency:    ExecutionConcurrency(),
		PlanContextBeliefs:      PlanContextBeliefs(),
		CycleHistory:            CycleHistory(),
		MaxRetries:              MaxRetries(),
		RetryBase:               RetryBase(),
		BackoffMultiplier:       BackoffMultiplier(),
		MaxBackoff:              MaxBackoff(),
		LoopBackoffBase:         LoopBackoffBase(),
		RetryUnknown:            RetryUnknownErrors(),
		RatePerSec:              CapabilityRatePerSec(),
		CapabilityTimeout:       CapabilityTimeout(),
		ReasonerTimeout:         ReasonerTimeout(),
	}

	idText := AgentID()
	if path := AgentManifest(); path != "" {
		m, err := LoadManifest(path)
		if err != nil {
			return AgentConfig{}, err
		}
		cfg.Manifest = m
		if idText == "" {
			idText = m.Agent.ID
		}
		if cfg.AgentRole == "" {
			cfg.AgentRole = m.Agent.Role
		}
		if p, ok := m.Roles[cfg.AgentRole]; ok {
			if d := p.cycleInterval(); d > 0 {
				cfg.CycleInterval = d
			}
			if d := p.replanInterval(); d > 0 {
				cfg.ReplanInterval = d
			}
		}
	}

	id, err := resolveAgentID(idText, cfg.AgentRole)
	if err != nil {
		return AgentConfig{}, err
	}
	cfg.AgentID = id
	return cfg, nil
}

// resolveAgentID parses text, or derives a stable ID from the role so an
// agent keeps its state across restarts without explicit configuration.
func resolveAgentID(text, role string) (uuid.UUID, error) {
	if text != "" {
		id, err := uuid.Parse(text)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid AGENT_ID %q: %w", text, err)
		}
		return id, nil
	}
	if role == "" {
		role = "default"
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("agentd:"+role)), nil
}
