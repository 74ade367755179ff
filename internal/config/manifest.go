package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Harshitk-cp/agentd/internal/capability/httpcap"
	"github.com/Harshitk-cp/agentd/internal/domain"
	"gopkg.in/yaml.v3"
)

// Manifest describes one agent: who it is, what it starts out wanting and
// which HTTP integrations it can use.
type Manifest struct {
	Agent struct {
		ID   string `yaml:"id"`
		Role string `yaml:"role"`
	} `yaml:"agent"`
	Roles        map[string]RoleProfile `yaml:"roles"`
	SeedGoals    []SeedGoal             `yaml:"seed_goals"`
	Capabilities struct {
		Heartbeat *bool            `yaml:"heartbeat"`
		HTTP      []httpcap.Config `yaml:"http"`
	} `yaml:"capabilities"`
}

// RoleProfile overrides loop timing for agents running in that role.
type RoleProfile struct {
	Description          string `yaml:"description"`
	CycleIntervalSeconds int    `yaml:"cycle_interval_seconds"`
	ReplanIntervalHours  int    `yaml:"replan_interval_hours"`
}

type SeedGoal struct {
	Type        domain.GoalType   `yaml:"type"`
	Description string            `yaml:"description"`
	Priority    int               `yaml:"priority"`
	Target      domain.GoalTarget `yaml:"target"`
}

// LoadManifest parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for i, g := range m.SeedGoals {
		if !g.Type.IsValid() {
			return nil, fmt.Errorf("seed goal %d: invalid type %q", i, g.Type)
		}
		if g.Description == "" {
			return nil, fmt.Errorf("seed goal %d: description is required", i)
		}
	}
	seen := make(map[string]bool)
	for _, c := range m.Capabilities.HTTP {
		if c.Name == "" {
			return nil, fmt.Errorf("http capability without name")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate http capability %q", c.Name)
		}
		seen[c.Name] = true
	}
	return &m, nil
}

// HeartbeatEnabled defaults to true.
func (m *Manifest) HeartbeatEnabled() bool {
	return m.Capabilities.Heartbeat == nil || *m.Capabilities.Heartbeat
}

func (p RoleProfile) cycleInterval() time.Duration {
	return time.Duration(p.CycleIntervalSeconds) * time.Second
}

func (p RoleProfile) replanInterval() time.Duration {
	return time.Duration(p.ReplanIntervalHours) * time.Hour
}
