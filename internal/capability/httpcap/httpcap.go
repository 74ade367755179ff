// Package httpcap adapts a plain HTTP service into a capability: GET on a
// feed endpoint yields observations, POST to an action endpoint executes.
package httpcap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Harshitk-cp/agentd/internal/capability"
	"github.com/Harshitk-cp/agentd/internal/domain"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

type Config struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	BaseURL     string            `yaml:"base_url"`
	FeedPath    string            `yaml:"feed_path"`
	ActionPath  string            `yaml:"action_path"`
	HealthPath  string            `yaml:"health_path"`
	Actions     []string          `yaml:"actions"`
	Headers     map[string]string `yaml:"headers"`
	Timeout     time.Duration     `yaml:"timeout"`
}

type Capability struct {
	cfg        Config
	base       *url.URL
	httpClient *http.Client
}

func New(cfg Config) (*Capability, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("http capability name is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("http capability %s: invalid base_url %q", cfg.Name, cfg.BaseURL)
	}
	if cfg.ActionPath == "" {
		cfg.ActionPath = "/actions"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Capability{
		cfg:        cfg,
		base:       base,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Capability) Name() string { return c.cfg.Name }

type feedItem struct {
	Kind     string         `json:"kind"`
	Priority int            `json:"priority"`
	Payload  map[string]any `json:"payload"`
	Time     *time.Time     `json:"timestamp,omitempty"`
}

// Perceive fetches the feed. An unset feed path means the service is
// action-only.
func (c *Capability) Perceive(ctx context.Context) ([]domain.Observation, error) {
	if c.cfg.FeedPath == "" {
		return nil, nil
	}
	body, err := c.do(ctx, http.MethodGet, c.cfg.FeedPath, nil)
	if err != nil {
		return nil, err
	}

	var items []feedItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, domain.PermanentCapabilityError(fmt.Errorf("decode feed: %w", err))
	}

	out := make([]domain.Observation, 0, len(items))
	for _, it := range items {
		if it.Kind == "" {
			continue
		}
		o := domain.Observation{Kind: it.Kind, Priority: it.Priority, Payload: it.Payload}
		if it.Time != nil {
			o.Timestamp = *it.Time
		}
		out = append(out, o)
	}
	return out, nil
}

func (c *Capability) Execute(ctx context.Context, action domain.Action) (map[string]any, error) {
	if action.Name == "" {
		return nil, domain.PermanentCapabilityError(fmt.Errorf("action name is required"))
	}
	payload, err := json.Marshal(map[string]any{
		"intention_id": action.IntentionID,
		"parameters":   action.Parameters,
	})
	if err != nil {
		return nil, domain.PermanentCapabilityError(fmt.Errorf("marshal action: %w", err))
	}

	path := strings.TrimSuffix(c.cfg.ActionPath, "/") + "/" + url.PathEscape(action.Name)
	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return map[string]any{"raw": string(body)}, nil
	}
	return out, nil
}

func (c *Capability) HealthCheck(ctx context.Context) bool {
	path := c.cfg.HealthPath
	if path == "" {
		path = "/"
	}
	_, err := c.do(ctx, http.MethodGet, path, nil)
	return err == nil
}

func (c *Capability) Describe() domain.CapabilityInfo {
	return domain.CapabilityInfo{
		Name:        c.cfg.Name,
		Description: c.cfg.Description,
		Actions:     c.cfg.Actions,
	}
}

func (c *Capability) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	u := c.base.JoinPath(path)

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, domain.PermanentCapabilityError(fmt.Errorf("create request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.TransientCapabilityError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		return nil, &domain.CapabilityError{
			Class:  capability.ClassifyStatus(resp.StatusCode),
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s %s returned %s", method, u.Host, resp.Status),
		}
	}
	return body, nil
}
