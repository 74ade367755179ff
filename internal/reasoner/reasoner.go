// Package reasoner is the LLM-backed domain.Reasoner.
package reasoner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/Harshitk-cp/agentd/internal/llm"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultStructuredConfidence applies to structured observations that
	// carry no confidence of their own.
	DefaultStructuredConfidence = 0.9

	maxPromptBeliefs = 40
)

type Config struct {
	StructuredConfidence float64
}

// Reasoner answers from structured observation payloads when it can and
// falls back to the LLM client otherwise. A nil client disables the
// fallback.
type Reasoner struct {
	client llm.Client
	cfg    Config
	logger *zap.Logger
}

var _ domain.Reasoner = (*Reasoner)(nil)

func New(client llm.Client, cfg Config, logger *zap.Logger) *Reasoner {
	if cfg.StructuredConfidence <= 0 || cfg.StructuredConfidence > 1 {
		cfg.StructuredConfidence = DefaultStructuredConfidence
	}
	return &Reasoner{client: client, cfg: cfg, logger: logger.Named("reasoner")}
}

func (r *Reasoner) ExtractBeliefs(ctx context.Context, obs domain.Observation, bctx domain.BeliefContext) ([]domain.BeliefCandidate, error) {
	if cands, ok := r.structured(obs); ok {
		return cands, nil
	}
	if r.client == nil {
		return nil, nil
	}

	payload, err := json.MarshalIndent(obs.Payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal observation payload: %w", err)
	}
	role := bctx.AgentRole
	if role == "" {
		role = "general assistant"
	}
	prompt := fmt.Sprintf(beliefPrompt, role, obs.Source, obs.Kind, payload, renderBeliefs(bctx.Related))

	out, err := r.client.Complete(ctx, beliefSystemPrompt, prompt)
	if err != nil {
		return nil, completionError(ctx, err)
	}

	raw := extractJSON(out)
	if len(raw) == 0 {
		return nil, nil
	}
	var cands []domain.BeliefCandidate
	if raw[0] == '{' {
		var wrapped struct {
			Beliefs []domain.BeliefCandidate `json:"beliefs"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReasonerMalformedOutput, err)
		}
		cands = wrapped.Beliefs
	} else if err := json.Unmarshal(raw, &cands); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReasonerMalformedOutput, err)
	}
	for i := range cands {
		if cands[i].Source == "" {
			cands[i].Source = domain.SourceInference
		}
	}
	r.logger.Debug("beliefs extracted",
		zap.String("observation_id", obs.ID.String()), zap.Int("candidates", len(cands)))
	return cands, nil
}

func (r *Reasoner) GeneratePlan(ctx context.Context, req domain.PlanRequest) (*domain.PlanProposal, error) {
	if r.client == nil {
		return &domain.PlanProposal{}, nil
	}

	target, err := json.Marshal(req.Goal.Target)
	if err != nil {
		return nil, fmt.Errorf("marshal goal target: %w", err)
	}
	hints := "(nothing recorded yet)"
	if len(req.Hints) > 0 {
		hints = "- " + strings.Join(req.Hints, "\n- ")
	}
	prompt := fmt.Sprintf(planPrompt,
		req.Goal.Type, req.Goal.Priority, req.Goal.Description, target,
		renderBeliefs(req.Beliefs), renderCapabilities(req.Capabilities), hints)

	out, err := r.client.Complete(ctx, planSystemPrompt, prompt)
	if err != nil {
		return nil, completionError(ctx, err)
	}

	raw := extractJSON(out)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty plan", domain.ErrReasonerMalformedOutput)
	}
	var proposal domain.PlanProposal
	if raw[0] == '[' {
		err = json.Unmarshal(raw, &proposal.Steps)
	} else {
		err = json.Unmarshal(raw, &proposal)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReasonerMalformedOutput, err)
	}
	r.logger.Debug("plan generated",
		zap.String("goal_id", req.Goal.ID.String()), zap.Int("steps", len(proposal.Steps)))
	return &proposal, nil
}

// structured reads beliefs straight from payloads shaped like
// {"subject","predicate","object"[,"confidence"]} or {"beliefs":[...]}.
func (r *Reasoner) structured(obs domain.Observation) ([]domain.BeliefCandidate, bool) {
	if c, ok := r.candidateFrom(obs.Payload); ok {
		return []domain.BeliefCandidate{c}, true
	}
	list, ok := obs.Payload["beliefs"].([]any)
	if !ok {
		return nil, false
	}
	var out []domain.BeliefCandidate
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if c, ok := r.candidateFrom(m); ok {
			out = append(out, c)
		}
	}
	return out, len(out) > 0
}

func (r *Reasoner) candidateFrom(m map[string]any) (domain.BeliefCandidate, bool) {
	subject, _ := m["subject"].(string)
	predicate, _ := m["predicate"].(string)
	object, ok := scalar(m["object"])
	if subject == "" || predicate == "" || !ok {
		return domain.BeliefCandidate{}, false
	}
	conf := r.cfg.StructuredConfidence
	if v, ok := m["confidence"].(float64); ok && v >= 0 && v <= 1 {
		conf = v
	}
	return domain.BeliefCandidate{
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		Confidence: conf,
		Source:     domain.SourceObservation,
	}, true
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, x != ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

func completionError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrReasonerTimeout, err)
	}
	return fmt.Errorf("reasoner completion: %w", err)
}

// extractJSON strips markdown fences and any prose around the outermost
// JSON object or array.
func extractJSON(s string) []byte {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	b := []byte(strings.TrimSpace(s))

	start := bytes.IndexAny(b, "[{")
	if start < 0 {
		return nil
	}
	closer := byte('}')
	if b[start] == '[' {
		closer = ']'
	}
	end := bytes.LastIndexByte(b, closer)
	if end < start {
		return b[start:]
	}
	return b[start : end+1]
}

func renderBeliefs(beliefs []domain.Belief) string {
	if len(beliefs) == 0 {
		return "(none)"
	}
	sorted := append([]domain.Belief(nil), beliefs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	if len(sorted) > maxPromptBeliefs {
		sorted = sorted[:maxPromptBeliefs]
	}
	var sb strings.Builder
	for _, b := range sorted {
		fmt.Fprintf(&sb, "- %s %s %s (confidence %.2f, %s)\n", b.Subject, b.Predicate, b.Object, b.Confidence, b.Source)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderCapabilities(caps []domain.CapabilityInfo) string {
	var sb strings.Builder
	for _, c := range caps {
		if !c.Enabled {
			continue
		}
		fmt.Fprintf(&sb, "- %s", c.Name)
		if len(c.Actions) > 0 {
			fmt.Fprintf(&sb, " (actions: %s)", strings.Join(c.Actions, ", "))
		}
		if c.Description != "" {
			fmt.Fprintf(&sb, ": %s", c.Description)
		}
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		return "(none)"
	}
	return strings.TrimRight(sb.String(), "\n")
}
