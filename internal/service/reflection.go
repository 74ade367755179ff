package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RecencyBoostDecayDays   = 30.0
	DefaultHintLimit        = 5
	maxTriggerPatternLength = 500
	reliabilityPredicate    = "reliability"
)

// Outcome is one finished intention with its result.
type Outcome struct {
	Intention domain.Intention
	Result    domain.ActionResult
}

// ReflectionReport summarises what one Learn call changed.
type ReflectionReport struct {
	Procedures         []domain.ProceduralUpdate `json:"procedures"`
	GoalsProgressed    int                       `json:"goals_progressed"`
	ReliabilityUpdates int                       `json:"reliability_updates"`
}

// PlanLister exposes the plans an outcome belongs to.
type PlanLister interface {
	List(f IntentionFilter) []domain.Intention
}

// ReflectionService turns execution outcomes into procedural knowledge,
// goal progress and capability reliability beliefs. It is advisory: a
// failure is reported but never blocks the next cycle.
type ReflectionService struct {
	agentID    uuid.UUID
	procedures domain.ProcedureStore
	goals      *GoalService
	beliefs    *BeliefService
	plans      PlanLister
	embedder   domain.EmbeddingClient
	logger     *zap.Logger

	// embedOff is set once the embedding service rejects a request; the
	// rest of the process runs on goal-type lookups only.
	embedOff atomic.Bool

	now func() time.Time
}

func NewReflectionService(agentID uuid.UUID, procedures domain.ProcedureStore, goals *GoalService, beliefs *BeliefService, plans PlanLister, embedder domain.EmbeddingClient, logger *zap.Logger) *ReflectionService {
	return &ReflectionService{
		agentID:    agentID,
		procedures: procedures,
		goals:      goals,
		beliefs:    beliefs,
		plans:      plans,
		embedder:   embedder,
		logger:     logger.Named("reflection"),
		now:        time.Now,
	}
}

type procKey struct {
	goalType domain.GoalType
	shape    string
}

// Learn records outcomes per (goal type, strategy shape), advances achieve
// goals and updates capability reliability. beliefDeltas are the beliefs
// changed since the previous reflection; subjects they touch are logged
// for operators.
func (s *ReflectionService) Learn(ctx context.Context, outcomes []Outcome, beliefDeltas []domain.Belief) (*ReflectionReport, error) {
	report := &ReflectionReport{}
	if len(outcomes) == 0 {
		return report, nil
	}
	now := s.now()
	var errs []error

	groups := make(map[procKey][]Outcome)
	goalsByID := make(map[uuid.UUID]domain.Goal)
	var keys []procKey
	for _, o := range outcomes {
		g, ok := s.goals.Get(o.Intention.GoalID)
		if !ok {
			continue
		}
		goalsByID[g.ID] = *g
		k := procKey{goalType: g.Type, shape: o.Intention.Shape()}
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], o)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].goalType != keys[j].goalType {
			return keys[i].goalType < keys[j].goalType
		}
		return keys[i].shape < keys[j].shape
	})

	for _, k := range keys {
		upd, err := s.recordProcedure(ctx, k, groups[k], goalsByID, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Procedures = append(report.Procedures, upd)
	}

	n, err := s.advanceGoals(ctx, outcomes, goalsByID)
	report.GoalsProgressed = n
	if err != nil {
		errs = append(errs, err)
	}

	n, err = s.updateReliability(ctx, outcomes)
	report.ReliabilityUpdates = n
	if err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("reflection complete",
		zap.Int("outcomes", len(outcomes)),
		zap.Int("procedures", len(report.Procedures)),
		zap.Int("goals_progressed", report.GoalsProgressed),
		zap.Int("belief_deltas", len(beliefDeltas)))

	return report, errors.Join(errs...)
}

func (s *ReflectionService) recordProcedure(ctx context.Context, k procKey, group []Outcome, goals map[uuid.UUID]domain.Goal, now time.Time) (domain.ProceduralUpdate, error) {
	p, err := s.procedures.GetProcedure(ctx, s.agentID, k.goalType, k.shape)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.ProceduralUpdate{}, fmt.Errorf("get procedure %s: %w", k.shape, err)
	}
	if p == nil {
		p = &domain.Procedure{
			ID:        uuid.New(),
			AgentID:   s.agentID,
			GoalType:  k.goalType,
			Shape:     k.shape,
			CreatedAt: now,
		}
	}

	upd := domain.ProceduralUpdate{GoalType: k.goalType, Shape: k.shape}
	patternChanged := false
	for _, o := range group {
		p.Record(o.Result.Success, now)
		if o.Result.Success {
			upd.Successes++
		} else {
			upd.Failures++
		}
		if g, ok := goals[o.Intention.GoalID]; ok {
			if merged := mergeTrigger(p.TriggerPattern, g.Description); merged != p.TriggerPattern {
				p.TriggerPattern = merged
				patternChanged = true
			}
		}
	}
	upd.SuccessRate = p.SuccessRate

	if p.TriggerPattern != "" && (patternChanged || len(p.TriggerEmbedding) == 0) {
		if emb, ok := s.embed(ctx, p.TriggerPattern, "procedure trigger"); ok {
			p.TriggerEmbedding = emb
		}
	}

	if err := s.procedures.SaveProcedure(ctx, p); err != nil {
		return upd, domain.NewRepositoryError("save procedure", err)
	}
	return upd, nil
}

// advanceGoals adds each achieve goal's share of succeeded plan steps.
func (s *ReflectionService) advanceGoals(ctx context.Context, outcomes []Outcome, goals map[uuid.UUID]domain.Goal) (int, error) {
	succeeded := make(map[uuid.UUID]int)
	planOf := make(map[uuid.UUID]uuid.UUID)
	for _, o := range outcomes {
		g, ok := goals[o.Intention.GoalID]
		if !ok || g.Type != domain.GoalAchieve || !o.Result.Success {
			continue
		}
		succeeded[g.ID]++
		planOf[g.ID] = o.Intention.PlanID
	}

	var errs []error
	n := 0
	for goalID, count := range succeeded {
		size := 0
		if s.plans != nil {
			planID := planOf[goalID]
			size = len(s.plans.List(IntentionFilter{GoalID: &goalID, PlanID: &planID}))
		}
		if size < count {
			size = count
		}
		delta := 100 * float64(count) / float64(size)
		if _, err := s.goals.UpdateProgress(ctx, goalID, delta); err != nil {
			errs = append(errs, fmt.Errorf("progress for goal %s: %w", goalID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// updateReliability records one inference belief per capability used.
func (s *ReflectionService) updateReliability(ctx context.Context, outcomes []Outcome) (int, error) {
	if s.beliefs == nil {
		return 0, nil
	}
	type tally struct{ ok, total int }
	byCap := make(map[string]*tally)
	for _, o := range outcomes {
		name := o.Intention.Capability
		if name == "" {
			continue
		}
		t := byCap[name]
		if t == nil {
			t = &tally{}
			byCap[name] = t
		}
		t.total++
		if o.Result.Success {
			t.ok++
		}
	}

	cands := make([]domain.BeliefCandidate, 0, len(byCap))
	for name, t := range byCap {
		ratio := float64(t.ok) / float64(t.total)
		object, conf := "reliable", ratio
		if ratio < 0.5 {
			object, conf = "unreliable", 1-ratio
		}
		cands = append(cands, domain.BeliefCandidate{
			Subject:    "capability:" + name,
			Predicate:  reliabilityPredicate,
			Object:     object,
			Confidence: conf,
			Source:     domain.SourceInference,
			Reasoning:  fmt.Sprintf("%d of %d recent calls succeeded", t.ok, t.total),
		})
	}
	changed, err := s.beliefs.Infer(ctx, cands)
	return len(changed), err
}

// embed reports false when no vector is available. A rejected request
// turns embedding off for good; transient failures only skip this call.
func (s *ReflectionService) embed(ctx context.Context, text, what string) ([]float32, bool) {
	if s.embedder == nil || s.embedOff.Load() {
		return nil, false
	}
	emb, err := s.embedder.Embed(ctx, text)
	switch {
	case err == nil:
		return emb, true
	case errors.Is(err, domain.ErrEmbeddingRejected):
		if s.embedOff.CompareAndSwap(false, true) {
			s.logger.Error("embedding rejected, falling back to goal-type lookups", zap.String("input", what), zap.Error(err))
		}
	default:
		s.logger.Warn("failed to embed", zap.String("input", what), zap.Error(err))
	}
	return nil, false
}

// EmbeddingEnabled reports whether similarity search is still in use.
func (s *ReflectionService) EmbeddingEnabled() bool {
	return s.embedder != nil && !s.embedOff.Load()
}

// Hints lists what worked (and what did not) for goals of this type,
// best first. Errors degrade to no hints.
func (s *ReflectionService) Hints(ctx context.Context, goal domain.Goal) []string {
	type scored struct {
		p     domain.Procedure
		score float64
	}
	var ranked []scored

	if goal.Description != "" {
		if emb, ok := s.embed(ctx, goal.Description, "goal description"); ok {
			similar, err := s.procedures.FindSimilarProcedures(ctx, s.agentID, emb, 4*DefaultHintLimit)
			if err == nil {
				for _, p := range similar {
					if p.GoalType != goal.Type {
						continue
					}
					ranked = append(ranked, scored{p.Procedure, s.score(&p.Procedure) * math.Max(p.Score, 0)})
				}
			} else {
				s.logger.Warn("similar procedure lookup failed", zap.Error(err))
			}
		}
	}

	if len(ranked) == 0 {
		procs, err := s.procedures.ListProcedures(ctx, s.agentID, goal.Type)
		if err != nil {
			s.logger.Warn("procedure lookup failed", zap.Error(err))
			return nil
		}
		for i := range procs {
			ranked = append(ranked, scored{procs[i], s.score(&procs[i])})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].p.Shape < ranked[j].p.Shape
	})

	var hints []string
	for _, r := range ranked {
		if len(hints) >= DefaultHintLimit {
			break
		}
		hints = append(hints, formatHint(r.p))
	}
	return hints
}

// score favours reliable, recently used procedures.
func (s *ReflectionService) score(p *domain.Procedure) float64 {
	return p.SuccessRate*s.recencyBoost(p.LastUsedAt) + math.Abs(p.SuccessRate-0.5)*0.1
}

func (s *ReflectionService) recencyBoost(lastUsedAt *time.Time) float64 {
	if lastUsedAt == nil {
		return 0.5
	}
	days := s.now().Sub(*lastUsedAt).Hours() / 24
	if days <= 0 {
		return 1.0
	}
	return math.Exp(-days / RecencyBoostDecayDays)
}

func formatHint(p domain.Procedure) string {
	verdict := "worked"
	if p.SuccessRate < 0.5 {
		verdict = "mostly failed"
	}
	return fmt.Sprintf("%s %s for %s goals (%d/%d succeeded)",
		p.Shape, verdict, p.GoalType, p.SuccessCount, p.UseCount)
}

func mergeTrigger(pattern, description string) string {
	description = strings.TrimSpace(description)
	if description == "" || strings.Contains(pattern, description) {
		return pattern
	}
	if pattern == "" {
		pattern = description
	} else {
		pattern = pattern + "; " + description
	}
	if len(pattern) > maxTriggerPatternLength {
		// Cut on a rune boundary so the pattern stays valid UTF-8.
		cut := len(pattern) - maxTriggerPatternLength
		for cut < len(pattern) && !utf8.RuneStart(pattern[cut]) {
			cut++
		}
		pattern = pattern[cut:]
	}
	return pattern
}
