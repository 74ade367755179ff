package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxEvidence     = 20
	DefaultMaxHistory      = 10
	DefaultMaxPending      = 200
	DefaultReasonerTimeout = 60 * time.Second
	defaultRelatedBeliefs  = 10
)

type BeliefConfig struct {
	ReasonerTimeout time.Duration
	MaxEvidence     int
	MaxHistory      int
	MaxPending      int
	DecayRates      map[domain.BeliefSource]float64
	AgentRole       string
}

func DefaultBeliefConfig() BeliefConfig {
	return BeliefConfig{
		ReasonerTimeout: DefaultReasonerTimeout,
		MaxEvidence:     DefaultMaxEvidence,
		MaxHistory:      DefaultMaxHistory,
		MaxPending:      DefaultMaxPending,
		DecayRates:      DefaultDecayRates(),
	}
}

// BeliefService holds the agent's world model. At most one belief exists
// per (subject, predicate). In-memory state changes only after the
// repository accepted the write.
type BeliefService struct {
	agentID  uuid.UUID
	store    domain.BeliefStore
	reasoner domain.Reasoner
	logger   *zap.Logger

	// writeMu serialises Update and Tell; mu guards the maps.
	writeMu sync.Mutex
	mu      sync.RWMutex
	beliefs map[domain.BeliefKey]*domain.Belief
	pending []domain.Observation
	cfg     BeliefConfig

	now func() time.Time
}

func NewBeliefService(agentID uuid.UUID, store domain.BeliefStore, reasoner domain.Reasoner, cfg BeliefConfig, logger *zap.Logger) *BeliefService {
	if cfg.DecayRates == nil {
		cfg.DecayRates = DefaultDecayRates()
	}
	return &BeliefService{
		agentID:  agentID,
		store:    store,
		reasoner: reasoner,
		logger:   logger.Named("beliefs"),
		beliefs:  make(map[domain.BeliefKey]*domain.Belief),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *BeliefService) SetConfig(cfg BeliefConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.DecayRates == nil {
		cfg.DecayRates = s.cfg.DecayRates
	}
	s.cfg = cfg
}

func (s *BeliefService) config() BeliefConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Load replaces in-memory state with the persisted beliefs.
func (s *BeliefService) Load(ctx context.Context) error {
	list, err := s.store.ListBeliefs(ctx, s.agentID)
	if err != nil {
		return domain.NewRepositoryError("list beliefs", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.beliefs = make(map[domain.BeliefKey]*domain.Belief, len(list))
	for i := range list {
		b := list[i]
		if prev, ok := s.beliefs[b.Key()]; ok && prev.UpdatedAt.After(b.UpdatedAt) {
			continue
		}
		if b.DecayedAt.IsZero() {
			b.DecayedAt = b.UpdatedAt
		}
		s.beliefs[b.Key()] = &b
	}
	s.logger.Info("beliefs loaded", zap.Int("count", len(s.beliefs)))
	return nil
}

// Decay applies linear, source-specific decay up to now. Confidence never
// rises and never drops below zero. Decay is reconstructible from
// (Confidence, DecayedAt), so it is persisted lazily with the next write.
func (s *BeliefService) Decay(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, b := range s.beliefs {
		if s.decayOne(b, now) {
			n++
		}
	}
	return n
}

func (s *BeliefService) decayOne(b *domain.Belief, now time.Time) bool {
	if !now.After(b.DecayedAt) {
		return false
	}
	hours := now.Sub(b.DecayedAt).Hours()
	decayed := LinearDecay(b.Confidence, s.cfg.DecayRates[b.Source], hours)
	b.DecayedAt = now
	if decayed == b.Confidence {
		return false
	}
	b.Confidence = decayed
	return true
}

// Update folds observations into the belief state and returns the beliefs
// that changed. Observations left over from a previous reasoner timeout
// are processed first by priority along with the new ones.
func (s *BeliefService) Update(ctx context.Context, observations []domain.Observation) ([]domain.Belief, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	s.Decay(now)
	cfg := s.config()

	s.mu.RLock()
	queue := make([]domain.Observation, 0, len(s.pending)+len(observations))
	queue = append(queue, s.pending...)
	s.mu.RUnlock()
	queue = append(queue, observations...)
	sortObservations(queue)

	staged := make(map[domain.BeliefKey]*domain.Belief)
	var leftover []domain.Observation

	for i, obs := range queue {
		if ctx.Err() != nil {
			leftover = queue[i:]
			break
		}

		cands, err := s.extract(ctx, cfg, obs, staged)
		if err != nil {
			if errors.Is(err, domain.ErrReasonerTimeout) {
				s.logger.Warn("reasoner timed out, deferring observations",
					zap.Int("deferred", len(queue)-i),
					zap.String("observation_id", obs.ID.String()))
				leftover = queue[i:]
				break
			}
			if errors.Is(err, domain.ErrReasonerMalformedOutput) {
				s.logger.Warn("malformed belief extraction treated as empty",
					zap.String("observation_id", obs.ID.String()), zap.Error(err))
			} else {
				s.logger.Warn("belief extraction failed",
					zap.String("observation_id", obs.ID.String()), zap.Error(err))
			}
			continue
		}

		for _, c := range cands {
			c, ok := normalizeCandidate(c)
			if !ok {
				s.logger.Debug("dropping malformed belief candidate",
					zap.String("observation_id", obs.ID.String()))
				continue
			}
			s.apply(staged, c, &obs, now, cfg)
		}
	}

	changed := sortedBeliefs(staged)
	if len(changed) > 0 {
		if err := s.store.SaveBeliefs(ctx, s.agentID, changed); err != nil {
			s.mu.Lock()
			s.pending = boundPending(queue, cfg.MaxPending)
			s.mu.Unlock()
			return nil, domain.NewRepositoryError("save beliefs", err)
		}
	}

	s.mu.Lock()
	for k, b := range staged {
		s.beliefs[k] = b
	}
	s.pending = boundPending(leftover, cfg.MaxPending)
	s.mu.Unlock()

	out := make([]domain.Belief, len(changed))
	for i := range changed {
		out[i] = changed[i].Clone()
	}
	if len(out) > 0 {
		s.logger.Debug("beliefs updated", zap.Int("changed", len(out)), zap.Int("observations", len(queue)-len(leftover)))
	}
	return out, nil
}

func (s *BeliefService) extract(ctx context.Context, cfg BeliefConfig, obs domain.Observation, staged map[domain.BeliefKey]*domain.Belief) ([]domain.BeliefCandidate, error) {
	if s.reasoner == nil {
		return nil, nil
	}
	rctx := ctx
	if cfg.ReasonerTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, cfg.ReasonerTimeout)
		defer cancel()
	}

	bctx := domain.BeliefContext{AgentRole: cfg.AgentRole, Related: s.related(obs, staged)}
	cands, err := s.reasoner.ExtractBeliefs(rctx, obs, bctx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %v", domain.ErrReasonerTimeout, err)
	}
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrReasonerTimeout, ctx.Err())
	}
	return cands, err
}

// related picks the beliefs that share a subject with the observation
// payload, to let the reasoner see what is already known.
func (s *BeliefService) related(obs domain.Observation, staged map[domain.BeliefKey]*domain.Belief) []domain.Belief {
	subject, _ := obs.Payload["subject"].(string)
	if subject == "" {
		subject = obs.Kind
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Belief
	for k, b := range s.beliefs {
		if k.Subject != subject {
			continue
		}
		if sb, ok := staged[k]; ok {
			b = sb
		}
		out = append(out, b.Clone())
		if len(out) >= defaultRelatedBeliefs {
			break
		}
	}
	sortBeliefs(out)
	return out
}

func (s *BeliefService) apply(staged map[domain.BeliefKey]*domain.Belief, c domain.BeliefCandidate, obs *domain.Observation, now time.Time, cfg BeliefConfig) {
	key := domain.BeliefKey{Subject: c.Subject, Predicate: c.Predicate}
	b := s.stagedCopy(staged, key)

	if b == nil {
		nb := &domain.Belief{
			ID:         uuid.New(),
			AgentID:    s.agentID,
			Subject:    c.Subject,
			Predicate:  c.Predicate,
			Object:     c.Object,
			Confidence: c.Confidence,
			Source:     c.Source,
			CreatedAt:  now,
			UpdatedAt:  now,
			DecayedAt:  now,
		}
		if obs != nil {
			nb.Evidence = []uuid.UUID{obs.ID}
		}
		staged[key] = nb
		return
	}

	var obsID *uuid.UUID
	if obs != nil {
		id := obs.ID
		obsID = &id
	}

	if b.Object == c.Object {
		boosted := ApplyLogOddsDelta(b.Confidence, DefaultReinforcementLogOdds*c.Confidence)
		b.Confidence = max(boosted, c.Confidence)
		if b.Source == domain.SourcePrior && c.Source != domain.SourcePrior {
			b.Source = c.Source
		}
		if obsID != nil {
			b.Evidence = appendBounded(b.Evidence, *obsID, cfg.MaxEvidence)
		}
	} else {
		rev := domain.BeliefRevision{
			Object:        b.Object,
			Confidence:    b.Confidence,
			Source:        b.Source,
			ObservationID: obsID,
			RevisedAt:     now,
		}
		if c.Confidence >= b.Confidence {
			rev.Reason = domain.RevisionReplaced
			b.Confidence = clampUnit(ApplyLogOddsDelta(c.Confidence, -DefaultContradictionLogOdds*b.Confidence))
			b.Object = c.Object
			b.Source = c.Source
			b.Evidence = nil
			if obsID != nil {
				b.Evidence = []uuid.UUID{*obsID}
			}
		} else {
			rev.Reason = domain.RevisionContradicted
			b.Confidence = clampUnit(ApplyLogOddsDelta(b.Confidence, -DefaultContradictionLogOdds*c.Confidence))
		}
		b.History = appendHistory(b.History, rev, cfg.MaxHistory)
	}
	b.UpdatedAt = now
	b.DecayedAt = now
}

// stagedCopy returns the working copy for key, cloning from committed
// state on first touch. Nil means the key is new.
func (s *BeliefService) stagedCopy(staged map[domain.BeliefKey]*domain.Belief, key domain.BeliefKey) *domain.Belief {
	if b, ok := staged[key]; ok {
		return b
	}
	s.mu.RLock()
	cur, ok := s.beliefs[key]
	var c domain.Belief
	if ok {
		c = cur.Clone()
	}
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	staged[key] = &c
	return &c
}

// Infer applies candidates that did not come from an observation, such
// as conclusions drawn during reflection.
func (s *BeliefService) Infer(ctx context.Context, cands []domain.BeliefCandidate) ([]domain.Belief, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	s.Decay(now)
	cfg := s.config()

	staged := make(map[domain.BeliefKey]*domain.Belief)
	for _, c := range cands {
		if c.Source == "" {
			c.Source = domain.SourceInference
		}
		c, ok := normalizeCandidate(c)
		if !ok {
			continue
		}
		s.apply(staged, c, nil, now, cfg)
	}

	changed := sortedBeliefs(staged)
	if len(changed) == 0 {
		return nil, nil
	}
	if err := s.store.SaveBeliefs(ctx, s.agentID, changed); err != nil {
		return nil, domain.NewRepositoryError("save beliefs", err)
	}

	s.mu.Lock()
	for k, b := range staged {
		s.beliefs[k] = b
	}
	s.mu.Unlock()

	out := make([]domain.Belief, len(changed))
	for i := range changed {
		out[i] = changed[i].Clone()
	}
	return out, nil
}

// Tell records a statement made by a human. It wins any conflict.
func (s *BeliefService) Tell(ctx context.Context, subject, predicate, object string, confidence float64) (*domain.Belief, error) {
	c, ok := normalizeCandidate(domain.BeliefCandidate{
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		Confidence: confidence,
		Source:     domain.SourceToldByHuman,
	})
	if !ok {
		return nil, fmt.Errorf("subject and predicate are required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	s.Decay(now)
	cfg := s.config()

	key := domain.BeliefKey{Subject: c.Subject, Predicate: c.Predicate}
	staged := make(map[domain.BeliefKey]*domain.Belief)
	b := s.stagedCopy(staged, key)
	if b == nil {
		s.apply(staged, c, nil, now, cfg)
		b = staged[key]
	} else {
		b.History = appendHistory(b.History, domain.BeliefRevision{
			Object:     b.Object,
			Confidence: b.Confidence,
			Source:     b.Source,
			Reason:     domain.RevisionTold,
			RevisedAt:  now,
		}, cfg.MaxHistory)
		if b.Object != c.Object {
			b.Evidence = nil
		}
		b.Object = c.Object
		b.Confidence = c.Confidence
		b.Source = domain.SourceToldByHuman
		b.UpdatedAt = now
		b.DecayedAt = now
	}

	if err := s.store.SaveBeliefs(ctx, s.agentID, []domain.Belief{*b}); err != nil {
		return nil, domain.NewRepositoryError("save beliefs", err)
	}

	s.mu.Lock()
	s.beliefs[key] = b
	s.mu.Unlock()

	out := b.Clone()
	s.logger.Info("belief told", zap.String("key", key.String()))
	return &out, nil
}

// Query returns the belief for the key as of the last decay.
func (s *BeliefService) Query(subject, predicate string) (*domain.Belief, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.beliefs[domain.BeliefKey{Subject: subject, Predicate: predicate}]
	if !ok {
		return nil, false
	}
	c := b.Clone()
	return &c, true
}

// QueryAll returns beliefs at or above minConfidence, most confident first.
func (s *BeliefService) QueryAll(minConfidence float64) []domain.Belief {
	s.mu.RLock()
	out := make([]domain.Belief, 0, len(s.beliefs))
	for _, b := range s.beliefs {
		if b.Confidence >= minConfidence {
			out = append(out, b.Clone())
		}
	}
	s.mu.RUnlock()
	sortBeliefs(out)
	return out
}

// Top returns at most n of the most confident beliefs.
func (s *BeliefService) Top(n int) []domain.Belief {
	all := s.QueryAll(0)
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

func (s *BeliefService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.beliefs)
}

// Pending reports how many observations wait for the next Update.
func (s *BeliefService) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

func normalizeCandidate(c domain.BeliefCandidate) (domain.BeliefCandidate, bool) {
	c.Subject = strings.TrimSpace(c.Subject)
	c.Predicate = strings.TrimSpace(c.Predicate)
	c.Object = strings.TrimSpace(c.Object)
	if c.Subject == "" || c.Predicate == "" {
		return c, false
	}
	if c.Confidence <= 0 {
		c.Confidence = 0.5
	}
	c.Confidence = clampUnit(c.Confidence)
	switch c.Source {
	case domain.SourceObservation, domain.SourceInference, domain.SourcePrior, domain.SourceToldByHuman:
	default:
		c.Source = domain.SourceObservation
	}
	return c, true
}

// sortObservations orders by priority desc, then timestamp asc.
func sortObservations(obs []domain.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].Priority != obs[j].Priority {
			return obs[i].Priority > obs[j].Priority
		}
		return obs[i].Timestamp.Before(obs[j].Timestamp)
	})
}

// boundPending keeps the highest-priority observations, preserving order.
func boundPending(obs []domain.Observation, limit int) []domain.Observation {
	if len(obs) == 0 {
		return nil
	}
	out := append([]domain.Observation(nil), obs...)
	if limit > 0 && len(out) > limit {
		sortObservations(out)
		out = out[:limit]
	}
	return out
}

func sortBeliefs(bs []domain.Belief) {
	sort.SliceStable(bs, func(i, j int) bool {
		if bs[i].Confidence != bs[j].Confidence {
			return bs[i].Confidence > bs[j].Confidence
		}
		if !bs[i].UpdatedAt.Equal(bs[j].UpdatedAt) {
			return bs[i].UpdatedAt.After(bs[j].UpdatedAt)
		}
		return bs[i].Key().String() < bs[j].Key().String()
	})
}

func sortedBeliefs(m map[domain.BeliefKey]*domain.Belief) []domain.Belief {
	out := make([]domain.Belief, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

func appendBounded(ids []uuid.UUID, id uuid.UUID, limit int) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	ids = append(ids, id)
	if limit > 0 && len(ids) > limit {
		ids = append([]uuid.UUID(nil), ids[len(ids)-limit:]...)
	}
	return ids
}

func appendHistory(h []domain.BeliefRevision, rev domain.BeliefRevision, limit int) []domain.BeliefRevision {
	h = append(h, rev)
	if limit > 0 && len(h) > limit {
		h = append([]domain.BeliefRevision(nil), h[len(h)-limit:]...)
	}
	return h
}
