// Package sqlite is a single-file Repository for agents that run without
// a Postgres server. Rows are stored as JSON documents next to the
// columns they are looked up or ordered by.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS beliefs (
	agent_id  TEXT NOT NULL,
	subject   TEXT NOT NULL,
	predicate TEXT NOT NULL,
	doc       TEXT NOT NULL,
	PRIMARY KEY (agent_id, subject, predicate)
);
CREATE TABLE IF NOT EXISTS goals (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	doc        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS intentions (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	doc        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS observations (
	id          TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	observed_at INTEGER NOT NULL,
	doc         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cycles (
	id           TEXT PRIMARY KEY,
	agent_id     TEXT NOT NULL,
	cycle_number INTEGER NOT NULL,
	doc          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS cycles_agent_idx ON cycles (agent_id, cycle_number);
CREATE TABLE IF NOT EXISTS procedures (
	agent_id     TEXT NOT NULL,
	goal_type    TEXT NOT NULL,
	shape        TEXT NOT NULL,
	success_rate REAL NOT NULL,
	embedding    TEXT,
	doc          TEXT NOT NULL,
	PRIMARY KEY (agent_id, goal_type, shape)
);`

// Store serialises writers with mu; SQLite allows one writer at a time.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

var _ domain.Repository = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// write runs fn in one transaction under the writer lock.
func (s *Store) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// docs runs query and decodes the single doc column of every row.
func docs[T any](ctx context.Context, s *Store, query string, args ...any) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var v T
		if err := json.UnmarshalFromString(raw, &v); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) ListBeliefs(ctx context.Context, agentID uuid.UUID) ([]domain.Belief, error) {
	out, err := docs[domain.Belief](ctx, s,
		`SELECT doc FROM beliefs WHERE agent_id = ? ORDER BY subject, predicate`, agentID.String())
	if err != nil {
		return nil, fmt.Errorf("list beliefs: %w", err)
	}
	return out, nil
}

func (s *Store) SaveBeliefs(ctx context.Context, agentID uuid.UUID, beliefs []domain.Belief) error {
	if len(beliefs) == 0 {
		return nil
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		for i := range beliefs {
			b := beliefs[i]
			b.AgentID = agentID
			doc, err := json.MarshalToString(b)
			if err != nil {
				return fmt.Errorf("encode belief: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO beliefs (agent_id, subject, predicate, doc) VALUES (?, ?, ?, ?)
				 ON CONFLICT (agent_id, subject, predicate) DO UPDATE SET doc = excluded.doc`,
				agentID.String(), b.Subject, b.Predicate, doc); err != nil {
				return fmt.Errorf("save belief %s: %w", b.Key(), err)
			}
		}
		return nil
	})
}

func (s *Store) ListGoals(ctx context.Context, agentID uuid.UUID) ([]domain.Goal, error) {
	out, err := docs[domain.Goal](ctx, s,
		`SELECT doc FROM goals WHERE agent_id = ? ORDER BY created_at, id`, agentID.String())
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	return out, nil
}

func (s *Store) SaveGoal(ctx context.Context, g *domain.Goal) error {
	doc, err := json.MarshalToString(g)
	if err != nil {
		return fmt.Errorf("encode goal: %w", err)
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO goals (id, agent_id, created_at, doc) VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`,
			g.ID.String(), g.AgentID.String(), g.CreatedAt.UnixNano(), doc); err != nil {
			return fmt.Errorf("save goal: %w", err)
		}
		return nil
	})
}

func (s *Store) DeleteGoals(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error {
	return s.deleteByID(ctx, "goals", agentID, ids)
}

func (s *Store) ListIntentions(ctx context.Context, agentID uuid.UUID) ([]domain.Intention, error) {
	out, err := docs[domain.Intention](ctx, s,
		`SELECT doc FROM intentions WHERE agent_id = ? ORDER BY created_at, id`, agentID.String())
	if err != nil {
		return nil, fmt.Errorf("list intentions: %w", err)
	}
	return out, nil
}

func (s *Store) SaveIntentions(ctx context.Context, agentID uuid.UUID, intentions []domain.Intention) error {
	if len(intentions) == 0 {
		return nil
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		for i := range intentions {
			it := intentions[i]
			it.AgentID = agentID
			doc, err := json.MarshalToString(it)
			if err != nil {
				return fmt.Errorf("encode intention: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO intentions (id, agent_id, created_at, doc) VALUES (?, ?, ?, ?)
				 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`,
				it.ID.String(), agentID.String(), it.CreatedAt.UnixNano(), doc); err != nil {
				return fmt.Errorf("save intention %s: %w", it.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) DeleteIntentions(ctx context.Context, agentID uuid.UUID, ids []uuid.UUID) error {
	return s.deleteByID(ctx, "intentions", agentID, ids)
}

func (s *Store) deleteByID(ctx context.Context, table string, agentID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM `+table+` WHERE agent_id = ? AND id = ?`,
				agentID.String(), id.String()); err != nil {
				return fmt.Errorf("delete from %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *Store) ArchiveObservations(ctx context.Context, agentID uuid.UUID, obs []domain.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		for i := range obs {
			doc, err := json.MarshalToString(obs[i])
			if err != nil {
				return fmt.Errorf("encode observation: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO observations (id, agent_id, observed_at, doc) VALUES (?, ?, ?, ?)
				 ON CONFLICT (id) DO NOTHING`,
				obs[i].ID.String(), agentID.String(), obs[i].Timestamp.UnixNano(), doc); err != nil {
				return fmt.Errorf("archive observation %s: %w", obs[i].ID, err)
			}
		}
		return nil
	})
}

// Observations returns an agent's archive oldest first.
func (s *Store) Observations(ctx context.Context, agentID uuid.UUID) ([]domain.Observation, error) {
	return docs[domain.Observation](ctx, s,
		`SELECT doc FROM observations WHERE agent_id = ? ORDER BY observed_at`, agentID.String())
}

func (s *Store) SaveCycle(ctx context.Context, rec *domain.CycleRecord) error {
	doc, err := json.MarshalToString(rec)
	if err != nil {
		return fmt.Errorf("encode cycle: %w", err)
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cycles (id, agent_id, cycle_number, doc) VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`,
			rec.ID.String(), rec.AgentID.String(), rec.CycleNumber, doc); err != nil {
			return fmt.Errorf("save cycle: %w", err)
		}
		return nil
	})
}

// ListCycles returns the newest records first. A limit <= 0 returns all.
func (s *Store) ListCycles(ctx context.Context, agentID uuid.UUID, limit int) ([]domain.CycleRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	out, err := docs[domain.CycleRecord](ctx, s,
		`SELECT doc FROM cycles WHERE agent_id = ? ORDER BY cycle_number DESC, rowid DESC LIMIT ?`,
		agentID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	return out, nil
}

func (s *Store) PruneCycles(ctx context.Context, agentID uuid.UUID, keep int) error {
	if keep < 0 {
		return nil
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cycles WHERE agent_id = ? AND id NOT IN (
				SELECT id FROM cycles WHERE agent_id = ?
				ORDER BY cycle_number DESC, rowid DESC LIMIT ?)`,
			agentID.String(), agentID.String(), keep); err != nil {
			return fmt.Errorf("prune cycles: %w", err)
		}
		return nil
	})
}

func (s *Store) GetProcedure(ctx context.Context, agentID uuid.UUID, goalType domain.GoalType, shape string) (*domain.Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc string
	var embedding sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, embedding FROM procedures WHERE agent_id = ? AND goal_type = ? AND shape = ?`,
		agentID.String(), string(goalType), shape).Scan(&doc, &embedding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get procedure: %w", err)
	}
	return decodeProcedure(doc, embedding)
}

func (s *Store) SaveProcedure(ctx context.Context, p *domain.Procedure) error {
	doc, err := json.MarshalToString(p)
	if err != nil {
		return fmt.Errorf("encode procedure: %w", err)
	}
	var embedding sql.NullString
	if len(p.TriggerEmbedding) > 0 {
		raw, err := json.MarshalToString(p.TriggerEmbedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		embedding = sql.NullString{String: raw, Valid: true}
	}
	return s.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO procedures (agent_id, goal_type, shape, success_rate, embedding, doc)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (agent_id, goal_type, shape) DO UPDATE SET
				success_rate = excluded.success_rate,
				embedding = COALESCE(excluded.embedding, procedures.embedding),
				doc = excluded.doc`,
			p.AgentID.String(), string(p.GoalType), p.Shape, p.SuccessRate, embedding, doc); err != nil {
			return fmt.Errorf("save procedure: %w", err)
		}
		return nil
	})
}

// ListProcedures returns procedures best first. An empty goal type lists all.
func (s *Store) ListProcedures(ctx context.Context, agentID uuid.UUID, goalType domain.GoalType) ([]domain.Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryProcedures(ctx,
		`SELECT doc, embedding FROM procedures
		 WHERE agent_id = ? AND (? = '' OR goal_type = ?)
		 ORDER BY success_rate DESC, shape`,
		agentID.String(), string(goalType), string(goalType))
}

// FindSimilarProcedures ranks by cosine similarity computed in process.
func (s *Store) FindSimilarProcedures(ctx context.Context, agentID uuid.UUID, embedding []float32, limit int) ([]domain.ProcedureWithScore, error) {
	s.mu.RLock()
	procs, err := s.queryProcedures(ctx,
		`SELECT doc, embedding FROM procedures WHERE agent_id = ? AND embedding IS NOT NULL`,
		agentID.String())
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	out := make([]domain.ProcedureWithScore, 0, len(procs))
	for _, p := range procs {
		out = append(out, domain.ProcedureWithScore{Procedure: p, Score: domain.Cosine(embedding, p.TriggerEmbedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) queryProcedures(ctx context.Context, query string, args ...any) ([]domain.Procedure, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list procedures: %w", err)
	}
	defer rows.Close()

	var out []domain.Procedure
	for rows.Next() {
		var doc string
		var embedding sql.NullString
		if err := rows.Scan(&doc, &embedding); err != nil {
			return nil, fmt.Errorf("scan procedure row: %w", err)
		}
		p, err := decodeProcedure(doc, embedding)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func decodeProcedure(doc string, embedding sql.NullString) (*domain.Procedure, error) {
	var p domain.Procedure
	if err := json.UnmarshalFromString(doc, &p); err != nil {
		return nil, fmt.Errorf("decode procedure: %w", err)
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.UnmarshalFromString(embedding.String, &p.TriggerEmbedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return &p, nil
}
