// Seed script for creating demo state for an agentd agent.
// Run with: go run ./scripts/seed.go
//
// Writes straight to the configured store (DATABASE_URL or SQLITE_PATH), so
// run it before starting the agent.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Harshitk-cp/agentd/internal/config"
	"github.com/Harshitk-cp/agentd/internal/domain"
	"github.com/Harshitk-cp/agentd/internal/store"
	"github.com/Harshitk-cp/agentd/internal/store/sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg, err := config.Agent()
	if err != nil {
		log.Fatalf("Failed to resolve agent: %v", err)
	}

	ctx := context.Background()

	var repo domain.Repository
	switch config.StoreDriver() {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, config.DatabaseURL())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer pool.Close()
		if err := store.Migrate(ctx, pool); err != nil {
			log.Fatalf("Failed to migrate: %v", err)
		}
		repo = store.NewRepository(pool)
	case config.StoreSQLite:
		s, err := sqlite.Open(config.SQLitePath())
		if err != nil {
			log.Fatalf("Failed to open sqlite: %v", err)
		}
		defer s.Close()
		repo = s
	default:
		log.Fatal("Set DATABASE_URL or SQLITE_PATH; the memory store cannot be seeded")
	}

	fmt.Printf("Seeding agent %s\n", cfg.AgentID)
	now := time.Now().UTC()

	beliefs := []struct {
		subject, predicate, object string
		confidence                 float64
		source                     domain.BeliefSource
	}{
		{"pipeline", "coverage", "1.8", 0.9, domain.SourceObservation},
		{"acme", "renewal_date", "2026-12-01", 1.0, domain.SourceToldByHuman},
		{"acme", "sentiment", "negative", 0.6, domain.SourceInference},
		{"inbox", "unread", "12", 0.95, domain.SourceObservation},
	}
	var batch []domain.Belief
	for _, b := range beliefs {
		batch = append(batch, domain.Belief{
			ID:         uuid.New(),
			AgentID:    cfg.AgentID,
			Subject:    b.subject,
			Predicate:  b.predicate,
			Object:     b.object,
			Confidence: b.confidence,
			Source:     b.source,
			CreatedAt:  now,
			UpdatedAt:  now,
			DecayedAt:  now,
		})
	}
	if err := repo.SaveBeliefs(ctx, cfg.AgentID, batch); err != nil {
		log.Fatalf("Failed to save beliefs: %v", err)
	}
	for _, b := range batch {
		fmt.Printf("Created belief: %s %s %s (%.2f)\n", b.Subject, b.Predicate, b.Object, b.Confidence)
	}

	goals := []domain.Goal{
		{
			Type:        domain.GoalMaintain,
			Description: "keep pipeline coverage at 3x",
			Priority:    8,
			Target:      domain.GoalTarget{Subject: "pipeline", Predicate: "coverage", Comparator: domain.ComparatorGTE, Threshold: 3},
		},
		{
			Type:        domain.GoalAchieve,
			Description: "secure the acme renewal",
			Priority:    7,
			Target:      domain.GoalTarget{Subject: "acme", Predicate: "renewal_status", Value: "signed"},
		},
		{
			Type:        domain.GoalMaintain,
			Description: "keep the inbox under 5 unread",
			Priority:    4,
			Target:      domain.GoalTarget{Subject: "inbox", Predicate: "unread", Comparator: domain.ComparatorLTE, Threshold: 5},
		},
	}
	for i := range goals {
		g := &goals[i]
		g.ID = uuid.New()
		g.AgentID = cfg.AgentID
		g.Status = domain.GoalActive
		g.CreatedAt = now
		g.UpdatedAt = now
		if err := repo.SaveGoal(ctx, g); err != nil {
			log.Printf("Warning: Failed to create goal: %v", err)
			continue
		}
		fmt.Printf("Created goal [%s p%d]: %s\n", g.Type, g.Priority, g.Description)
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nStart the agent and inspect it with:")
	fmt.Printf("curl http://localhost:%d/v1/goals\n", config.ServerPort())
	fmt.Printf("curl 'http://localhost:%d/v1/beliefs?min_confidence=0.5'\n", config.ServerPort())
}
