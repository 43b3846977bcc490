package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/wolfman30/carwash-platform/internal/database"
)

// ProcessedStore records provider callbacks that were already applied. Claims
// made inside a database.TxRunner transaction roll back with it.
type ProcessedStore interface {
	// Claim inserts the key and reports false when it was already present.
	Claim(ctx context.Context, provider, correlationID string) (bool, error)
}

type PgProcessedStore struct {
	pool database.Pool
}

func NewPgProcessedStore(pool database.Pool) *PgProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &PgProcessedStore{pool: pool}
}

func (s *PgProcessedStore) Claim(ctx context.Context, provider, correlationID string) (bool, error) {
	query := `
		INSERT INTO processed_callbacks (provider, correlation_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := database.Conn(ctx, s.pool).Exec(ctx, query, provider, correlationID)
	if err != nil {
		return false, fmt.Errorf("events: claim processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MemoryProcessedStore backs local runs without Postgres.
type MemoryProcessedStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryProcessedStore() *MemoryProcessedStore {
	return &MemoryProcessedStore{seen: make(map[string]struct{})}
}

func (s *MemoryProcessedStore) Claim(_ context.Context, provider, correlationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := provider + "|" + correlationID
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}
