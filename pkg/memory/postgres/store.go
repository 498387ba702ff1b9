package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/gamemaster/pkg/memory"
	"github.com/MrWong99/gamemaster/pkg/provider/embeddings"
)

// Compile-time interface checks.
var (
	_ memory.TurnLog       = (*TurnLogImpl)(nil)
	_ memory.SemanticIndex = (*SemanticIndexImpl)(nil)
)

// Store is the central PostgreSQL-backed store for Gamemaster. It holds a
// single [pgxpool.Pool] and exposes four sub-stores:
//
//   - [Store.Log] returns a [TurnLogImpl] implementing [memory.TurnLog]
//   - [Store.Index] returns a [SemanticIndexImpl] implementing [memory.SemanticIndex]
//   - [Store.Documents] returns the lore document catalog
//   - [Store.Registry] returns the user/conversation registry
//
// All operations are safe for concurrent use.
type Store struct {
	pool      *pgxpool.Pool
	log       *TurnLogImpl
	semantic  *SemanticIndexImpl
	documents *DocumentStore
	registry  *Registry
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all shared tables and extensions exist.
//
// embeddingDimensions must match the output dimension of embedder (e.g., 1536
// for OpenAI text-embedding-3-small). Changing this value after the first
// migration requires a manual schema change.
//
// embedder is consulted by the semantic index on every Add and Query; it must
// not be nil.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int, embedder embeddings.Provider) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("postgres store: embedder must not be nil")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:      pool,
		log:       &TurnLogImpl{pool: pool},
		semantic:  &SemanticIndexImpl{pool: pool, embedder: embedder},
		documents: &DocumentStore{pool: pool},
		registry:  &Registry{pool: pool},
	}, nil
}

// Log returns the turn log implementation which satisfies [memory.TurnLog].
func (s *Store) Log() *TurnLogImpl { return s.log }

// Index returns the semantic index implementation which satisfies
// [memory.SemanticIndex].
func (s *Store) Index() *SemanticIndexImpl { return s.semantic }

// Documents returns the lore document catalog.
func (s *Store) Documents() *DocumentStore { return s.documents }

// Registry returns the user/conversation registry.
func (s *Store) Registry() *Registry { return s.registry }

// Ping verifies pool connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
