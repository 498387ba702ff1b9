package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/gamemaster/pkg/memory"
	"github.com/MrWong99/gamemaster/pkg/provider/embeddings"
)

// SemanticIndexImpl is the [memory.SemanticIndex] implementation backed by a
// PostgreSQL snippets table with a pgvector HNSW index for fast approximate
// nearest-neighbour search. A semantic_collections registry table tracks
// which collections exist; collections are registered implicitly by the
// first Add.
//
// Embedding happens inside the index: Add and Query both run the configured
// [embeddings.Provider] over the supplied text.
//
// Obtain one via [Store.Index] rather than constructing directly.
// All methods are safe for concurrent use.
type SemanticIndexImpl struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// Exists implements [memory.SemanticIndex]. It reports whether the collection
// has been registered.
func (s *SemanticIndexImpl) Exists(ctx context.Context, collection string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM semantic_collections WHERE name = $1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, q, collection).Scan(&exists); err != nil {
		return false, fmt.Errorf("semantic index: exists: %w", err)
	}
	return exists, nil
}

// Query implements [memory.SemanticIndex]. It embeds text and returns up to
// limit snippets from the collection ordered by descending relevance, where
// relevance is 1 minus the cosine distance to the query vector.
//
// An absent collection simply yields no rows, so a conversation that has
// never indexed anything gets an empty result rather than an error.
func (s *SemanticIndexImpl) Query(ctx context.Context, collection, text string, limit int) ([]memory.Snippet, error) {
	if limit <= 0 {
		return []memory.Snippet{}, nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("semantic index: query: embed: %w", err)
	}

	const q = `
		SELECT id, content, 1 - (embedding <=> $1) AS score
		FROM   snippets
		WHERE  collection = $2
		ORDER  BY embedding <=> $1
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), collection, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic index: query: %w", err)
	}

	snippets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Snippet, error) {
		var sn memory.Snippet
		if err := row.Scan(&sn.ID, &sn.Content, &sn.Score); err != nil {
			return memory.Snippet{}, err
		}
		return sn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("semantic index: scan rows: %w", err)
	}
	if snippets == nil {
		snippets = []memory.Snippet{}
	}
	return snippets, nil
}

// Add implements [memory.SemanticIndex]. It embeds content, registers the
// collection when absent, and stores the snippet under a fresh UUID.
func (s *SemanticIndexImpl) Add(ctx context.Context, collection, content string) (string, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("semantic index: add: embed: %w", err)
	}

	id := uuid.NewString()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("semantic index: add: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const registerQ = `
		INSERT INTO semantic_collections (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING`
	if _, err := tx.Exec(ctx, registerQ, collection); err != nil {
		return "", fmt.Errorf("semantic index: add: register collection: %w", err)
	}

	const insertQ = `
		INSERT INTO snippets (id, collection, content, embedding)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insertQ, id, collection, content, pgvector.NewVector(vec)); err != nil {
		return "", fmt.Errorf("semantic index: add: insert snippet: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("semantic index: add: commit: %w", err)
	}
	return id, nil
}

// Delete implements [memory.SemanticIndex]. It removes the identified
// snippets from the collection; IDs that do not exist are ignored.
func (s *SemanticIndexImpl) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	const q = `DELETE FROM snippets WHERE collection = $1 AND id = ANY($2)`
	if _, err := s.pool.Exec(ctx, q, collection, ids); err != nil {
		return fmt.Errorf("semantic index: delete: %w", err)
	}
	return nil
}

// Drop implements [memory.SemanticIndex]. It unregisters the collection; the
// snippets table's ON DELETE CASCADE removes its documents.
func (s *SemanticIndexImpl) Drop(ctx context.Context, collection string) error {
	const q = `DELETE FROM semantic_collections WHERE name = $1`
	if _, err := s.pool.Exec(ctx, q, collection); err != nil {
		return fmt.Errorf("semantic index: drop: %w", err)
	}
	return nil
}
