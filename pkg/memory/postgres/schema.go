// Package postgres provides the PostgreSQL-backed storage for Gamemaster: the
// per-conversation turn logs, the pgvector semantic index, the lore document
// catalog, and the user/conversation registry.
//
// All parts share a single [pgxpool.Pool] connection pool. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536, embedder)
//	if err != nil { … }
//
//	// turn log
//	_ = store.Log().Append(ctx, namespace, memory.RoleUser, "I open the door.")
//
//	// semantic index
//	snippets, _ := store.Index().Query(ctx, namespace, "the locked door", 10)
//
//	// registry
//	chats, _ := store.Registry().ChatsByUser(ctx, userID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Registry DDL — users and conversations
// ─────────────────────────────────────────────────────────────────────────────

const ddlRegistry = `
CREATE TABLE IF NOT EXISTS users (
    id             TEXT         PRIMARY KEY,
    username       TEXT         NOT NULL UNIQUE,
    password_hash  TEXT         NOT NULL,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chats (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    name        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chats_user_id
    ON chats (user_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// Document catalog DDL — lore documents
// ─────────────────────────────────────────────────────────────────────────────

const ddlDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT         PRIMARY KEY,
    namespace    TEXT         NOT NULL,
    title        TEXT         NOT NULL,
    snippet_ids  TEXT[]       NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_namespace
    ON documents (namespace);
`

// ddlSemantic returns the semantic index DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlSemantic(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS semantic_collections (
    name        TEXT         PRIMARY KEY,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS snippets (
    id          TEXT  PRIMARY KEY,
    collection  TEXT  NOT NULL REFERENCES semantic_collections (name) ON DELETE CASCADE,
    content     TEXT  NOT NULL,
    embedding   vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_snippets_collection
    ON snippets (collection);

CREATE INDEX IF NOT EXISTS idx_snippets_embedding
    ON snippets USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all shared database tables and extensions exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS)
// and safe to call on every application start.
//
// Per-conversation turn tables are not part of the migration; [TurnLogImpl]
// creates them lazily on first append.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlRegistry,
		ddlSemantic(embeddingDimensions),
		ddlDocuments,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
