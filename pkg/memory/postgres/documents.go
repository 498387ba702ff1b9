package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDocumentNotFound is returned by [DocumentStore.Remove] when no
// document with the given ID exists in the namespace.
var ErrDocumentNotFound = errors.New("postgres: document not found")

// Document is a catalog entry for one uploaded lore document. The document's
// text lives chunked in the semantic index; the catalog row remembers which
// snippet IDs belong to it so the whole document can be removed again.
type Document struct {
	// ID is the catalog identifier of the document.
	ID string

	// Title is the display name the document was uploaded under.
	Title string

	// SnippetIDs are the semantic index documents holding the content chunks.
	SnippetIDs []string

	// CreatedAt is when the document was added.
	CreatedAt time.Time
}

// DocumentStore is the catalog of lore documents attached to a
// conversation namespace. It tracks titles and snippet memberships; the
// content itself is stored and searched through [SemanticIndexImpl].
//
// Obtain one via [Store.Documents] rather than constructing directly.
// All methods are safe for concurrent use.
type DocumentStore struct {
	pool *pgxpool.Pool
}

// Add records a new document in the namespace and returns its catalog ID.
// snippetIDs are the semantic index entries the document's content was
// chunked into.
func (d *DocumentStore) Add(ctx context.Context, namespace, title string, snippetIDs []string) (string, error) {
	id := uuid.NewString()
	if snippetIDs == nil {
		snippetIDs = []string{}
	}

	const q = `
		INSERT INTO documents (id, namespace, title, snippet_ids)
		VALUES ($1, $2, $3, $4)`
	if _, err := d.pool.Exec(ctx, q, id, namespace, title, snippetIDs); err != nil {
		return "", fmt.Errorf("document store: add: %w", err)
	}
	return id, nil
}

// List returns all documents in the namespace, oldest first.
// Returns an empty (non-nil) slice when the namespace has no documents.
func (d *DocumentStore) List(ctx context.Context, namespace string) ([]Document, error) {
	const q = `
		SELECT id, title, snippet_ids, created_at
		FROM   documents
		WHERE  namespace = $1
		ORDER  BY created_at`

	rows, err := d.pool.Query(ctx, q, namespace)
	if err != nil {
		return nil, fmt.Errorf("document store: list: %w", err)
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Document, error) {
		var doc Document
		if err := row.Scan(&doc.ID, &doc.Title, &doc.SnippetIDs, &doc.CreatedAt); err != nil {
			return Document{}, err
		}
		return doc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("document store: scan rows: %w", err)
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// Remove deletes the document from the catalog and returns the removed entry
// so the caller can evict its snippets from the semantic index. Returns
// [ErrDocumentNotFound] when the document does not exist in the namespace.
func (d *DocumentStore) Remove(ctx context.Context, namespace, id string) (Document, error) {
	const q = `
		DELETE FROM documents
		WHERE  namespace = $1 AND id = $2
		RETURNING id, title, snippet_ids, created_at`

	var doc Document
	err := d.pool.QueryRow(ctx, q, namespace, id).
		Scan(&doc.ID, &doc.Title, &doc.SnippetIDs, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("document store: remove: %w", err)
	}
	return doc, nil
}

// Drop deletes every catalog entry in the namespace. Snippet cleanup is the
// caller's concern: dropping the semantic collection removes the content.
func (d *DocumentStore) Drop(ctx context.Context, namespace string) error {
	const q = `DELETE FROM documents WHERE namespace = $1`
	if _, err := d.pool.Exec(ctx, q, namespace); err != nil {
		return fmt.Errorf("document store: drop: %w", err)
	}
	return nil
}
