// Package memory defines the four-facet context store used by the Gamemaster
// turn pipeline.
//
// Each facet is backed by a different external service but exposed behind one
// small interface so the orchestrator never knows which store backs which fact:
//
//   - [FactStore]: key-value facts — rolling summaries, world keywords, and
//     the per-conversation activity flag.
//   - [TurnLog]: the ordered, append-only message log. The log is the source
//     of truth for conversation history; every other facet holds derived,
//     rebuildable state.
//   - [SemanticIndex]: embedding-based similarity search over past exchanges.
//   - [SheetStore]: opaque character-sheet documents, read-only for the turn
//     pipeline.
//
// All interfaces are public so that external packages can supply alternative
// backends (Redis, PostgreSQL/pgvector, MongoDB, in-memory, …) without
// depending on gamemaster internals.
//
// Every implementation must be safe for concurrent use.
package memory

import "context"

// Role identifies who produced a logged turn.
type Role string

const (
	// RoleUser marks a turn written by the player.
	RoleUser Role = "user"

	// RoleAgent marks a turn written by the gamemaster model.
	RoleAgent Role = "agent"
)

// Turn is one logged message in a conversation's history. Turns are immutable
// once written; Seq is assigned by the store and is strictly increasing within
// a namespace.
type Turn struct {
	// Seq is the store-assigned, monotonically increasing sequence number.
	Seq int64

	// Role is who produced the turn.
	Role Role

	// Content is the raw message text.
	Content string
}

// Snippet is a transient result of semantic search over a conversation's
// indexed exchanges. Snippets are never persisted by callers; they exist only
// for the duration of one orchestration cycle.
type Snippet struct {
	// ID identifies the indexed document the snippet came from.
	ID string

	// Content is the retrieved exchange text.
	Content string

	// Score is the relevance score in [0, 1]; higher is more similar.
	Score float64
}

// FactStore is the key-value facet. It holds small per-conversation strings:
// the three rolling summaries, the JSON-encoded world keyword list, and the
// activity flag.
//
// Absent keys are not errors: Get returns "" for a missing key so that a
// brand-new conversation reads as empty summaries and an unset flag.
type FactStore interface {
	// Get returns the value stored under key, or "" when the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// SetIfAbsent atomically stores value under key only when the key is
	// currently unset, and reports whether the write happened. This is the
	// check-and-set primitive behind single-flight turn execution.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// TurnLog is the ordered message log facet. Namespaces are created lazily on
// first write; reading a namespace that was never written returns empty
// results rather than an error.
type TurnLog interface {
	// Append writes one turn to the namespace's log, creating the log if it
	// does not exist yet. The sequence number is assigned by the store.
	Append(ctx context.Context, namespace string, role Role, content string) error

	// Recent returns the newest limit turns, ordered oldest-first.
	// Returns an empty (non-nil) slice when the log is empty or absent.
	Recent(ctx context.Context, namespace string, limit int) ([]Turn, error)

	// Window returns count turns starting offset turns back from the newest,
	// ordered oldest-first. A window that reaches past the start of the log
	// is shortened; a window entirely past it is empty. This feeds the
	// summarization cascade.
	Window(ctx context.Context, namespace string, offset, count int) ([]Turn, error)

	// All returns every turn in the namespace, ordered oldest-first.
	All(ctx context.Context, namespace string) ([]Turn, error)

	// Drop deletes the namespace's log entirely. Dropping an absent namespace
	// is not an error.
	Drop(ctx context.Context, namespace string) error
}

// SemanticIndex is the similarity-search facet. One collection exists per
// conversation namespace; collections are created implicitly by the first Add.
//
// Embedding happens inside the implementation: callers pass raw text and the
// index consults its configured embeddings provider.
type SemanticIndex interface {
	// Exists reports whether the collection has been created.
	Exists(ctx context.Context, collection string) (bool, error)

	// Query embeds text and returns up to limit snippets ordered by
	// descending relevance. Querying an absent collection returns an empty
	// (non-nil) slice.
	Query(ctx context.Context, collection, text string, limit int) ([]Snippet, error)

	// Add embeds content and stores it in the collection, creating the
	// collection when absent. Returns the new document's ID.
	Add(ctx context.Context, collection, content string) (string, error)

	// Delete removes the identified documents. Absent IDs are ignored.
	Delete(ctx context.Context, collection string, ids []string) error

	// Drop removes the collection and all its documents. Dropping an absent
	// collection is not an error.
	Drop(ctx context.Context, collection string) error
}

// SheetStore is the document facet holding character sheets. Sheets are
// opaque JSON payloads; the turn pipeline forwards them into prompts but
// never inspects their structure.
type SheetStore interface {
	// List returns all sheets in the namespace as raw JSON documents, each
	// carrying its store-assigned "_id" field. An absent namespace yields an
	// empty (non-nil) slice.
	List(ctx context.Context, namespace string) ([][]byte, error)

	// Upsert inserts doc as a new sheet, or replaces the sheet identified by
	// id when id is non-empty. Returns the sheet's ID.
	Upsert(ctx context.Context, namespace, id string, doc []byte) (string, error)

	// Remove deletes the sheet identified by id. Removing an absent sheet is
	// not an error.
	Remove(ctx context.Context, namespace, id string) error

	// Drop deletes the namespace and every sheet in it.
	Drop(ctx context.Context, namespace string) error
}

// Stores bundles one implementation of each facet. It is assembled once at
// process start and handed to the orchestrator; there is no ambient global
// store state.
type Stores struct {
	Facts  FactStore
	Log    TurnLog
	Index  SemanticIndex
	Sheets SheetStore
}
