package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/gamemaster/internal/observe"
	"github.com/MrWong99/gamemaster/pkg/ident"
	"github.com/MrWong99/gamemaster/pkg/memory"
	"github.com/MrWong99/gamemaster/pkg/memory/postgres"
	"github.com/MrWong99/gamemaster/pkg/provider/llm"
)

// ErrConversationNotFound is returned by Manager methods when the
// conversation does not exist or is not owned by the requesting user. The two
// cases are deliberately indistinguishable.
var ErrConversationNotFound = errors.New("chat: conversation not found")

// defaultWorld seeds every new conversation's world keyword list.
var defaultWorld = []string{"fantasy", "high magic"}

// Registry is the user/chat catalog the manager records conversations in.
// Implemented by [postgres.Registry].
type Registry interface {
	CreateChat(ctx context.Context, c postgres.Chat) error
	ChatByID(ctx context.Context, id string) (*postgres.Chat, error)
	ChatsByUser(ctx context.Context, userID string) ([]postgres.Chat, error)
	RenameChat(ctx context.Context, id, name string) error
	DeleteChat(ctx context.Context, id string) error
}

// Catalog is the lore document catalog. Implemented by
// [postgres.DocumentStore].
type Catalog interface {
	Add(ctx context.Context, namespace, title string, snippetIDs []string) (string, error)
	List(ctx context.Context, namespace string) ([]postgres.Document, error)
	Remove(ctx context.Context, namespace, id string) (postgres.Document, error)
	Drop(ctx context.Context, namespace string) error
}

// Manager owns the conversation lifecycle around the turn pipeline: creation,
// teardown across all four stores, world keywords, character sheets, and lore
// documents.
type Manager struct {
	stores   memory.Stores
	registry Registry
	catalog  Catalog
	llm      llm.Provider
	rules    string
}

// NewManager wires a Manager. rules is the static rule book text used for
// starting point proposals; it may be empty.
func NewManager(stores memory.Stores, registry Registry, catalog Catalog, provider llm.Provider, rules string) *Manager {
	return &Manager{
		stores:   stores,
		registry: registry,
		catalog:  catalog,
		llm:      provider,
		rules:    rules,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Conversation lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// Create registers a new conversation for the user and seeds its world
// keywords. The turn log and semantic collection are created lazily by the
// first turn.
func (m *Manager) Create(ctx context.Context, userID, name string) (*postgres.Chat, error) {
	if !ident.IsValid(userID) {
		return nil, ErrInvalidUser
	}

	chat := postgres.Chat{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
	}
	if err := m.registry.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("chat: create conversation: %w", err)
	}

	ns := ident.Namespace(userID, chat.ID)
	if err := m.writeWorld(ctx, ns, defaultWorld); err != nil {
		return nil, err
	}
	return &chat, nil
}

// List returns the user's conversations, oldest first.
func (m *Manager) List(ctx context.Context, userID string) ([]postgres.Chat, error) {
	if !ident.IsValid(userID) {
		return nil, ErrInvalidUser
	}
	chats, err := m.registry.ChatsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: list conversations: %w", err)
	}
	return chats, nil
}

// Rename changes a conversation's display name.
func (m *Manager) Rename(ctx context.Context, userID, conversationID, name string) error {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := m.registry.RenameChat(ctx, conversationID, name); err != nil {
		return fmt.Errorf("chat: rename conversation: %w", err)
	}
	return nil
}

// Delete tears a conversation down across every store: the registry row, the
// turn log, the semantic collection, the lore catalog, the sheet namespace,
// and all fact keys. Partial failures are joined so the caller sees
// everything that is left behind.
func (m *Manager) Delete(ctx context.Context, userID, conversationID string) error {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return err
	}

	ns := ident.Namespace(userID, conversationID)
	docNS := ident.DocNamespace(userID, conversationID)

	var errs []error
	if err := m.registry.DeleteChat(ctx, conversationID); err != nil {
		errs = append(errs, fmt.Errorf("registry row: %w", err))
	}
	if err := m.stores.Log.Drop(ctx, ns); err != nil {
		errs = append(errs, fmt.Errorf("turn log: %w", err))
	}
	if err := m.stores.Index.Drop(ctx, ns); err != nil {
		errs = append(errs, fmt.Errorf("semantic collection: %w", err))
	}
	if err := m.catalog.Drop(ctx, ns); err != nil {
		errs = append(errs, fmt.Errorf("lore catalog: %w", err))
	}
	if err := m.stores.Sheets.Drop(ctx, docNS); err != nil {
		errs = append(errs, fmt.Errorf("sheet namespace: %w", err))
	}
	for _, suffix := range []string{keyShortSummary, keyMediumSummary, keyLongSummary, keyWorld, keyActive} {
		if err := m.stores.Facts.Delete(ctx, ns+suffix); err != nil {
			errs = append(errs, fmt.Errorf("fact key %s: %w", suffix, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("chat: delete conversation: %w", err)
	}
	return nil
}

// History returns the conversation's full turn log, oldest first.
func (m *Manager) History(ctx context.Context, userID, conversationID string) ([]memory.Turn, error) {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	ns := ident.Namespace(userID, conversationID)
	turns, err := m.stores.Log.All(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("chat: read history: %w", err)
	}
	return turns, nil
}

// ActiveState reports whether the conversation is currently processing a turn.
func (m *Manager) ActiveState(ctx context.Context, userID, conversationID string) (bool, error) {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return false, err
	}
	ns := ident.Namespace(userID, conversationID)
	v, err := m.stores.Facts.Get(ctx, ns+keyActive)
	if err != nil {
		return false, fmt.Errorf("chat: read activity flag: %w", err)
	}
	return v == "true", nil
}

// ─────────────────────────────────────────────────────────────────────────────
// World keywords
// ─────────────────────────────────────────────────────────────────────────────

// World returns the conversation's world keyword list.
func (m *Manager) World(ctx context.Context, userID, conversationID string) ([]string, error) {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	ns := ident.Namespace(userID, conversationID)

	raw, err := m.stores.Facts.Get(ctx, ns+keyWorld)
	if err != nil {
		return nil, fmt.Errorf("chat: read world keywords: %w", err)
	}
	if raw == "" {
		return []string{}, nil
	}
	var world []string
	if err := json.Unmarshal([]byte(raw), &world); err != nil {
		return nil, fmt.Errorf("chat: decode world keywords: %w", err)
	}
	return world, nil
}

// UpdateWorld overwrites the world keyword list. Keywords are trimmed and
// deduplicated with their first-seen order preserved; the stored list is
// fully replaced, never merged.
func (m *Manager) UpdateWorld(ctx context.Context, userID, conversationID string, keywords []string) error {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return err
	}
	ns := ident.Namespace(userID, conversationID)
	return m.writeWorld(ctx, ns, normalizeKeywords(keywords))
}

func (m *Manager) writeWorld(ctx context.Context, namespace string, keywords []string) error {
	encoded, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("chat: encode world keywords: %w", err)
	}
	if err := m.stores.Facts.Set(ctx, namespace+keyWorld, string(encoded)); err != nil {
		return fmt.Errorf("chat: store world keywords: %w", err)
	}
	return nil
}

// normalizeKeywords trims every keyword and drops empties and duplicates,
// keeping the first occurrence's position.
func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Character sheets
// ─────────────────────────────────────────────────────────────────────────────

// Sheets returns all character sheets of the conversation as raw JSON.
func (m *Manager) Sheets(ctx context.Context, userID, conversationID string) ([][]byte, error) {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	docNS := ident.DocNamespace(userID, conversationID)
	sheets, err := m.stores.Sheets.List(ctx, docNS)
	if err != nil {
		return nil, fmt.Errorf("chat: list sheets: %w", err)
	}
	return sheets, nil
}

// UpsertSheet creates a sheet (empty id) or replaces an existing one and
// returns the sheet's ID.
func (m *Manager) UpsertSheet(ctx context.Context, userID, conversationID, id string, doc []byte) (string, error) {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return "", err
	}
	docNS := ident.DocNamespace(userID, conversationID)
	sheetID, err := m.stores.Sheets.Upsert(ctx, docNS, id, doc)
	if err != nil {
		return "", fmt.Errorf("chat: upsert sheet: %w", err)
	}
	return sheetID, nil
}

// RemoveSheet deletes one character sheet.
func (m *Manager) RemoveSheet(ctx context.Context, userID, conversationID, id string) error {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return err
	}
	docNS := ident.DocNamespace(userID, conversationID)
	if err := m.stores.Sheets.Remove(ctx, docNS, id); err != nil {
		return fmt.Errorf("chat: remove sheet: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lore documents
// ─────────────────────────────────────────────────────────────────────────────

// AddLore chunks a lore document into the semantic index and records it in
// the catalog so it can be listed and removed later. Returns the catalog ID.
func (m *Manager) AddLore(ctx context.Context, userID, conversationID, title, content string) (string, error) {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("chat: lore content must not be empty")
	}
	ns := ident.Namespace(userID, conversationID)

	chunks := chunkLore(content)
	snippetIDs := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		id, err := m.stores.Index.Add(ctx, ns, chunk)
		if err != nil {
			// Best effort rollback of what was already indexed.
			if len(snippetIDs) > 0 {
				if delErr := m.stores.Index.Delete(ctx, ns, snippetIDs); delErr != nil {
					observe.Logger(ctx).Warn("lore rollback failed", "namespace", ns, "err", delErr)
				}
			}
			return "", fmt.Errorf("chat: index lore chunk: %w", err)
		}
		snippetIDs = append(snippetIDs, id)
	}

	docID, err := m.catalog.Add(ctx, ns, title, snippetIDs)
	if err != nil {
		return "", fmt.Errorf("chat: record lore document: %w", err)
	}
	return docID, nil
}

// Lore lists the conversation's lore documents, oldest first.
func (m *Manager) Lore(ctx context.Context, userID, conversationID string) ([]postgres.Document, error) {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	ns := ident.Namespace(userID, conversationID)
	docs, err := m.catalog.List(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("chat: list lore documents: %w", err)
	}
	return docs, nil
}

// RemoveLore deletes a lore document from the catalog and evicts its chunks
// from the semantic index.
func (m *Manager) RemoveLore(ctx context.Context, userID, conversationID, id string) error {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return err
	}
	ns := ident.Namespace(userID, conversationID)

	doc, err := m.catalog.Remove(ctx, ns, id)
	if err != nil {
		return fmt.Errorf("chat: remove lore document: %w", err)
	}
	if len(doc.SnippetIDs) > 0 {
		if err := m.stores.Index.Delete(ctx, ns, doc.SnippetIDs); err != nil {
			return fmt.Errorf("chat: evict lore snippets: %w", err)
		}
	}
	return nil
}

// chunkLore splits a lore document into indexable chunks on blank lines.
// Single-paragraph documents become one chunk.
func chunkLore(content string) []string {
	paragraphs := strings.Split(content, "\n\n")
	chunks := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p != "" {
			chunks = append(chunks, p)
		}
	}
	return chunks
}

// ─────────────────────────────────────────────────────────────────────────────
// Starting point proposal
// ─────────────────────────────────────────────────────────────────────────────

// StartingPoint describes the scene ingredients a starting point proposal is
// built from. All fields are optional.
type StartingPoint struct {
	Character string
	Location  string
	Purpose   string
	Weather   string
	Mood      string
}

// ProposeStartingPoint asks the model for an opening scene built from the
// given ingredients. The proposal is returned to the caller only; nothing is
// persisted until the player acts on it.
func (m *Manager) ProposeStartingPoint(ctx context.Context, userID, conversationID string, sp StartingPoint) (string, error) {
	if _, err := m.owned(ctx, userID, conversationID); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Please propose an opening scene for a new role-play story as a single narrated paragraph.")
	for _, part := range []struct{ label, value string }{
		{"The main character is", sp.Character},
		{"The story begins at", sp.Location},
		{"The character's current goal is", sp.Purpose},
		{"The weather is", sp.Weather},
		{"The overall mood is", sp.Mood},
	} {
		if strings.TrimSpace(part.value) != "" {
			b.WriteString(" ")
			b.WriteString(part.label)
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(part.value))
			b.WriteString(".")
		}
	}

	resp, err := m.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: m.rules,
		Messages:     []llm.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return "", fmt.Errorf("chat: starting point proposal: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return "", fmt.Errorf("chat: starting point proposal: empty reply")
	}
	return CleanReply(resp.Content), nil
}

// owned loads the conversation and verifies the user owns it. Both "does not
// exist" and "not yours" come back as [ErrConversationNotFound].
func (m *Manager) owned(ctx context.Context, userID, conversationID string) (*postgres.Chat, error) {
	if !ident.IsValid(userID) {
		return nil, ErrInvalidUser
	}
	if !ident.IsValid(conversationID) {
		return nil, ErrInvalidConversation
	}
	chat, err := m.registry.ChatByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("chat: look up conversation: %w", err)
	}
	if chat == nil || chat.UserID != userID {
		return nil, ErrConversationNotFound
	}
	return chat, nil
}
