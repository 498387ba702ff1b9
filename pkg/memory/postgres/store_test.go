package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/gamemaster/pkg/memory"
	"github.com/MrWong99/gamemaster/pkg/memory/postgres"
)

const testEmbeddingDim = 4

// testNamespace is a dash-stripped (user, conversation) UUID pair as produced
// by namespace derivation.
const testNamespace = "0b1f8a529c144d8eb1c06f2a9ed34c77f47ac10b58cc4372a5670e02b2c3d479"

// stubEmbedder is a deterministic embeddings.Provider for integration tests.
// Known texts map to canned vectors; everything else embeds to a fixed
// fallback so Add never fails.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0.5, 0.5, 0.5, 0.5}, nil
}

func (s *stubEmbedder) Dimensions() int { return testEmbeddingDim }

func (s *stubEmbedder) ModelID() string { return "stub-embed-v1" }

// testDSN returns the test database DSN from the environment, or skips the
// test if GAMEMASTER_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("GAMEMASTER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GAMEMASTER_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema and a
// deterministic stub embedder. It calls t.Cleanup to close the store when the
// test finishes.
func newTestStore(t *testing.T, embedder *stubEmbedder) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	// Use a bare pool to drop and recreate the schema.
	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	if embedder == nil {
		embedder = &stubEmbedder{}
	}
	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim, embedder)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// mustPool opens a pgxpool with pgvector types registered (needed for the
// HNSW index to not refuse our connection during dropSchema).
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate plus any turn table used
// by the tests, in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS snippets CASCADE",
		"DROP TABLE IF EXISTS semantic_collections CASCADE",
		"DROP TABLE IF EXISTS documents CASCADE",
		"DROP TABLE IF EXISTS chats CASCADE",
		"DROP TABLE IF EXISTS users CASCADE",
		`DROP TABLE IF EXISTS "` + testNamespace + `" CASCADE`,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Turn log
// ─────────────────────────────────────────────────────────────────────────────

func TestTurnLog_AppendAndRecent(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	log := store.Log()

	script := []struct {
		role    memory.Role
		content string
	}{
		{memory.RoleUser, "I approach the blacksmith cautiously."},
		{memory.RoleAgent, "The blacksmith looks up from his anvil."},
		{memory.RoleUser, "We need weapons for the upcoming battle."},
		{memory.RoleAgent, "He nods and gestures toward a rack of blades."},
	}
	for _, turn := range script {
		if err := log.Append(ctx, testNamespace, turn.role, turn.content); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := log.Recent(ctx, testNamespace, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent: got %d turns, want 3", len(got))
	}
	// Newest 3, oldest first.
	for i, want := range script[1:] {
		if got[i].Content != want.content {
			t.Errorf("turn %d: got %q, want %q", i, got[i].Content, want.content)
		}
		if got[i].Role != want.role {
			t.Errorf("turn %d: got role %q, want %q", i, got[i].Role, want.role)
		}
	}
	if !(got[0].Seq < got[1].Seq && got[1].Seq < got[2].Seq) {
		t.Errorf("sequence numbers not strictly increasing: %d %d %d", got[0].Seq, got[1].Seq, got[2].Seq)
	}
}

func TestTurnLog_Window(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	log := store.Log()

	for i := 0; i < 6; i++ {
		content := string(rune('a' + i))
		if err := log.Append(ctx, testNamespace, memory.RoleUser, content); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// Skip the newest 2, take the next 3 back: d, c, b → chronological b c d.
	got, err := log.Window(ctx, testNamespace, 2, 3)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("Window: got %d turns, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Content != want[i] {
			t.Errorf("turn %d: got %q, want %q", i, got[i].Content, want[i])
		}
	}

	// Window reaching past the start of the log is shortened.
	got, err = log.Window(ctx, testNamespace, 4, 10)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("shortened window: got %d turns, want 2", len(got))
	}

	// Window entirely past the start is empty.
	got, err = log.Window(ctx, testNamespace, 100, 10)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("out-of-range window: got %d turns, want 0", len(got))
	}
}

func TestTurnLog_MissingNamespaceReadsEmpty(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	log := store.Log()

	got, err := log.Recent(ctx, testNamespace, 20)
	if err != nil {
		t.Fatalf("Recent on missing namespace: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Recent on missing namespace: got %v, want empty non-nil slice", got)
	}

	all, err := log.All(ctx, testNamespace)
	if err != nil {
		t.Fatalf("All on missing namespace: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Errorf("All on missing namespace: got %v, want empty non-nil slice", all)
	}
}

func TestTurnLog_Drop(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	log := store.Log()

	if err := log.Append(ctx, testNamespace, memory.RoleUser, "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := log.Drop(ctx, testNamespace); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	got, err := log.All(ctx, testNamespace)
	if err != nil {
		t.Fatalf("All after Drop: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("All after Drop: got %d turns, want 0", len(got))
	}

	// Dropping again is not an error.
	if err := log.Drop(ctx, testNamespace); err != nil {
		t.Errorf("Drop of absent namespace: %v", err)
	}
}

func TestTurnLog_RejectsInvalidNamespace(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	err := store.Log().Append(ctx, `bad"; DROP TABLE users; --`, memory.RoleUser, "x")
	if err == nil {
		t.Fatal("expected error for non-hex namespace, got nil")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Semantic index
// ─────────────────────────────────────────────────────────────────────────────

func TestSemanticIndex_AddQueryDelete(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"the dragon guards the bridge": {1, 0, 0, 0},
		"the tavern serves cheap ale":  {0, 1, 0, 0},
		"dragon":                       {0.9, 0.1, 0, 0},
	}}
	store := newTestStore(t, embedder)
	ctx := context.Background()
	index := store.Index()

	exists, err := index.Exists(ctx, testNamespace)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("Exists before first Add: got true, want false")
	}

	dragonID, err := index.Add(ctx, testNamespace, "the dragon guards the bridge")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := index.Add(ctx, testNamespace, "the tavern serves cheap ale"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	exists, err = index.Exists(ctx, testNamespace)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("Exists after Add: got false, want true")
	}

	got, err := index.Query(ctx, testNamespace, "dragon", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query: got %d snippets, want 2", len(got))
	}
	if got[0].Content != "the dragon guards the bridge" {
		t.Errorf("top snippet: got %q, want the dragon line", got[0].Content)
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores not descending: %v then %v", got[0].Score, got[1].Score)
	}
	if got[0].Score < 0 || got[0].Score > 1 {
		t.Errorf("score out of range: %v", got[0].Score)
	}

	if err := index.Delete(ctx, testNamespace, []string{dragonID}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = index.Query(ctx, testNamespace, "dragon", 10)
	if err != nil {
		t.Fatalf("Query after Delete: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Query after Delete: got %d snippets, want 1", len(got))
	}
}

func TestSemanticIndex_QueryAbsentCollection(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	got, err := store.Index().Query(ctx, testNamespace, "anything", 10)
	if err != nil {
		t.Fatalf("Query on absent collection: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Query on absent collection: got %v, want empty non-nil slice", got)
	}
}

func TestSemanticIndex_Drop(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	index := store.Index()

	if _, err := index.Add(ctx, testNamespace, "some exchange"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := index.Drop(ctx, testNamespace); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	exists, err := index.Exists(ctx, testNamespace)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("Exists after Drop: got true, want false")
	}
	got, err := index.Query(ctx, testNamespace, "some exchange", 10)
	if err != nil {
		t.Fatalf("Query after Drop: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Query after Drop: got %d snippets, want 0", len(got))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Document catalog
// ─────────────────────────────────────────────────────────────────────────────

func TestDocuments_AddListRemove(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	docs := store.Documents()

	id, err := docs.Add(ctx, testNamespace, "The Fall of Karak", []string{"snip-1", "snip-2"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	list, err := docs.List(ctx, testNamespace)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List: got %d documents, want 1", len(list))
	}
	if list[0].ID != id || list[0].Title != "The Fall of Karak" {
		t.Errorf("listed document: got %+v", list[0])
	}
	if len(list[0].SnippetIDs) != 2 {
		t.Errorf("snippet IDs: got %v, want 2 entries", list[0].SnippetIDs)
	}

	removed, err := docs.Remove(ctx, testNamespace, id)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(removed.SnippetIDs) != 2 {
		t.Errorf("removed snippet IDs: got %v, want 2 entries", removed.SnippetIDs)
	}

	if _, err := docs.Remove(ctx, testNamespace, id); err != postgres.ErrDocumentNotFound {
		t.Errorf("Remove of absent document: got %v, want ErrDocumentNotFound", err)
	}

	list, err = docs.List(ctx, testNamespace)
	if err != nil {
		t.Fatalf("List after Remove: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("List after Remove: got %v, want empty non-nil slice", list)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Registry
// ─────────────────────────────────────────────────────────────────────────────

func TestRegistry_UsersAndChats(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()
	reg := store.Registry()

	user := postgres.User{
		ID:           "0b1f8a52-9c14-4d8e-b1c0-6f2a9ed34c77",
		Username:     "alice",
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
	}
	if err := reg.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := reg.UserByName(ctx, "alice")
	if err != nil {
		t.Fatalf("UserByName: %v", err)
	}
	if got == nil || got.ID != user.ID || got.PasswordHash != user.PasswordHash {
		t.Fatalf("UserByName: got %+v", got)
	}

	missing, err := reg.UserByName(ctx, "nobody")
	if err != nil {
		t.Fatalf("UserByName absent: %v", err)
	}
	if missing != nil {
		t.Errorf("UserByName absent: got %+v, want nil", missing)
	}

	chat := postgres.Chat{
		ID:     "f47ac10b-58cc-4372-a567-0e02b2c3d479",
		UserID: user.ID,
		Name:   "Curse of the Ember Vale",
	}
	if err := reg.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	chats, err := reg.ChatsByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("ChatsByUser: %v", err)
	}
	if len(chats) != 1 || chats[0].Name != chat.Name {
		t.Fatalf("ChatsByUser: got %+v", chats)
	}

	if err := reg.RenameChat(ctx, chat.ID, "Embers Rekindled"); err != nil {
		t.Fatalf("RenameChat: %v", err)
	}
	renamed, err := reg.ChatByID(ctx, chat.ID)
	if err != nil {
		t.Fatalf("ChatByID: %v", err)
	}
	if renamed == nil || renamed.Name != "Embers Rekindled" {
		t.Errorf("ChatByID after rename: got %+v", renamed)
	}

	if err := reg.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	// Chats cascade with the user.
	orphan, err := reg.ChatByID(ctx, chat.ID)
	if err != nil {
		t.Fatalf("ChatByID after DeleteUser: %v", err)
	}
	if orphan != nil {
		t.Errorf("chat survived user deletion: %+v", orphan)
	}
}
