package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/gamemaster/pkg/ident"
	"github.com/MrWong99/gamemaster/pkg/memory"
	memmock "github.com/MrWong99/gamemaster/pkg/memory/mock"
	"github.com/MrWong99/gamemaster/pkg/provider/llm"
	llmmock "github.com/MrWong99/gamemaster/pkg/provider/llm/mock"
)

const (
	testUserID = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	testConvID = "6ba7b811-9dad-11d1-80b4-00c04fd430c8"
)

// orchFixture bundles the mocks behind a fresh orchestrator.
type orchFixture struct {
	facts    *memmock.FactStore
	log      *memmock.TurnLog
	index    *memmock.SemanticIndex
	sheets   *memmock.SheetStore
	provider *llmmock.Provider
	queue    *TaskQueue
	orch     *Orchestrator
}

func newOrchFixture(t *testing.T, opts ...OrchestratorOption) *orchFixture {
	t.Helper()
	f := &orchFixture{
		facts:    &memmock.FactStore{},
		log:      &memmock.TurnLog{},
		index:    &memmock.SemanticIndex{},
		sheets:   &memmock.SheetStore{},
		provider: &llmmock.Provider{},
		queue:    NewTaskQueue(16),
	}
	stores := memory.Stores{Facts: f.facts, Log: f.log, Index: f.index, Sheets: f.sheets}
	f.orch = NewOrchestrator(stores, f.provider, f.queue, opts...)
	return f
}

func (f *orchFixture) namespace() string {
	return ident.Namespace(testUserID, testConvID)
}

// drain waits for all deferred work to finish.
func (f *orchFixture) drain() {
	f.queue.Close()
}

func TestAct_Validation(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		conv    string
		action  string
		wantErr error
	}{
		{"invalid user", "not-a-uuid", testConvID, "hello", ErrInvalidUser},
		{"invalid conversation", testUserID, "nope", "hello", ErrInvalidConversation},
		{"empty action", testUserID, testConvID, "   ", ErrEmptyAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrchFixture(t)
			defer f.drain()

			_, err := f.orch.Act(context.Background(), tt.user, tt.conv, tt.action)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got error %v, want %v", err, tt.wantErr)
			}
			if len(f.provider.CompleteCalls) != 0 {
				t.Error("model must not be called for invalid input")
			}
			if got := f.facts.CallCount("SetIfAbsent"); got != 0 {
				t.Errorf("activity flag touched for invalid input (%d calls)", got)
			}
		})
	}
}

func TestAct_RejectsActiveConversation(t *testing.T) {
	f := newOrchFixture(t)
	defer f.drain()
	f.facts.Seed(f.namespace()+keyActive, "true")

	_, err := f.orch.Act(context.Background(), testUserID, testConvID, "I look around.")
	if !errors.Is(err, ErrConversationActive) {
		t.Fatalf("got error %v, want ErrConversationActive", err)
	}
	if len(f.provider.CompleteCalls) != 0 {
		t.Error("model must not be called while the conversation is active")
	}
	// The rejected request must not clear the other turn's flag.
	f.drain()
	if got := f.facts.Value(f.namespace() + keyActive); got != "true" {
		t.Errorf("activity flag of the in-flight turn was cleared: %q", got)
	}
}

// blockingProvider parks Complete until released, so a second request can be
// issued while the first is mid-flight.
type blockingProvider struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingProvider) Complete(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.once.Do(func() { close(p.entered) })
	select {
	case <-p.release:
		return &llm.CompletionResponse{Content: "done"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *blockingProvider) CountTokens([]llm.Message) (int, error) { return 0, nil }

func (p *blockingProvider) Capabilities() llm.ModelCapabilities { return llm.ModelCapabilities{} }

func TestAct_SingleFlightUnderConcurrency(t *testing.T) {
	provider := &blockingProvider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	facts := &memmock.FactStore{}
	stores := memory.Stores{
		Facts:  facts,
		Log:    &memmock.TurnLog{},
		Index:  &memmock.SemanticIndex{},
		Sheets: &memmock.SheetStore{},
	}
	queue := NewTaskQueue(16)
	orch := NewOrchestrator(stores, provider, queue)

	firstDone := make(chan error, 1)
	go func() {
		_, err := orch.Act(context.Background(), testUserID, testConvID, "I draw my sword.")
		firstDone <- err
	}()
	<-provider.entered

	_, err := orch.Act(context.Background(), testUserID, testConvID, "I draw my sword.")
	if !errors.Is(err, ErrConversationActive) {
		t.Errorf("concurrent request got %v, want ErrConversationActive", err)
	}

	close(provider.release)
	if err := <-firstDone; err != nil {
		t.Errorf("first request failed: %v", err)
	}
	queue.Close()

	ns := ident.Namespace(testUserID, testConvID)
	if got := facts.Value(ns + keyActive); got != "" {
		t.Errorf("activity flag not released after the turn: %q", got)
	}
}

func TestAct_HappyPath(t *testing.T) {
	f := newOrchFixture(t,
		WithRules("Narrate fairly."),
		WithSheetSchema([]byte(`{"type":"object"}`)),
	)
	ns := f.namespace()

	f.facts.Seed(ns+keyShortSummary, "Recently: tavern brawl.")
	f.facts.Seed(ns+keyMediumSummary, "Earlier: the party met.")
	f.facts.Seed(ns+keyLongSummary, "Long ago: the kingdom fell.")
	f.facts.Seed(ns+keyWorld, `["fantasy","high magic"]`)
	f.sheets.ListResult = [][]byte{[]byte(`{"name":"Anja"}`)}
	f.log.RecentResult = []memory.Turn{
		{Role: memory.RoleUser, Content: "I enter the tavern."},
		{Role: memory.RoleAgent, Content: "The room falls silent."},
	}
	f.index.ExistsResult = true
	f.index.QueryResult = []memory.Snippet{{Content: "The innkeeper hates strangers."}}
	f.provider.CompleteResponse = &llm.CompletionResponse{
		Content: "<think>plan</think> The innkeeper glares at you.",
	}

	reply, err := f.orch.Act(context.Background(), testUserID, testConvID, "I order an ale.")
	if err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if reply != "The innkeeper glares at you." {
		t.Errorf("reply = %q, want cleaned model output", reply)
	}

	if len(f.provider.CompleteCalls) != 1 {
		t.Fatalf("expected 1 model call before drain, got %d", len(f.provider.CompleteCalls))
	}
	req := f.provider.CompleteCalls[0].Req
	for _, want := range []string{
		"Narrate fairly.",
		`{"name":"Anja"}`,
		`{"type":"object"}`,
		"fantasy, high magic",
		"Recently: tavern brawl.",
		"Earlier: the party met.",
		"Long ago: the kingdom fell.",
		"- The innkeeper hates strangers.",
	} {
		if !strings.Contains(req.SystemPrompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, req.SystemPrompt)
		}
	}

	wantMessages := []llm.Message{
		{Role: "user", Content: "I enter the tavern."},
		{Role: "assistant", Content: "The room falls silent."},
		{Role: "user", Content: "I order an ale."},
	}
	if len(req.Messages) != len(wantMessages) {
		t.Fatalf("got %d messages, want %d", len(req.Messages), len(wantMessages))
	}
	for i, want := range wantMessages {
		if req.Messages[i] != want {
			t.Errorf("message %d = %+v, want %+v", i, req.Messages[i], want)
		}
	}

	// The retrieval query combines the newest logged turn with the new action.
	var queried bool
	for _, c := range f.index.Calls() {
		if c.Method == "Query" {
			queried = true
			if got := c.Args[1].(string); got != "The room falls silent.\nI order an ale." {
				t.Errorf("retrieval query = %q", got)
			}
		}
	}
	if !queried {
		t.Error("semantic index was not queried")
	}

	f.drain()

	// Deferred persistence: user turn then agent turn, then the exchange is
	// indexed and the flag released.
	var appends []memmock.Call
	for _, c := range f.log.Calls() {
		if c.Method == "Append" {
			appends = append(appends, c)
		}
	}
	if len(appends) != 2 {
		t.Fatalf("expected 2 appended turns, got %d", len(appends))
	}
	if role := appends[0].Args[1].(memory.Role); role != memory.RoleUser {
		t.Errorf("first appended turn role = %v, want user", role)
	}
	if content := appends[0].Args[2].(string); content != "I order an ale." {
		t.Errorf("user turn content = %q", content)
	}
	if role := appends[1].Args[1].(memory.Role); role != memory.RoleAgent {
		t.Errorf("second appended turn role = %v, want agent", role)
	}
	if content := appends[1].Args[2].(string); content != "The innkeeper glares at you." {
		t.Errorf("agent turn content = %q", content)
	}

	var indexed string
	for _, c := range f.index.Calls() {
		if c.Method == "Add" {
			indexed = c.Args[1].(string)
		}
	}
	want := "The room falls silent.\n\nI order an ale.\n\nThe innkeeper glares at you."
	if indexed != want {
		t.Errorf("indexed exchange = %q, want %q", indexed, want)
	}

	if got := f.facts.Value(ns + keyActive); got != "" {
		t.Errorf("activity flag not released: %q", got)
	}
}

func TestAct_ModelFailureLeavesLogUntouched(t *testing.T) {
	f := newOrchFixture(t)
	f.provider.CompleteErr = errors.New("backend down")

	_, err := f.orch.Act(context.Background(), testUserID, testConvID, "I attack.")
	if err == nil {
		t.Fatal("expected error from failed model call")
	}
	f.drain()

	if got := f.log.CallCount("Append"); got != 0 {
		t.Errorf("failed turn must not persist anything, got %d appends", got)
	}
	if got := f.index.CallCount("Add"); got != 0 {
		t.Errorf("failed turn must not index anything, got %d adds", got)
	}
	if got := f.facts.Value(f.namespace() + keyActive); got != "" {
		t.Errorf("activity flag not released after failure: %q", got)
	}
}

func TestAct_EmptyModelReply(t *testing.T) {
	f := newOrchFixture(t)
	f.provider.CompleteResponse = &llm.CompletionResponse{Content: ""}

	_, err := f.orch.Act(context.Background(), testUserID, testConvID, "I attack.")
	if err == nil {
		t.Fatal("expected error for empty model reply")
	}
	f.drain()

	if got := f.facts.Value(f.namespace() + keyActive); got != "" {
		t.Errorf("activity flag not released: %q", got)
	}
}

func TestAct_GatherFailureReleasesFlag(t *testing.T) {
	f := newOrchFixture(t)
	f.log.RecentErr = errors.New("db gone")
	f.provider.CompleteResponse = &llm.CompletionResponse{Content: "unused"}

	_, err := f.orch.Act(context.Background(), testUserID, testConvID, "I attack.")
	if err == nil {
		t.Fatal("expected error from failed context gather")
	}
	f.drain()

	if len(f.provider.CompleteCalls) != 0 {
		t.Error("model must not be called when the gather fails")
	}
	if got := f.facts.Value(f.namespace() + keyActive); got != "" {
		t.Errorf("activity flag not released: %q", got)
	}
}

func TestAct_CorruptWorldKeywordsDegrade(t *testing.T) {
	f := newOrchFixture(t)
	f.facts.Seed(f.namespace()+keyWorld, "{not json")
	f.provider.CompleteResponse = &llm.CompletionResponse{Content: "A reply."}

	reply, err := f.orch.Act(context.Background(), testUserID, testConvID, "I look around.")
	if err != nil {
		t.Fatalf("corrupt world keywords must not fail the turn: %v", err)
	}
	if reply != "A reply." {
		t.Errorf("reply = %q", reply)
	}
	req := f.provider.CompleteCalls[0].Req
	if strings.Contains(req.SystemPrompt, "The world of this story") {
		t.Errorf("world section emitted despite corrupt keywords:\n%s", req.SystemPrompt)
	}
	f.drain()
}

func TestAct_SheetReadFailureDegrades(t *testing.T) {
	f := newOrchFixture(t)
	f.sheets.ListErr = errors.New("mongo down")
	f.provider.CompleteResponse = &llm.CompletionResponse{Content: "A reply."}

	if _, err := f.orch.Act(context.Background(), testUserID, testConvID, "I look around."); err != nil {
		t.Fatalf("sheet store failure must not fail the turn: %v", err)
	}
	req := f.provider.CompleteCalls[0].Req
	if strings.Contains(req.SystemPrompt, "characters of this story") {
		t.Errorf("sheet section emitted despite read failure:\n%s", req.SystemPrompt)
	}
	f.drain()
}

func TestAct_NewConversationSkipsRetrieval(t *testing.T) {
	f := newOrchFixture(t)
	f.index.ExistsResult = false
	f.provider.CompleteResponse = &llm.CompletionResponse{Content: "Welcome."}

	if _, err := f.orch.Act(context.Background(), testUserID, testConvID, "I begin."); err != nil {
		t.Fatalf("Act failed: %v", err)
	}
	if got := f.index.CallCount("Query"); got != 0 {
		t.Errorf("query issued for a conversation without a collection (%d calls)", got)
	}
	f.drain()
}

func TestBuildMessages_RoleMapping(t *testing.T) {
	recent := []memory.Turn{
		{Role: memory.RoleUser, Content: "a"},
		{Role: memory.RoleAgent, Content: "b"},
	}
	got := buildMessages(recent, "c")
	want := []llm.Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
