// Package mock provides in-memory test doubles for the memory facet
// interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	log := &mock.TurnLog{}
//	log.RecentResult = []memory.Turn{{Role: memory.RoleUser, Content: "hello"}}
//
//	// inject log into the system under test …
//
//	if got := log.CallCount("Recent"); got != 1 {
//	    t.Errorf("expected 1 Recent call, got %d", got)
//	}
//
// [FactStore] is the one stateful mock: it keeps a real key/value map so that
// SetIfAbsent behaves atomically, which single-flight tests depend on.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/gamemaster/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// ─────────────────────────────────────────────────────────────────────────────
// FactStore mock
// ─────────────────────────────────────────────────────────────────────────────

// FactStore is a configurable test double for [memory.FactStore] backed by a
// real key/value map, so Get/Set/SetIfAbsent/Delete interact the way the
// Redis backend does. The *Err fields force failures regardless of map state.
type FactStore struct {
	mu sync.Mutex

	calls  []Call
	values map[string]string

	// GetErr is returned by [FactStore.Get] when non-nil.
	GetErr error

	// SetErr is returned by [FactStore.Set] when non-nil.
	SetErr error

	// SetIfAbsentErr is returned by [FactStore.SetIfAbsent] when non-nil.
	SetIfAbsentErr error

	// DeleteErr is returned by [FactStore.Delete] when non-nil.
	DeleteErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *FactStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *FactStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and stored values without altering the
// configured errors.
func (m *FactStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.values = nil
}

// Seed stores value under key without recording a call. Use it to arrange
// pre-existing state before exercising the system under test.
func (m *FactStore) Seed(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
}

// Value returns the currently stored value for key without recording a call.
func (m *FactStore) Value(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

// Get implements [memory.FactStore].
func (m *FactStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Get", Args: []any{key}})
	if m.GetErr != nil {
		return "", m.GetErr
	}
	return m.values[key], nil
}

// Set implements [memory.FactStore].
func (m *FactStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Set", Args: []any{key, value}})
	if m.SetErr != nil {
		return m.SetErr
	}
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

// SetIfAbsent implements [memory.FactStore].
func (m *FactStore) SetIfAbsent(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "SetIfAbsent", Args: []any{key, value}})
	if m.SetIfAbsentErr != nil {
		return false, m.SetIfAbsentErr
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return true, nil
}

// Delete implements [memory.FactStore].
func (m *FactStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Delete", Args: []any{key}})
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.values, key)
	return nil
}

// Ensure FactStore satisfies the interface at compile time.
var _ memory.FactStore = (*FactStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// TurnLog mock
// ─────────────────────────────────────────────────────────────────────────────

// TurnLog is a configurable test double for [memory.TurnLog].
// All exported *Err fields default to nil (success); all exported *Result
// fields default to nil (empty slice returned).
type TurnLog struct {
	mu sync.Mutex

	calls []Call

	// AppendErr is returned by [TurnLog.Append] when non-nil.
	AppendErr error

	// RecentResult is returned by [TurnLog.Recent].
	// When nil, Recent returns an empty non-nil slice.
	RecentResult []memory.Turn

	// RecentErr is returned by [TurnLog.Recent] when non-nil.
	RecentErr error

	// WindowResults maps [WindowKey] strings to the turns returned by
	// [TurnLog.Window] for that exact window. Windows without an entry
	// return an empty non-nil slice.
	WindowResults map[string][]memory.Turn

	// WindowErr is returned by [TurnLog.Window] when non-nil.
	WindowErr error

	// AllResult is returned by [TurnLog.All].
	// When nil, All returns an empty non-nil slice.
	AllResult []memory.Turn

	// AllErr is returned by [TurnLog.All] when non-nil.
	AllErr error

	// DropErr is returned by [TurnLog.Drop] when non-nil.
	DropErr error
}

// WindowKey builds the key used by [TurnLog.WindowResults].
func WindowKey(offset, count int) string {
	return fmt.Sprintf("%d,%d", offset, count)
}

// Calls returns a copy of all recorded method invocations.
func (m *TurnLog) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *TurnLog) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *TurnLog) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Append implements [memory.TurnLog].
func (m *TurnLog) Append(_ context.Context, namespace string, role memory.Role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Append", Args: []any{namespace, role, content}})
	return m.AppendErr
}

// Recent implements [memory.TurnLog].
func (m *TurnLog) Recent(_ context.Context, namespace string, limit int) ([]memory.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Recent", Args: []any{namespace, limit}})
	if m.RecentResult == nil {
		return []memory.Turn{}, m.RecentErr
	}
	out := make([]memory.Turn, len(m.RecentResult))
	copy(out, m.RecentResult)
	return out, m.RecentErr
}

// Window implements [memory.TurnLog].
func (m *TurnLog) Window(_ context.Context, namespace string, offset, count int) ([]memory.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Window", Args: []any{namespace, offset, count}})
	turns := m.WindowResults[WindowKey(offset, count)]
	if turns == nil {
		return []memory.Turn{}, m.WindowErr
	}
	out := make([]memory.Turn, len(turns))
	copy(out, turns)
	return out, m.WindowErr
}

// All implements [memory.TurnLog].
func (m *TurnLog) All(_ context.Context, namespace string) ([]memory.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "All", Args: []any{namespace}})
	if m.AllResult == nil {
		return []memory.Turn{}, m.AllErr
	}
	out := make([]memory.Turn, len(m.AllResult))
	copy(out, m.AllResult)
	return out, m.AllErr
}

// Drop implements [memory.TurnLog].
func (m *TurnLog) Drop(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Drop", Args: []any{namespace}})
	return m.DropErr
}

// Ensure TurnLog satisfies the interface at compile time.
var _ memory.TurnLog = (*TurnLog)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// SemanticIndex mock
// ─────────────────────────────────────────────────────────────────────────────

// SemanticIndex is a configurable test double for [memory.SemanticIndex].
type SemanticIndex struct {
	mu sync.Mutex

	calls []Call

	// ExistsResult is returned by [SemanticIndex.Exists].
	ExistsResult bool

	// ExistsErr is returned by [SemanticIndex.Exists] when non-nil.
	ExistsErr error

	// QueryResult is returned by [SemanticIndex.Query].
	// When nil, Query returns an empty non-nil slice.
	QueryResult []memory.Snippet

	// QueryErr is returned by [SemanticIndex.Query] when non-nil.
	QueryErr error

	// AddResult is the document ID returned by [SemanticIndex.Add].
	AddResult string

	// AddErr is returned by [SemanticIndex.Add] when non-nil.
	AddErr error

	// DeleteErr is returned by [SemanticIndex.Delete] when non-nil.
	DeleteErr error

	// DropErr is returned by [SemanticIndex.Drop] when non-nil.
	DropErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *SemanticIndex) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *SemanticIndex) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *SemanticIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Exists implements [memory.SemanticIndex].
func (m *SemanticIndex) Exists(_ context.Context, collection string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Exists", Args: []any{collection}})
	return m.ExistsResult, m.ExistsErr
}

// Query implements [memory.SemanticIndex].
func (m *SemanticIndex) Query(_ context.Context, collection, text string, limit int) ([]memory.Snippet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Query", Args: []any{collection, text, limit}})
	if m.QueryResult == nil {
		return []memory.Snippet{}, m.QueryErr
	}
	out := make([]memory.Snippet, len(m.QueryResult))
	copy(out, m.QueryResult)
	return out, m.QueryErr
}

// Add implements [memory.SemanticIndex].
func (m *SemanticIndex) Add(_ context.Context, collection, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Add", Args: []any{collection, content}})
	return m.AddResult, m.AddErr
}

// Delete implements [memory.SemanticIndex].
func (m *SemanticIndex) Delete(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Delete", Args: []any{collection, ids}})
	return m.DeleteErr
}

// Drop implements [memory.SemanticIndex].
func (m *SemanticIndex) Drop(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Drop", Args: []any{collection}})
	return m.DropErr
}

// Ensure SemanticIndex satisfies the interface at compile time.
var _ memory.SemanticIndex = (*SemanticIndex)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// SheetStore mock
// ─────────────────────────────────────────────────────────────────────────────

// SheetStore is a configurable test double for [memory.SheetStore].
type SheetStore struct {
	mu sync.Mutex

	calls []Call

	// ListResult is returned by [SheetStore.List].
	// When nil, List returns an empty non-nil slice.
	ListResult [][]byte

	// ListErr is returned by [SheetStore.List] when non-nil.
	ListErr error

	// UpsertResult is the sheet ID returned by [SheetStore.Upsert].
	UpsertResult string

	// UpsertErr is returned by [SheetStore.Upsert] when non-nil.
	UpsertErr error

	// RemoveErr is returned by [SheetStore.Remove] when non-nil.
	RemoveErr error

	// DropErr is returned by [SheetStore.Drop] when non-nil.
	DropErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *SheetStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *SheetStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (m *SheetStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// List implements [memory.SheetStore].
func (m *SheetStore) List(_ context.Context, namespace string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "List", Args: []any{namespace}})
	if m.ListResult == nil {
		return [][]byte{}, m.ListErr
	}
	out := make([][]byte, len(m.ListResult))
	copy(out, m.ListResult)
	return out, m.ListErr
}

// Upsert implements [memory.SheetStore].
func (m *SheetStore) Upsert(_ context.Context, namespace, id string, doc []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Upsert", Args: []any{namespace, id, doc}})
	return m.UpsertResult, m.UpsertErr
}

// Remove implements [memory.SheetStore].
func (m *SheetStore) Remove(_ context.Context, namespace, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Remove", Args: []any{namespace, id}})
	return m.RemoveErr
}

// Drop implements [memory.SheetStore].
func (m *SheetStore) Drop(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Drop", Args: []any{namespace}})
	return m.DropErr
}

// Ensure SheetStore satisfies the interface at compile time.
var _ memory.SheetStore = (*SheetStore)(nil)
