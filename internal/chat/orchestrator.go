package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/gamemaster/internal/observe"
	"github.com/MrWong99/gamemaster/pkg/ident"
	"github.com/MrWong99/gamemaster/pkg/memory"
	"github.com/MrWong99/gamemaster/pkg/provider/llm"
)

// Validation and single-flight errors surfaced by [Orchestrator.Act]. The
// single-flight rejection is a distinct sentinel so clients can tell "busy,
// retry later" apart from a genuine model failure.
var (
	ErrInvalidUser         = errors.New("chat: user id is not a valid UUID")
	ErrInvalidConversation = errors.New("chat: conversation id is not a valid UUID")
	ErrEmptyAction         = errors.New("chat: action must not be empty")
	ErrConversationActive  = errors.New("chat: conversation is already processing a turn")
)

// Defaults for the prompt assembly window sizes.
const (
	defaultRecentTurns    = 20
	defaultRetrievalLimit = 10
)

// Orchestrator runs one conversation turn end to end: it validates the
// request, takes the per-conversation activity flag, gathers layered context
// from the four store facets, composes the prompt, invokes the model, and
// hands all persistence plus the summarization cascade to the deferred work
// queue so the caller only ever waits on the model.
type Orchestrator struct {
	stores  memory.Stores
	llm     llm.Provider
	queue   *TaskQueue
	cascade *Cascade

	rules          string
	sheetSchema    []byte
	recentTurns    int
	retrievalLimit int
	metrics        *observe.Metrics
}

// OrchestratorOption configures an [Orchestrator].
type OrchestratorOption func(*Orchestrator)

// WithRules sets the static rule book text emitted as the first prompt
// section. Loaded once at process start, identical for all conversations.
func WithRules(rules string) OrchestratorOption {
	return func(o *Orchestrator) { o.rules = rules }
}

// WithSheetSchema sets the JSON schema document appended after the character
// sheets in the prompt.
func WithSheetSchema(schema []byte) OrchestratorOption {
	return func(o *Orchestrator) { o.sheetSchema = schema }
}

// WithRecentTurns sets how many of the newest turns are included verbatim in
// the prompt. Defaults to 20.
func WithRecentTurns(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.recentTurns = n }
}

// WithRetrievalLimit caps how many semantically related snippets are
// retrieved per turn. Defaults to 10.
func WithRetrievalLimit(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.retrievalLimit = n }
}

// WithMetrics enables metric instrumentation on the orchestrator and its
// cascade.
func WithMetrics(m *observe.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires an orchestrator over the store bundle, model
// provider, and deferred work queue.
func NewOrchestrator(stores memory.Stores, provider llm.Provider, queue *TaskQueue, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		stores:         stores,
		llm:            provider,
		queue:          queue,
		recentTurns:    defaultRecentTurns,
		retrievalLimit: defaultRetrievalLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cascade = NewCascade(stores.Log, stores.Facts, provider, o.metrics)
	return o
}

// turnContext is the layered context gathered before prompt composition.
type turnContext struct {
	short, medium, long string
	world               []string
	sheets              [][]byte
	recent              []memory.Turn
}

// Act processes one player action for the identified conversation and returns
// the gamemaster's reply. Turn persistence, semantic indexing, the
// summarization cascade, and activity flag clearing all run as deferred work
// after the reply is returned.
//
// The activity flag is cleared on every exit path: success, validation of a
// later step, model failure, and panic.
func (o *Orchestrator) Act(ctx context.Context, userID, conversationID, action string) (reply string, err error) {
	if !ident.IsValid(userID) {
		return "", ErrInvalidUser
	}
	if !ident.IsValid(conversationID) {
		return "", ErrInvalidConversation
	}
	if strings.TrimSpace(action) == "" {
		return "", ErrEmptyAction
	}

	ns := ident.Namespace(userID, conversationID)
	docNS := ident.DocNamespace(userID, conversationID)
	log := observe.Logger(ctx).With("namespace", ns)

	// Single-flight guard: the atomic set only succeeds when no other turn is
	// in flight for this conversation.
	acquired, err := o.stores.Facts.SetIfAbsent(ctx, ns+keyActive, "true")
	if err != nil {
		return "", fmt.Errorf("chat: acquire activity flag: %w", err)
	}
	if !acquired {
		return "", ErrConversationActive
	}

	start := time.Now()
	if o.metrics != nil {
		o.metrics.ActiveConversations.Add(ctx, 1)
		defer o.metrics.ActiveConversations.Add(ctx, -1)
	}

	// Every failure past this point must still release the flag. Failures
	// schedule the release as deferred work; the success path releases it at
	// the end of its own deferred task.
	defer func() {
		if r := recover(); r != nil {
			o.scheduleFlagClear(ns)
			log.Error("turn panicked", "panic", r)
			err = fmt.Errorf("chat: turn failed unexpectedly: %v", r)
		} else if err != nil {
			o.scheduleFlagClear(ns)
		}
		if o.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			o.metrics.RecordTurn(ctx, status)
			o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	tc, err := o.gather(ctx, ns, docNS)
	if err != nil {
		return "", err
	}

	// The newest logged turn anchors semantic retrieval and, later, the
	// indexed exchange.
	var previous string
	if len(tc.recent) > 0 {
		previous = tc.recent[len(tc.recent)-1].Content
	}

	snippets, err := o.retrieve(ctx, ns, previous, action)
	if err != nil {
		return "", err
	}

	system := Compose(o.rules, tc.sheets, o.sheetSchema, tc.world, tc.short, tc.medium, tc.long, snippets)

	req := llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     buildMessages(tc.recent, action),
	}

	llmStart := time.Now()
	resp, err := o.llm.Complete(ctx, req)
	if o.metrics != nil {
		o.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	}
	if err != nil {
		return "", fmt.Errorf("chat: model invocation: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return "", fmt.Errorf("chat: model returned an empty reply")
	}

	reply = CleanReply(resp.Content)
	o.scheduleFinish(ns, previous, action, reply)
	return reply, nil
}

// gather fetches summaries, world keywords, character sheets, and the recent
// turn window concurrently. A sheet store failure is non-fatal and degrades
// to an empty list; every other failure aborts the turn.
func (o *Orchestrator) gather(ctx context.Context, namespace, docNamespace string) (*turnContext, error) {
	tc := &turnContext{}
	log := observe.Logger(ctx).With("namespace", namespace)

	eg, egCtx := errgroup.WithContext(ctx)

	// ── goroutine 1: summary triple ──────────────────────────────────────────
	eg.Go(func() error {
		for _, f := range []struct {
			suffix string
			dst    *string
		}{
			{keyShortSummary, &tc.short},
			{keyMediumSummary, &tc.medium},
			{keyLongSummary, &tc.long},
		} {
			v, err := o.stores.Facts.Get(egCtx, namespace+f.suffix)
			if err != nil {
				return fmt.Errorf("chat: read summary %s: %w", f.suffix, err)
			}
			*f.dst = v
		}
		return nil
	})

	// ── goroutine 2: world keywords ──────────────────────────────────────────
	eg.Go(func() error {
		raw, err := o.stores.Facts.Get(egCtx, namespace+keyWorld)
		if err != nil {
			return fmt.Errorf("chat: read world keywords: %w", err)
		}
		if raw == "" {
			tc.world = nil
			return nil
		}
		if err := json.Unmarshal([]byte(raw), &tc.world); err != nil {
			// A corrupt keyword list degrades to "no world section" rather
			// than failing the whole turn.
			log.Warn("world keywords are not valid JSON, ignoring", "err", err)
			tc.world = nil
		}
		return nil
	})

	// ── goroutine 3: character sheets (non-fatal) ────────────────────────────
	eg.Go(func() error {
		sheets, err := o.stores.Sheets.List(egCtx, docNamespace)
		if err != nil {
			log.Warn("character sheet read failed, continuing without sheets", "err", err)
			tc.sheets = nil
			return nil
		}
		tc.sheets = sheets
		return nil
	})

	// ── goroutine 4: recent turn window ──────────────────────────────────────
	eg.Go(func() error {
		recent, err := o.stores.Log.Recent(egCtx, namespace, o.recentTurns)
		if err != nil {
			return fmt.Errorf("chat: read recent turns: %w", err)
		}
		tc.recent = recent
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return tc, nil
}

// retrieve queries the semantic index when the conversation's collection
// exists. Brand-new conversations have no collection and skip the query.
func (o *Orchestrator) retrieve(ctx context.Context, namespace, previous, action string) ([]memory.Snippet, error) {
	exists, err := o.stores.Index.Exists(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("chat: check semantic collection: %w", err)
	}
	if !exists {
		return nil, nil
	}

	snippets, err := o.stores.Index.Query(ctx, namespace, previous+"\n"+action, o.retrievalLimit)
	if err != nil {
		return nil, fmt.Errorf("chat: semantic query: %w", err)
	}
	return snippets, nil
}

// buildMessages converts the recent turn window plus the new action into the
// model's message sequence. The new user action is always last.
func buildMessages(recent []memory.Turn, action string) []llm.Message {
	messages := make([]llm.Message, 0, len(recent)+1)
	for _, t := range recent {
		role := "user"
		if t.Role == memory.RoleAgent {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}
	return append(messages, llm.Message{Role: "user", Content: action})
}

// scheduleFinish enqueues the post-reply work: both turns are appended to the
// log (user before agent), the exchange is indexed, the cascade recomputes
// the summaries, and the activity flag is released last.
//
// The user turn is only persisted here, together with the reply. A failed
// model call therefore leaves the log untouched and the client may resubmit
// the same action without creating an orphaned user turn.
func (o *Orchestrator) scheduleFinish(namespace, previous, action, reply string) {
	o.queue.Enqueue(Task{
		Name: "finish-turn",
		Fn: func(ctx context.Context) error {
			var errs []error
			defer func() {
				if err := o.stores.Facts.Delete(ctx, namespace+keyActive); err != nil {
					logFlagReleaseFailure(ctx, namespace, err)
				}
			}()

			if err := o.stores.Log.Append(ctx, namespace, memory.RoleUser, action); err != nil {
				// Without the user turn an agent turn would corrupt the
				// alternation, so stop persisting here.
				return fmt.Errorf("append user turn: %w", err)
			}
			if err := o.stores.Log.Append(ctx, namespace, memory.RoleAgent, reply); err != nil {
				errs = append(errs, fmt.Errorf("append agent turn: %w", err))
			}

			exchange := strings.TrimSpace(previous + "\n\n" + action + "\n\n" + reply)
			if _, err := o.stores.Index.Add(ctx, namespace, exchange); err != nil {
				errs = append(errs, fmt.Errorf("index exchange: %w", err))
			}

			if err := o.cascade.Run(ctx, namespace); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		},
	})
}

// scheduleFlagClear enqueues release of the activity flag. Used on failure
// paths where no finish task will run.
func (o *Orchestrator) scheduleFlagClear(namespace string) {
	o.queue.Enqueue(Task{
		Name: "clear-activity-flag",
		Fn: func(ctx context.Context) error {
			return o.stores.Facts.Delete(ctx, namespace+keyActive)
		},
	})
}

func logFlagReleaseFailure(ctx context.Context, namespace string, err error) {
	observe.Logger(ctx).Error("activity flag release failed; conversation may be wedged",
		"namespace", namespace,
		"err", err,
	)
}
