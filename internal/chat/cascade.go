package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/gamemaster/internal/observe"
	"github.com/MrWong99/gamemaster/pkg/memory"
	"github.com/MrWong99/gamemaster/pkg/provider/llm"
)

// summaryPrompt is the instruction sent with every cascade summarization call.
const summaryPrompt = "Please summarize the following story extract in a brief paragraph, " +
	"so that the major developments are known:"

// cascadeJob parameterizes one summarization window. The three jobs cover
// disjoint slices of history counted back from the newest turn, so each run
// costs a constant-size model call no matter how long the conversation grows.
type cascadeJob struct {
	// depth labels the job in logs and metrics.
	depth string

	// offset is how many turns back from the newest the window starts.
	offset int

	// window is how many turns the job summarizes.
	window int

	// keySuffix selects the fact-store summary key to overwrite.
	keySuffix string
}

// cascadeJobs are the three summary horizons. The short job covers turns
// 21-40 back from the newest, medium 41-80, long 81-160.
var cascadeJobs = []cascadeJob{
	{depth: "short", offset: 20, window: 20, keySuffix: keyShortSummary},
	{depth: "medium", offset: 40, window: 40, keySuffix: keyMediumSummary},
	{depth: "long", offset: 80, window: 80, keySuffix: keyLongSummary},
}

// Cascade recomputes the short/medium/long rolling summaries for a
// conversation after each turn. A window that reaches past the start of the
// log performs no model call and leaves the existing summary untouched, so
// summaries only ever grow stale, never regress to empty.
type Cascade struct {
	log     memory.TurnLog
	facts   memory.FactStore
	llm     llm.Provider
	metrics *observe.Metrics
}

// NewCascade wires a Cascade over the turn log, fact store, and model
// provider. metrics may be nil to disable instrumentation.
func NewCascade(log memory.TurnLog, facts memory.FactStore, provider llm.Provider, metrics *observe.Metrics) *Cascade {
	return &Cascade{log: log, facts: facts, llm: provider, metrics: metrics}
}

// Run executes all three summary jobs for the namespace sequentially and
// returns the first error encountered. Jobs after a failed one are skipped;
// the next turn's cascade will recompute everything anyway.
func (c *Cascade) Run(ctx context.Context, namespace string) error {
	start := time.Now()
	for _, job := range cascadeJobs {
		if err := c.runJob(ctx, namespace, job); err != nil {
			return fmt.Errorf("cascade: %s summary: %w", job.depth, err)
		}
	}
	if c.metrics != nil {
		c.metrics.CascadeDuration.Record(ctx, time.Since(start).Seconds())
	}
	return nil
}

// runJob summarizes one window and overwrites its fact-store key. An empty
// window is a no-op.
func (c *Cascade) runJob(ctx context.Context, namespace string, job cascadeJob) error {
	turns, err := c.log.Window(ctx, namespace, job.offset, job.window)
	if err != nil {
		return fmt.Errorf("read window: %w", err)
	}
	if len(turns) == 0 {
		return nil
	}

	contents := make([]string, len(turns))
	for i, t := range turns {
		contents[i] = t.Content
	}
	extract := strings.Join(contents, "\n")

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "user", Content: summaryPrompt + "\n" + extract},
		},
	})
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("summarize: empty response")
	}

	summary := CleanReply(resp.Content)
	if err := c.facts.Set(ctx, namespace+job.keySuffix, summary); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordSummary(ctx, job.depth)
	}
	return nil
}
