package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dart_deepsearch/pkg/core/cache"
	"dart_deepsearch/pkg/models"
)

// countingRunner wraps the agent manager so runs can report LLM usage.
// The counter is process wide; per-run numbers come from the snapshot
// delta taken in newRun, so overlapping runs can bleed a call or two
// into each other's telemetry. That is acceptable for what the number
// is for.
type countingRunner struct {
	inner promptRunner
	calls atomic.Int64
}

func (c *countingRunner) ExecutePrompt(ctx context.Context, capability string, rawPrompt string, rawSystemPrompt string, options map[string]interface{}) (string, error) {
	if c.inner == nil {
		return "", models.NewPipelineError(models.KindLLMUnavailable, "llm", "no language model configured", nil)
	}
	c.calls.Add(1)
	return c.inner.ExecutePrompt(ctx, capability, rawPrompt, rawSystemPrompt, options)
}

// run is the mutable state of one DeepSearch call. The id doubles as
// the correlation id in log lines.
type run struct {
	id      string
	query   string
	started time.Time

	attempt int
	plans   []*models.ExpandedQuery

	filings []models.Filing
	byKey   map[string]int

	failures []models.PartialFailure
	latency  map[string]int64

	cacheBase cache.Stats
	llmBase   int64
}

func (o *Orchestrator) newRun(query string) *run {
	return &run{
		id:        uuid.NewString(),
		query:     query,
		started:   o.now(),
		byKey:     map[string]int{},
		latency:   map[string]int64{},
		cacheBase: o.cacheStats(),
		llmBase:   o.llmCalls(),
	}
}

// phase starts a stage timer. The returned func adds the elapsed time
// to the stage's cumulative latency, so a stage that runs once per
// attempt reports its total across the loop.
func (r *run) phase(name string) func() {
	start := time.Now()
	return func() {
		r.latency[name] += time.Since(start).Milliseconds()
	}
}

func (r *run) record(failures ...models.PartialFailure) {
	r.failures = append(r.failures, failures...)
}

// absorb merges an attempt's filings into the run set. First sighting
// wins its slot; a later attempt replaces an entry only when it brings
// content the earlier fetch could not get.
func (r *run) absorb(filings []models.Filing) {
	for _, f := range filings {
		key := f.DedupKey()
		if i, ok := r.byKey[key]; ok {
			if !r.filings[i].HasContent() && f.HasContent() {
				r.filings[i] = f
			}
			continue
		}
		r.byKey[key] = len(r.filings)
		r.filings = append(r.filings, f)
	}
}

func (r *run) telemetry(llmNow int64, cacheNow cache.Stats, ended time.Time) models.Telemetry {
	failures := r.failures
	if failures == nil {
		failures = []models.PartialFailure{}
	}
	return models.Telemetry{
		RunID:           r.id,
		Attempts:        r.attempt,
		StageLatencyMS:  r.latency,
		PartialFailures: failures,
		CacheHitRate:    deltaHitRate(r.cacheBase, cacheNow),
		LLMCalls:        int(llmNow - r.llmBase),
		DurationMS:      ended.Sub(r.started).Milliseconds(),
	}
}

// deltaHitRate is the cache hit rate of this run only.
func deltaHitRate(before, after cache.Stats) float64 {
	hits := after.Hits - before.Hits
	misses := after.Misses - before.Misses
	if hits+misses <= 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
