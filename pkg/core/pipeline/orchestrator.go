// Package pipeline drives the deep-search state machine: one expansion,
// then up to MaxAttempts rounds of search, filter, fetch and a
// sufficiency verdict, then a single synthesis pass. Every run hands
// back an answer envelope. Only a first-attempt expansion or search
// failure is also returned as an error; cancellation and anything that
// goes wrong later degrade into the envelope instead.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dart_deepsearch/pkg/core/cache"
	"dart_deepsearch/pkg/core/dartapi"
	"dart_deepsearch/pkg/core/dates"
	"dart_deepsearch/pkg/core/expand"
	"dart_deepsearch/pkg/core/fetch"
	"dart_deepsearch/pkg/core/filter"
	"dart_deepsearch/pkg/core/search"
	"dart_deepsearch/pkg/core/sufficiency"
	"dart_deepsearch/pkg/core/synthesis"
	"dart_deepsearch/pkg/models"
)

// DefaultMaxAttempts bounds the search loop when the caller does not.
const DefaultMaxAttempts = 3

// Korean user-facing texts for runs that never reach synthesis.
const (
	guidanceAnswer = "DART 공시 관련 답변이 필요하시군요. '삼성전자', '영업이익 공시', '유상증자'와 같이 구체적인 기업명이나 공시 관련 용어로 다시 검색해 주시면 더 정확한 결과를 얻으실 수 있습니다."

	cancelledAnswer = "검색이 취소되었습니다."

	abortExpandAnswer = "질문을 검색 조건으로 바꾸지 못했습니다. 잠시 후 다시 시도해 주세요."
	abortSearchAnswer = "DART 검색 서비스에 연결하지 못했습니다. 잠시 후 다시 시도해 주세요."
)

type promptRunner interface {
	ExecutePrompt(ctx context.Context, capability string, rawPrompt string, rawSystemPrompt string, options map[string]interface{}) (string, error)
}

// The orchestrator depends on stage behaviours, not concrete stages,
// so tests can script each phase.
type expander interface {
	Expand(ctx context.Context, query string) (*models.ExpandedQuery, error)
}

type searcher interface {
	Run(ctx context.Context, q *models.ExpandedQuery) (*search.Result, error)
}

type docFetcher interface {
	Run(ctx context.Context, refs []models.FilingRef) (*fetch.Result, error)
}

type verdictChecker interface {
	Check(ctx context.Context, snap sufficiency.Snapshot) (sufficiency.Decision, []models.PartialFailure)
}

type answerer interface {
	Synthesize(ctx context.Context, in synthesis.Inputs) (*models.Envelope, []models.PartialFailure)
}

// RunOptions tune a single DeepSearch call.
type RunOptions struct {
	// MaxAttempts bounds the search loop; zero means DefaultMaxAttempts.
	MaxAttempts int
	// MaxResultsPerSearch caps each sub-query page for this run.
	MaxResultsPerSearch int
	// Language hints the answer language. Korean when empty.
	Language string
}

// Config wires an orchestrator against live dependencies.
type Config struct {
	Transport *dartapi.Transport
	Store     *cache.Store
	// Runner executes LLM prompts, normally an *agent.Manager. A nil
	// runner leaves every stage on its deterministic fallback.
	Runner promptRunner
	// Extractor is the optional JSON-mode extraction client for the
	// expansion stage. Nil routes expansion through Runner.
	Extractor expand.Extractor
	Search    search.Options
	Fetch     fetch.Options
	// RuleFilter skips the LLM relevance pass and keeps the rule scorer.
	RuleFilter bool
}

// Orchestrator owns the stages of the deep-search pipeline.
type Orchestrator struct {
	expander    expander
	newSearcher func(maxPerSearch int) searcher
	selector    filter.Selector
	fetcher     docFetcher
	checker     verdictChecker
	synthesizer answerer

	store *cache.Store
	llm   *countingRunner
	now   func() time.Time
}

// New builds the production pipeline. All LLM-backed stages share one
// counted runner so telemetry sees every call.
func New(cfg Config) *Orchestrator {
	llm := &countingRunner{inner: cfg.Runner}

	var selector filter.Selector = filter.NewLLMSelector(llm)
	if cfg.RuleFilter {
		selector = &filter.RuleSelector{}
	}

	return &Orchestrator{
		expander: expand.NewExpander(llm, cfg.Extractor, dartapi.NewDirectory(cfg.Transport, cfg.Store)),
		newSearcher: func(maxPerSearch int) searcher {
			opts := cfg.Search
			if maxPerSearch > 0 {
				opts.MaxPerSearch = maxPerSearch
			}
			return search.New(cfg.Transport, cfg.Store, opts)
		},
		selector:    selector,
		fetcher:     fetch.New(cfg.Transport, cfg.Store, cfg.Fetch),
		checker:     sufficiency.NewChecker(llm),
		synthesizer: synthesis.New(llm),
		store:       cfg.Store,
		llm:         llm,
		now:         time.Now,
	}
}

// DeepSearch runs the full pipeline for one query. The envelope is
// never nil. The error is non-nil only when the first attempt could not
// expand the query or reach the search API at all; cancellation and
// every later failure come back inside the envelope.
func (o *Orchestrator) DeepSearch(ctx context.Context, query string, opts RunOptions) (*models.Envelope, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	r := o.newRun(query)
	fmt.Printf("[PIPELINE] run %s: %q (max %d attempts)\n", r.id, query, maxAttempts)

	if strings.TrimSpace(query) == "" {
		return o.finish(r, o.guidanceEnvelope(query)), nil
	}

	plan, err := o.runExpand(ctx, r, query)
	if err != nil {
		if models.KindOf(err) == models.KindCancelled {
			return o.finish(r, o.cancelledEnvelope(r, query)), nil
		}
		env := o.abortEnvelope(r, query, "expand", err)
		return o.finish(r, env), err
	}
	if o.needsGuidance(query, plan) {
		fmt.Printf("[PIPELINE] run %s: no searchable signal in query, answering with guidance\n", r.id)
		return o.finish(r, o.guidanceEnvelope(query)), nil
	}
	r.plans = append(r.plans, plan)

	searchStage := o.newSearcher(opts.MaxResultsPerSearch)
	sufficient := false

	for {
		if ctx.Err() != nil {
			return o.finish(r, o.cancelledEnvelope(r, query)), nil
		}
		r.attempt++
		fmt.Printf("[PIPELINE] run %s attempt %d/%d: %s\n", r.id, r.attempt, maxAttempts, planSummary(plan))

		searchRes, err := o.runSearch(ctx, r, searchStage, plan)
		if err != nil {
			if models.KindOf(err) == models.KindCancelled {
				return o.finish(r, o.cancelledEnvelope(r, query)), nil
			}
			if r.attempt == 1 {
				env := o.abortEnvelope(r, query, "search", err)
				return o.finish(r, env), err
			}
			r.record(models.PartialFailure{
				Phase:   "search",
				Kind:    string(models.KindOf(err)),
				Message: err.Error(),
			})
			fmt.Printf("[PIPELINE] run %s: search failed on attempt %d, synthesizing what we have: %v\n", r.id, r.attempt, err)
			break
		}
		r.record(searchRes.Failures...)
		searchFailed := len(searchRes.Failures) > 0

		selected, filterFailures := o.runFilter(ctx, r, plan, searchRes.Refs)
		r.record(filterFailures...)

		if ctx.Err() != nil {
			return o.finish(r, o.cancelledEnvelope(r, query)), nil
		}

		fetchRes, err := o.runFetch(ctx, r, selected)
		if err != nil {
			if models.KindOf(err) == models.KindCancelled {
				return o.finish(r, o.cancelledEnvelope(r, query)), nil
			}
			r.record(models.PartialFailure{
				Phase:   "fetch",
				Kind:    string(models.KindOf(err)),
				Message: err.Error(),
			})
		} else {
			r.record(fetchRes.Failures...)
			r.absorb(fetchRes.Filings)
		}

		decision, checkFailures := o.runCheck(ctx, r, plan, maxAttempts, searchFailed)
		r.record(checkFailures...)
		if decision.Sufficient {
			sufficient = true
			break
		}
		if r.attempt >= maxAttempts || decision.Refinement == nil {
			break
		}
		next := sufficiency.ApplyRefinement(plan, decision.Refinement)
		if !sufficiency.Differs(plan, next) {
			fmt.Printf("[PIPELINE] run %s: refinement changes nothing, stopping the loop\n", r.id)
			break
		}
		fmt.Printf("[PIPELINE] run %s: refining plan (%s)\n", r.id, refinementSummary(decision.Refinement))
		plan = next
		r.plans = append(r.plans, plan)
	}

	if ctx.Err() != nil {
		return o.finish(r, o.cancelledEnvelope(r, query)), nil
	}

	env := o.runSynthesize(ctx, r, plan, sufficient, opts.Language)
	return o.finish(r, env), nil
}

func (o *Orchestrator) runExpand(ctx context.Context, r *run, query string) (*models.ExpandedQuery, error) {
	done := r.phase("expand")
	defer done()
	return o.expander.Expand(ctx, query)
}

func (o *Orchestrator) runSearch(ctx context.Context, r *run, s searcher, plan *models.ExpandedQuery) (*search.Result, error) {
	done := r.phase("search")
	defer done()
	return s.Run(ctx, plan)
}

func (o *Orchestrator) runFilter(ctx context.Context, r *run, plan *models.ExpandedQuery, refs []models.FilingRef) ([]models.FilingRef, []models.PartialFailure) {
	done := r.phase("filter")
	defer done()
	return o.selector.Select(ctx, plan, refs)
}

func (o *Orchestrator) runFetch(ctx context.Context, r *run, refs []models.FilingRef) (*fetch.Result, error) {
	done := r.phase("fetch")
	defer done()
	return o.fetcher.Run(ctx, refs)
}

func (o *Orchestrator) runCheck(ctx context.Context, r *run, plan *models.ExpandedQuery, maxAttempts int, searchFailed bool) (sufficiency.Decision, []models.PartialFailure) {
	done := r.phase("sufficiency")
	defer done()
	return o.checker.Check(ctx, sufficiency.Snapshot{
		Plan:         plan,
		Filings:      r.filings,
		Attempt:      r.attempt,
		MaxAttempts:  maxAttempts,
		SearchFailed: searchFailed,
	})
}

func (o *Orchestrator) runSynthesize(ctx context.Context, r *run, plan *models.ExpandedQuery, sufficient bool, language string) *models.Envelope {
	done := r.phase("synthesis")
	defer done()
	env, failures := o.synthesizer.Synthesize(ctx, synthesis.Inputs{
		Query:      r.query,
		Plan:       plan,
		Filings:    r.filings,
		Sufficient: sufficient,
		Language:   language,
	})
	r.record(failures...)
	return env
}

// needsGuidance reports whether expansion produced nothing to search
// for: no companies, no document types, no keywords, and no date the
// query asked for explicitly.
func (o *Orchestrator) needsGuidance(query string, plan *models.ExpandedQuery) bool {
	if plan == nil {
		return true
	}
	if len(plan.Companies) > 0 || len(plan.DocTypes) > 0 || len(plan.Keywords) > 0 {
		return false
	}
	_, explicit := dates.Parse(query, o.now())
	return !explicit
}

func (o *Orchestrator) guidanceEnvelope(query string) *models.Envelope {
	return emptyEnvelope(query, guidanceAnswer)
}

func (o *Orchestrator) cancelledEnvelope(r *run, query string) *models.Envelope {
	fmt.Printf("[PIPELINE] run %s cancelled\n", r.id)
	env := emptyEnvelope(query, cancelledAnswer)
	env.Error = &models.ErrorInfo{Kind: models.KindCancelled, Message: "run cancelled"}
	return env
}

func (o *Orchestrator) abortEnvelope(r *run, query, phase string, err error) *models.Envelope {
	kind := models.KindOf(err)
	if kind == models.KindInternal {
		if phase == "expand" {
			kind = models.KindExpansionFailed
		} else {
			kind = models.KindSearchUnavailable
		}
	}
	fmt.Printf("[PIPELINE] run %s aborted in %s: %v\n", r.id, phase, err)

	answer := abortSearchAnswer
	if phase == "expand" {
		answer = abortExpandAnswer
	}
	env := emptyEnvelope(query, answer)
	env.Error = &models.ErrorInfo{Kind: kind, Message: err.Error()}
	return env
}

func emptyEnvelope(query, answer string) *models.Envelope {
	return &models.Envelope{
		Query:  query,
		Answer: answer,
		Summary: models.Summary{
			Companies:  []string{},
			Confidence: models.ConfidenceLow,
		},
		Documents: []models.Filing{},
	}
}

// finish stamps telemetry onto the envelope and logs the closing line.
func (o *Orchestrator) finish(r *run, env *models.Envelope) *models.Envelope {
	env.Telemetry = r.telemetry(o.llmCalls(), o.cacheStats(), o.now())
	fmt.Printf("[PIPELINE] run %s finished in %dms: attempts=%d documents=%d confidence=%s llm_calls=%d partial_failures=%d\n",
		r.id, env.Telemetry.DurationMS, env.Telemetry.Attempts, len(env.Documents),
		env.Summary.Confidence, env.Telemetry.LLMCalls, len(env.Telemetry.PartialFailures))
	return env
}

func (o *Orchestrator) cacheStats() cache.Stats {
	if o.store == nil {
		return cache.Stats{}
	}
	return o.store.Stats()
}

func (o *Orchestrator) llmCalls() int64 {
	if o.llm == nil {
		return 0
	}
	return o.llm.calls.Load()
}

func planSummary(q *models.ExpandedQuery) string {
	window := "default window"
	if !q.DateRange.IsZero() {
		window = q.DateRange.BeginParam() + "~" + q.DateRange.EndParam()
	}
	return fmt.Sprintf("%d companies, %d doc types, %d keywords, %s",
		len(q.Companies), len(q.DocTypes), len(q.Keywords), window)
}

func refinementSummary(ref *sufficiency.Refinement) string {
	var parts []string
	if ref.BroadenDateRange {
		parts = append(parts, "broaden window")
	}
	if ref.DropDocType {
		parts = append(parts, "drop a doc type")
	}
	if len(ref.AddKeywords) > 0 {
		parts = append(parts, fmt.Sprintf("add keywords %v", ref.AddKeywords))
	}
	if len(ref.AddDocTypes) > 0 {
		parts = append(parts, fmt.Sprintf("add doc types %v", ref.AddDocTypes))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ")
}
