// Package search runs the fan-out against the DART catalogue: one
// paged sub-query per company and doc-type combination, with the pages
// merged into a single deduplicated candidate list.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dart_deepsearch/pkg/core/cache"
	"dart_deepsearch/pkg/core/dartapi"
	"dart_deepsearch/pkg/models"
)

const (
	// DefaultMaxPerSearch caps one sub-query's collected rows.
	DefaultMaxPerSearch = 30
	// MaxPerSearchCeiling is the hard upper bound for the configurable cap.
	MaxPerSearchCeiling = 100
	// DefaultMaxToFilter bounds the merged candidate set handed to the
	// document filter.
	DefaultMaxToFilter = 100
	// DefaultParallel is the sub-query concurrency.
	DefaultParallel = 5
)

// catalogue is the transport slice the executor depends on.
type catalogue interface {
	SearchPage(ctx context.Context, p dartapi.SearchParams) (*dartapi.ListPage, error)
}

type Options struct {
	MaxPerSearch int
	MaxToFilter  int
	Parallel     int
}

type Executor struct {
	transport    catalogue
	store        *cache.Store
	maxPerSearch int
	maxToFilter  int
	parallel     int
	now          func() time.Time
}

func New(transport catalogue, store *cache.Store, opts Options) *Executor {
	maxPer := opts.MaxPerSearch
	if maxPer <= 0 {
		maxPer = DefaultMaxPerSearch
	}
	if maxPer > MaxPerSearchCeiling {
		maxPer = MaxPerSearchCeiling
	}
	maxFilter := opts.MaxToFilter
	if maxFilter <= 0 {
		maxFilter = DefaultMaxToFilter
	}
	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	return &Executor{
		transport:    transport,
		store:        store,
		maxPerSearch: maxPer,
		maxToFilter:  maxFilter,
		parallel:     parallel,
		now:          time.Now,
	}
}

// Result is the merged outcome of one search fan-out.
type Result struct {
	Refs      []models.FilingRef
	Attempted int
	Failures  []models.PartialFailure
}

type subQuery struct {
	corpCode string
	docType  string
}

func (s subQuery) label() string {
	corp := s.corpCode
	if corp == "" {
		corp = "any"
	}
	doc := s.docType
	if doc == "" {
		doc = "any"
	}
	return fmt.Sprintf("corp=%s type=%s", corp, doc)
}

// buildSubQueries forms the Cartesian set. Companies without a corp
// code cannot narrow the catalogue query, so they contribute no slot;
// when nothing resolved at all, a single no-company slot per doc type
// keeps the search alive and the filter matches names textually.
func buildSubQueries(q *models.ExpandedQuery) []subQuery {
	var corps []string
	seen := make(map[string]bool)
	for _, c := range q.Companies {
		if c.CorpCode != "" && !seen[c.CorpCode] {
			seen[c.CorpCode] = true
			corps = append(corps, c.CorpCode)
		}
	}
	if len(corps) == 0 {
		corps = []string{""}
	}
	docTypes := q.DocTypes
	if len(docTypes) == 0 {
		docTypes = []string{""}
	}

	var out []subQuery
	for _, corp := range corps {
		for _, dt := range docTypes {
			out = append(out, subQuery{corpCode: corp, docType: dt})
		}
	}
	return out
}

// Run executes every sub-query with bounded parallelism and merges the
// results newest-first. Individual sub-query failures degrade into
// partial failures; only a full wipeout or cancellation is an error.
func (ex *Executor) Run(ctx context.Context, q *models.ExpandedQuery) (*Result, error) {
	subs := buildSubQueries(q)
	fmt.Printf("[SEARCH] %d sub-queries, window %s\n", len(subs), q.DateRange)

	perSub := make([][]models.FilingRef, len(subs))
	var mu sync.Mutex
	var failures []models.PartialFailure

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ex.parallel)
	for i, sq := range subs {
		i, sq := i, sq
		g.Go(func() error {
			refs, err := ex.runSubQuery(gctx, q, sq)
			if err != nil {
				if gctx.Err() != nil || models.KindOf(err) == models.KindCancelled {
					return err
				}
				fmt.Printf("[SEARCH] Sub-query %s failed: %v\n", sq.label(), err)
				mu.Lock()
				failures = append(failures, models.PartialFailure{
					Phase:   "search",
					Kind:    string(models.KindOf(err)),
					Message: fmt.Sprintf("%s: %v", sq.label(), err),
				})
				mu.Unlock()
				return nil
			}
			perSub[i] = refs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(failures) == len(subs) {
		return nil, models.NewPipelineError(models.KindSearchUnavailable, "search",
			fmt.Sprintf("all %d sub-queries failed", len(subs)), nil)
	}

	merged := mergeResults(perSub)
	total := len(merged)
	if total > ex.maxToFilter {
		merged = merged[:ex.maxToFilter]
	}
	fmt.Printf("[SEARCH] Collected %d unique filings (%d over cap discarded, %d sub-queries failed)\n",
		len(merged), total-len(merged), len(failures))

	return &Result{Refs: merged, Attempted: len(subs), Failures: failures}, nil
}

// runSubQuery pages through one catalogue query, serving pages from
// cache. When the window reaches today, the final page is refetched so
// filings disclosed since the cache write still appear.
func (ex *Executor) runSubQuery(ctx context.Context, q *models.ExpandedQuery, sq subQuery) ([]models.FilingRef, error) {
	today := ex.now().Format("20060102")
	includesToday := q.DateRange.BeginParam() <= today && today <= q.DateRange.EndParam()

	var refs []models.FilingRef
	pageNo := 1
	for {
		params := dartapi.SearchParams{
			CorpCode:   sq.corpCode,
			DetailType: sq.docType,
			Begin:      q.DateRange.BeginParam(),
			End:        q.DateRange.EndParam(),
			PageNo:     pageNo,
		}
		page, hit, err := ex.fetchPage(ctx, params, false)
		if err != nil {
			return nil, err
		}

		totalPage := page.TotalPage
		if totalPage < 1 {
			totalPage = 1
		}
		if includesToday && pageNo == totalPage && hit {
			// The cached copy predates this run; newer filings may have
			// landed on the volatile page since.
			page, _, err = ex.fetchPage(ctx, params, true)
			if err != nil {
				return nil, err
			}
		}

		for _, ref := range page.List {
			if !withinWindow(ref, q.DateRange) {
				continue
			}
			if sq.docType != "" && ref.DetailType == "" {
				ref.DetailType = sq.docType
			}
			refs = append(refs, ref)
			if len(refs) >= ex.maxPerSearch {
				return refs, nil
			}
		}

		if pageNo >= totalPage || len(page.List) == 0 {
			return refs, nil
		}
		pageNo++
	}
}

func (ex *Executor) fetchPage(ctx context.Context, p dartapi.SearchParams, bypassCache bool) (*dartapi.ListPage, bool, error) {
	params := cacheParams(p)
	if bypassCache {
		ex.store.Invalidate(cache.NamespaceSearch, params)
	}
	raw, hit, err := ex.store.GetOrFetch(ctx, cache.NamespaceSearch, params, cache.DefaultTTL, func(ctx context.Context) ([]byte, error) {
		page, err := ex.transport.SearchPage(ctx, p)
		if err != nil {
			return nil, err
		}
		return json.Marshal(page)
	})
	if err != nil {
		return nil, false, err
	}

	var page dartapi.ListPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, false, fmt.Errorf("SEARCH_CACHE_DECODE_ERROR: %v", err)
	}
	return &page, hit, nil
}

func cacheParams(p dartapi.SearchParams) map[string]string {
	values := p.Values()
	params := make(map[string]string, len(values))
	for key := range values {
		params[key] = values.Get(key)
	}
	return params
}

// withinWindow drops rows outside the requested window even though the
// catalogue already takes bgn_de/end_de. Fixed-width YYYYMMDD strings
// compare correctly as text.
func withinWindow(ref models.FilingRef, window models.DateRange) bool {
	if len(ref.RceptDt) != 8 {
		return false
	}
	return ref.RceptDt >= window.BeginParam() && ref.RceptDt <= window.EndParam()
}

// mergeResults concatenates per-sub-query rows in sub-query order,
// keeps the first occurrence per receipt number, and sorts newest
// first so cap truncation discards the oldest filings.
func mergeResults(perSub [][]models.FilingRef) []models.FilingRef {
	var merged []models.FilingRef
	seen := make(map[string]bool)
	for _, refs := range perSub {
		for _, ref := range refs {
			key := ref.DedupKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, ref)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].RceptDt != merged[j].RceptDt {
			return merged[i].RceptDt > merged[j].RceptDt
		}
		return merged[i].RceptNo > merged[j].RceptNo
	})
	return merged
}
