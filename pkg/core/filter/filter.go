// Package filter narrows the search stage's candidate list to the
// filings worth fetching. Two selectors implement the same contract:
// an LLM-backed one that asks the model which receipt numbers look
// relevant, and a rule-backed one that scores report titles against
// the expanded query. The LLM selector degrades to the rule selector
// on any failure, so selection itself never fails a run.
package filter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"dart_deepsearch/pkg/core/agent"
	"dart_deepsearch/pkg/core/utils"
	"dart_deepsearch/pkg/models"
)

const (
	// MaxDocsToReturn caps how many filings survive filtering.
	MaxDocsToReturn = 30

	// llmBatchSize is how many candidates fit in one selection prompt.
	// The search stage caps its output at 100, so one batch is typical.
	llmBatchSize = 100

	// minScored is the floor below which rule scoring is considered
	// uninformative and recency takes over.
	minScored = 5
)

type promptRunner interface {
	ExecutePrompt(ctx context.Context, capability string, rawPrompt string, rawSystemPrompt string, options map[string]interface{}) (string, error)
}

// Selector picks the relevant subset of candidate filings. The second
// return value records degradations (an LLM call that had to fall back)
// without failing the stage.
type Selector interface {
	Select(ctx context.Context, plan *models.ExpandedQuery, refs []models.FilingRef) ([]models.FilingRef, []models.PartialFailure)
}

// RuleSelector scores candidates against the expanded query without
// any model call.
type RuleSelector struct{}

func (s *RuleSelector) Select(ctx context.Context, plan *models.ExpandedQuery, refs []models.FilingRef) ([]models.FilingRef, []models.PartialFailure) {
	return selectByRules(plan, refs), nil
}

// LLMSelector asks the model to pick relevant receipt numbers and
// falls back to rule scoring when the call or its output is unusable.
type LLMSelector struct {
	runner promptRunner
}

func NewLLMSelector(runner promptRunner) *LLMSelector {
	return &LLMSelector{runner: runner}
}

// selection is the JSON shape the model is asked for.
type selection struct {
	Selected []struct {
		RceptNo string `json:"rcept_no"`
		Reason  string `json:"reason,omitempty"`
	} `json:"selected"`
}

func (s *LLMSelector) Select(ctx context.Context, plan *models.ExpandedQuery, refs []models.FilingRef) ([]models.FilingRef, []models.PartialFailure) {
	if len(refs) == 0 {
		return nil, nil
	}

	byID := make(map[string]int, len(refs))
	for i, r := range refs {
		if r.RceptNo == "" {
			continue
		}
		if _, dup := byID[r.RceptNo]; !dup {
			byID[r.RceptNo] = i
		}
	}

	var picked []models.FilingRef
	seen := make(map[string]bool)
	for start := 0; start < len(refs); start += llmBatchSize {
		end := start + llmBatchSize
		if end > len(refs) {
			end = len(refs)
		}
		ids, err := s.selectBatch(ctx, plan, refs[start:end])
		if err != nil {
			fmt.Printf("[FILTER] llm selection failed, using rule scoring: %v\n", err)
			fail := models.PartialFailure{
				Phase:   "filter",
				Kind:    string(models.KindOf(err)),
				Message: err.Error(),
			}
			return selectByRules(plan, refs), []models.PartialFailure{fail}
		}
		for _, id := range ids {
			idx, ok := byID[id]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			picked = append(picked, refs[idx])
		}
	}

	if len(picked) == 0 {
		// A model that rejects every candidate leaves the fetcher with
		// nothing to do. Treat it like a failed call.
		fmt.Printf("[FILTER] llm returned no usable receipt numbers for %d candidates, using rule scoring\n", len(refs))
		fail := models.PartialFailure{
			Phase:   "filter",
			Kind:    string(models.KindLLMUnavailable),
			Message: "llm selection returned no usable receipt numbers",
		}
		return selectByRules(plan, refs), []models.PartialFailure{fail}
	}

	if len(picked) > MaxDocsToReturn {
		picked = picked[:MaxDocsToReturn]
	}
	return picked, nil
}

func (s *LLMSelector) selectBatch(ctx context.Context, plan *models.ExpandedQuery, batch []models.FilingRef) ([]string, error) {
	if s.runner == nil {
		return nil, models.NewPipelineError(models.KindLLMUnavailable, "filter", "no llm runner configured", nil)
	}

	raw, err := s.runner.ExecutePrompt(ctx, agent.CapabilityFilter,
		selectionUser(plan, batch), selectionSystem(),
		map[string]interface{}{"temperature": 0.1, "response_format": "json"})
	if err != nil {
		return nil, models.NewPipelineError(models.KindLLMUnavailable, "filter", "selection call failed", err)
	}

	var sel selection
	repaired, err := utils.SmartParse(raw, &sel)
	if err != nil {
		return nil, models.NewPipelineError(models.KindLLMUnavailable, "filter",
			fmt.Sprintf("selection response unparseable: %.120s", repaired), err)
	}

	ids := make([]string, 0, len(sel.Selected))
	for _, item := range sel.Selected {
		if id := strings.TrimSpace(item.RceptNo); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// selectByRules implements the deterministic strategy: keyword hits in
// the report title weigh 2, an exact company-name match 3, a doc-type
// match 1, and receipt date breaks ties. Only positive scores survive,
// capped at MaxDocsToReturn. When fewer than minScored candidates score
// at all, the query was too vague for title matching and the most
// recent five are returned instead.
func selectByRules(plan *models.ExpandedQuery, refs []models.FilingRef) []models.FilingRef {
	if len(refs) == 0 {
		return nil
	}

	type scored struct {
		ref   models.FilingRef
		score int
	}
	rows := make([]scored, 0, len(refs))
	for _, ref := range refs {
		rows = append(rows, scored{ref: ref, score: scoreRef(plan, ref)})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		if rows[i].ref.RceptDt != rows[j].ref.RceptDt {
			return rows[i].ref.RceptDt > rows[j].ref.RceptDt
		}
		return rows[i].ref.RceptNo > rows[j].ref.RceptNo
	})

	var out []models.FilingRef
	for _, row := range rows {
		if row.score <= 0 {
			break
		}
		out = append(out, row.ref)
		if len(out) == MaxDocsToReturn {
			break
		}
	}

	if len(out) < minScored {
		return mostRecent(refs, minScored)
	}
	return out
}

func scoreRef(plan *models.ExpandedQuery, ref models.FilingRef) int {
	score := 0
	for _, kw := range plan.Keywords {
		if kw != "" && strings.Contains(ref.ReportNm, kw) {
			score += 2
		}
	}
	for _, c := range plan.Companies {
		if c.Name != "" && ref.CorpName == c.Name {
			score += 3
			break
		}
	}
	if ref.DetailType != "" {
		for _, dt := range plan.DocTypes {
			if ref.DetailType == dt {
				score += 1
				break
			}
		}
	}
	return score
}

func mostRecent(refs []models.FilingRef, n int) []models.FilingRef {
	out := make([]models.FilingRef, len(refs))
	copy(out, refs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RceptDt != out[j].RceptDt {
			return out[i].RceptDt > out[j].RceptDt
		}
		return out[i].RceptNo > out[j].RceptNo
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
