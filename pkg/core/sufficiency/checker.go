// Package sufficiency decides whether a run's collected evidence can
// answer the question or whether the pipeline should loop with a
// refined plan. Deterministic rules handle the clear cases (attempt
// budget spent, obviously thin evidence after a search failure); the
// LLM is only consulted in between, and its failure defaults to
// stopping rather than looping.
package sufficiency

import (
	"context"
	"fmt"
	"strings"

	"dart_deepsearch/pkg/core/agent"
	"dart_deepsearch/pkg/core/expand"
	"dart_deepsearch/pkg/core/utils"
	"dart_deepsearch/pkg/models"
)

// minContentful is the evidence floor: fewer readable documents than
// this after a failed sub-query means the search window was too narrow.
const minContentful = 3

type promptRunner interface {
	ExecutePrompt(ctx context.Context, capability string, rawPrompt string, rawSystemPrompt string, options map[string]interface{}) (string, error)
}

// Refinement describes how the next attempt's plan should differ.
type Refinement struct {
	BroadenDateRange bool     `json:"broaden_date_range,omitempty"`
	DropDocType      bool     `json:"drop_doc_type,omitempty"`
	AddKeywords      []string `json:"add_keywords,omitempty"`
	AddDocTypes      []string `json:"add_doc_types,omitempty"`
}

func (r *Refinement) empty() bool {
	return r == nil || (!r.BroadenDateRange && !r.DropDocType &&
		len(r.AddKeywords) == 0 && len(r.AddDocTypes) == 0)
}

// Decision is the checker's verdict for one attempt.
type Decision struct {
	Sufficient     bool        `json:"sufficient"`
	Reasons        []string    `json:"reasons,omitempty"`
	MissingAspects []string    `json:"missing_aspects,omitempty"`
	Refinement     *Refinement `json:"proposed_refinement,omitempty"`
}

// Snapshot is what one attempt looks like to the checker.
type Snapshot struct {
	Plan         *models.ExpandedQuery
	Filings      []models.Filing
	Attempt      int
	MaxAttempts  int
	SearchFailed bool
}

// Checker applies the sufficiency rules, consulting the LLM only when
// the rules are silent.
type Checker struct {
	runner promptRunner
}

func NewChecker(runner promptRunner) *Checker {
	return &Checker{runner: runner}
}

// Check decides whether to stop or loop. It never fails: an LLM error
// is recorded and treated as "sufficient" so a flaky model cannot make
// the pipeline spin.
func (c *Checker) Check(ctx context.Context, snap Snapshot) (Decision, []models.PartialFailure) {
	if snap.Attempt >= snap.MaxAttempts {
		return Decision{
			Sufficient: true,
			Reasons:    []string{fmt.Sprintf("attempt budget spent (%d/%d)", snap.Attempt, snap.MaxAttempts)},
		}, nil
	}

	contentful := 0
	for _, f := range snap.Filings {
		if f.HasContent() {
			contentful++
		}
	}

	if contentful < minContentful && snap.SearchFailed {
		return Decision{
			Sufficient: false,
			Reasons: []string{fmt.Sprintf(
				"only %d readable documents after a failed sub-query", contentful)},
			MissingAspects: []string{"wider filing window"},
			Refinement:     &Refinement{BroadenDateRange: true, DropDocType: true},
		}, nil
	}

	decision, err := c.consult(ctx, snap, contentful)
	if err != nil {
		fmt.Printf("[SUFFICIENCY] llm check failed, stopping with current evidence: %v\n", err)
		fail := models.PartialFailure{
			Phase:   "sufficiency",
			Kind:    string(models.KindOf(err)),
			Message: err.Error(),
		}
		return Decision{
			Sufficient: true,
			Reasons:    []string{"sufficiency check unavailable, answering with current evidence"},
		}, []models.PartialFailure{fail}
	}
	return decision, nil
}

func (c *Checker) consult(ctx context.Context, snap Snapshot, contentful int) (Decision, error) {
	if c.runner == nil {
		return Decision{}, models.NewPipelineError(models.KindLLMUnavailable, "sufficiency", "no llm runner configured", nil)
	}

	raw, err := c.runner.ExecutePrompt(ctx, agent.CapabilitySufficiency,
		verdictUser(snap, contentful), verdictSystem(),
		map[string]interface{}{"temperature": 0.1, "response_format": "json"})
	if err != nil {
		return Decision{}, models.NewPipelineError(models.KindLLMUnavailable, "sufficiency", "verdict call failed", err)
	}

	var decision Decision
	if _, err := utils.SmartParse(raw, &decision); err != nil {
		return Decision{}, models.NewPipelineError(models.KindLLMUnavailable, "sufficiency", "verdict unparseable", err)
	}
	if decision.Refinement != nil {
		decision.Refinement.AddDocTypes = expand.FilterKnown(decision.Refinement.AddDocTypes)
		if decision.Refinement.empty() {
			decision.Refinement = nil
		}
	}
	if decision.Sufficient {
		decision.Refinement = nil
	}
	return decision, nil
}

// ApplyRefinement builds the next attempt's plan. Broadening extends
// the window 50% further into the past; dropping removes the last doc
// type, the least specific one since the expander orders them by
// relevance. The caller owns the strictly-different check.
func ApplyRefinement(plan *models.ExpandedQuery, r *Refinement) *models.ExpandedQuery {
	next := clonePlan(plan)
	if r == nil {
		return next
	}

	if r.BroadenDateRange && !next.DateRange.IsZero() {
		span := next.DateRange.End.Sub(next.DateRange.Begin)
		next.DateRange.Begin = next.DateRange.Begin.Add(-span / 2)
	}
	if r.DropDocType && len(next.DocTypes) > 0 {
		next.DocTypes = next.DocTypes[:len(next.DocTypes)-1]
	}
	for _, kw := range r.AddKeywords {
		kw = strings.TrimSpace(kw)
		if kw != "" && !containsString(next.Keywords, kw) {
			next.Keywords = append(next.Keywords, kw)
		}
	}
	for _, dt := range expand.FilterKnown(r.AddDocTypes) {
		if !containsString(next.DocTypes, dt) {
			next.DocTypes = append(next.DocTypes, dt)
		}
	}
	return next
}

// Differs reports whether two plans would produce different searches.
// Warnings and match scores are presentation, not search inputs, so
// they do not count.
func Differs(a, b *models.ExpandedQuery) bool {
	if a == nil || b == nil {
		return a != b
	}
	if !a.DateRange.Begin.Equal(b.DateRange.Begin) || !a.DateRange.End.Equal(b.DateRange.End) {
		return true
	}
	if !equalStrings(a.DocTypes, b.DocTypes) || !equalStrings(a.Keywords, b.Keywords) {
		return true
	}
	if len(a.Companies) != len(b.Companies) {
		return true
	}
	for i := range a.Companies {
		if a.Companies[i].CorpCode != b.Companies[i].CorpCode || a.Companies[i].Name != b.Companies[i].Name {
			return true
		}
	}
	return false
}

func clonePlan(plan *models.ExpandedQuery) *models.ExpandedQuery {
	next := &models.ExpandedQuery{
		Original:  plan.Original,
		DateRange: plan.DateRange,
	}
	next.Companies = append([]models.CompanyMatch(nil), plan.Companies...)
	next.DocTypes = append([]string(nil), plan.DocTypes...)
	next.Keywords = append([]string(nil), plan.Keywords...)
	next.Warnings = append([]string(nil), plan.Warnings...)
	return next
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
