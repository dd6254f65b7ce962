// Package expand turns a natural-language question into an executable
// search plan: resolved companies, taxonomy doc-type codes, ranking
// keywords, and a concrete date window. The heavy lifting is an LLM
// extraction call; date parsing runs before it and company resolution
// after it, so the model only has to read, not look things up.
package expand

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"dart_deepsearch/pkg/core/agent"
	"dart_deepsearch/pkg/core/dates"
	"dart_deepsearch/pkg/core/utils"
	"dart_deepsearch/pkg/models"
)

// promptRunner is the slice of agent.Manager the expander calls.
type promptRunner interface {
	ExecutePrompt(ctx context.Context, capability string, rawPrompt string, rawSystemPrompt string, options map[string]interface{}) (string, error)
}

// companyResolver is the directory lookup used in the post-pass.
type companyResolver interface {
	Best(ctx context.Context, name string) (models.CompanyMatch, bool, error)
}

// Extractor is the optional direct JSON-mode client, normally a
// *StructuredExtractor. When nil the expander goes through the
// capability provider instead.
type Extractor interface {
	Extract(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

var corpCodeShapeRe = regexp.MustCompile(`^\d{8}$`)

type Expander struct {
	runner    promptRunner
	extractor Extractor
	directory companyResolver
	now       func() time.Time
}

func NewExpander(runner promptRunner, extractor Extractor, directory companyResolver) *Expander {
	return &Expander{
		runner:    runner,
		extractor: extractor,
		directory: directory,
		now:       time.Now,
	}
}

// extractionResult is the JSON shape the extraction prompt asks for.
type extractionResult struct {
	Companies []string `json:"companies"`
	DocTypes  []string `json:"doc_types"`
	Keywords  []string `json:"keywords"`
	DateText  string   `json:"date_text"`
}

// Expand builds the search plan for query. LLM failure falls back to
// rule-based extraction; only an invalid final plan returns an error,
// and that error carries the ExpansionFailed kind.
func (e *Expander) Expand(ctx context.Context, query string) (*models.ExpandedQuery, error) {
	out := &models.ExpandedQuery{Original: query}
	today := e.now()

	dateRange, dateFound := dates.Parse(query, today)
	dateHint := ""
	if dateFound {
		dateHint = dateRange.String()
	}

	extracted, llmErr := e.extract(ctx, query, today, dateHint)
	if llmErr != nil {
		fmt.Printf("[EXPAND] LLM extraction failed, using rules: %v\n", llmErr)
		out.Warnings = append(out.Warnings, fmt.Sprintf("llm extraction unavailable: %v", llmErr))
		ruled := extractByRules(query)
		extracted = extractionResult{Companies: ruled.Companies, Keywords: ruled.Keywords}
	}

	// The pre-pass range wins; date_text only matters when the query
	// itself did not parse.
	if !dateFound && extracted.DateText != "" {
		if r, ok := dates.Parse(extracted.DateText, today); ok {
			dateRange = r
			dateFound = true
		}
	}
	if !dateFound {
		dateRange = dates.Default(today)
		out.Warnings = append(out.Warnings, "no date phrase recognized; defaulting to last 90 days")
	}
	out.DateRange = dateRange

	out.DocTypes = FilterKnown(extracted.DocTypes)
	out.Keywords = dedupeStrings(extracted.Keywords)

	for _, name := range dedupeStrings(extracted.Companies) {
		match, ok, err := e.directory.Best(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Keep the unresolved name: search runs without corp_code
			// and the filter still matches it textually.
			out.Warnings = append(out.Warnings, fmt.Sprintf("company %q not found in directory", name))
			match = models.CompanyMatch{Company: models.Company{Name: name}}
		}
		out.Companies = append(out.Companies, match)
	}

	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Expander) extract(ctx context.Context, query string, today time.Time, dateHint string) (extractionResult, error) {
	var result extractionResult

	system := extractionSystem()
	user := extractionUser(query, today.Format("2006-01-02"), dateHint, SuggestDetailTypes(query))

	var raw string
	var err error
	switch {
	case e.extractor != nil:
		raw, err = e.extractor.Extract(ctx, system, user)
	case e.runner != nil:
		raw, err = e.runner.ExecutePrompt(ctx, agent.CapabilityExpand, user, system, map[string]interface{}{
			"temperature":     0.1,
			"response_format": "json",
		})
	default:
		err = fmt.Errorf("no extraction client configured")
	}
	if err != nil {
		return result, err
	}

	if _, err := utils.SmartParse(raw, &result); err != nil {
		return result, err
	}
	return result, nil
}

// validate enforces the plan contract. Violations mean the expansion
// itself is broken, so the whole run aborts with ExpansionFailed.
func validate(q *models.ExpandedQuery) error {
	if q.DateRange.IsZero() || q.DateRange.Begin.After(q.DateRange.End) {
		return models.NewPipelineError(models.KindExpansionFailed, "expand",
			fmt.Sprintf("invalid date range %s", q.DateRange), nil)
	}
	for _, c := range q.Companies {
		if c.CorpCode != "" && !corpCodeShapeRe.MatchString(c.CorpCode) {
			return models.NewPipelineError(models.KindExpansionFailed, "expand",
				fmt.Sprintf("malformed corp code %q for %s", c.CorpCode, c.Name), nil)
		}
	}
	for _, dt := range q.DocTypes {
		if !KnownDetailType(dt) {
			return models.NewPipelineError(models.KindExpansionFailed, "expand",
				fmt.Sprintf("unknown doc type %q survived filtering", dt), nil)
		}
	}
	return nil
}

func dedupeStrings(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
