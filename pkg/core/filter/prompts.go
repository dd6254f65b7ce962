package filter

import (
	"fmt"
	"strings"

	"dart_deepsearch/pkg/core/prompt"
	"dart_deepsearch/pkg/models"
)

// selectionSystemFallback is used when the prompt library has no
// pipeline.filter entry.
const selectionSystemFallback = `You select relevant filings from the Korean corporate disclosure system (DART).
You are given a user question and a numbered list of candidate filings, one per line:
rcept_no | date | company | report title

Return ONLY a JSON object with this exact shape:
{
  "selected": [
    {"rcept_no": "20240610000001", "reason": "short reason"}
  ]
}

RULES:
- Pick every filing that plausibly helps answer the question. When unsure, include it.
- Use rcept_no values copied exactly from the list. Never invent one.
- Order the list from most to least relevant.
- Select at most 30.
- Output raw JSON only. No prose, no markdown fence.`

func selectionSystem() string {
	if p, err := prompt.Get().GetSystemPrompt(prompt.PromptIDs.PipelineFilter); err == nil && p != "" {
		return p
	}
	return selectionSystemFallback
}

func selectionUser(plan *models.ExpandedQuery, batch []models.FilingRef) string {
	if pt, err := prompt.Get().GetPrompt(prompt.PromptIDs.PipelineFilter); err == nil && pt.UserPromptTmpl != "" {
		pctx := prompt.NewContext().
			Set("Query", plan.Original).
			Set("Keywords", strings.Join(plan.Keywords, ", ")).
			Set("Candidates", candidateLines(batch))
		if rendered, err := prompt.RenderUserPrompt(pt, pctx); err == nil && rendered != "" {
			return rendered
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", plan.Original)
	if len(plan.Keywords) > 0 {
		fmt.Fprintf(&sb, "Keywords: %s\n", strings.Join(plan.Keywords, ", "))
	}
	fmt.Fprintf(&sb, "\nCandidates (%d):\n", len(batch))
	sb.WriteString(candidateLines(batch))
	return sb.String()
}

func candidateLines(batch []models.FilingRef) string {
	var sb strings.Builder
	for _, ref := range batch {
		fmt.Fprintf(&sb, "%s | %s | %s | %s\n", ref.RceptNo, ref.RceptDt, ref.CorpName, ref.ReportNm)
	}
	return sb.String()
}
