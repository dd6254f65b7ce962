package expand

import (
	"fmt"
	"strings"

	"dart_deepsearch/pkg/core/prompt"
)

// extractionSystemFallback is used when the prompt library has no
// pipeline.expand entry.
const extractionSystemFallback = `You are a research planner for the Korean corporate disclosure system (DART).
Extract a structured search plan from the user's question.

Return ONLY a JSON object with this exact shape:
{
  "companies": ["company names mentioned in the question"],
  "doc_types": ["DART detail-type codes picked from the catalogue"],
  "keywords": ["2-6 short Korean nouns likely to appear in report titles"],
  "date_text": "the date phrase from the question, copied verbatim, or empty"
}

RULES:
- companies: real company names only, as written (Korean or English). Never invent one; empty list when the question names no company.
- doc_types: codes from the catalogue only. Pick the few that match the disclosure event being asked about; empty list when unsure.
- keywords: terms like 유상증자, 합병, 자기주식 that appear in DART report names. Never include company names or dates here.
- date_text: copy the phrase exactly (e.g. "최근 3개월", "작년"). Empty when the question has no date.
- Output raw JSON only. No prose, no markdown fence.`

func extractionSystem() string {
	if p, err := prompt.Get().GetSystemPrompt(prompt.PromptIDs.PipelineExpand); err == nil && p != "" {
		return p
	}
	return extractionSystemFallback
}

func extractionUser(query, today, dateHint string, codeHints []string) string {
	if pt, err := prompt.Get().GetPrompt(prompt.PromptIDs.PipelineExpand); err == nil && pt.UserPromptTmpl != "" {
		pctx := prompt.NewContext().
			Set("Query", query).
			Set("Today", today).
			Set("DateHint", dateHint).
			Set("Catalog", PromptCatalog()).
			Set("CodeHints", strings.Join(codeHints, ", "))
		if rendered, err := prompt.RenderUserPrompt(pt, pctx); err == nil && rendered != "" {
			return rendered
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", query)
	fmt.Fprintf(&sb, "Today: %s\n", today)
	if dateHint != "" {
		fmt.Fprintf(&sb, "The date range is already resolved to %s. Leave date_text empty.\n", dateHint)
	}
	sb.WriteString("\nDetail-type catalogue:\n")
	sb.WriteString(PromptCatalog())
	if len(codeHints) > 0 {
		fmt.Fprintf(&sb, "\nCodes suggested by keyword heuristics: %s\n", strings.Join(codeHints, ", "))
	}
	return sb.String()
}
