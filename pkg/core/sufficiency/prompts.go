package sufficiency

import (
	"fmt"
	"strings"

	"dart_deepsearch/pkg/core/prompt"
	"dart_deepsearch/pkg/models"
)

// verdictSystemFallback is used when the prompt library has no
// pipeline.sufficiency entry.
const verdictSystemFallback = `You judge whether retrieved Korean corporate disclosures (DART) can answer a user's question.

Return ONLY a JSON object with this exact shape:
{
  "sufficient": true,
  "reasons": ["short reason"],
  "missing_aspects": ["what is still missing, if anything"],
  "proposed_refinement": {
    "broaden_date_range": false,
    "drop_doc_type": false,
    "add_keywords": [],
    "add_doc_types": []
  }
}

RULES:
- sufficient=true when the documents plausibly cover the question, even partially. Searching again is expensive; loop only when the evidence clearly misses the point.
- proposed_refinement only when sufficient=false. Omit it otherwise.
- add_doc_types: DART detail-type codes like B001. add_keywords: short Korean nouns.
- Output raw JSON only. No prose, no markdown fence.`

func verdictSystem() string {
	if p, err := prompt.Get().GetSystemPrompt(prompt.PromptIDs.PipelineSufficiency); err == nil && p != "" {
		return p
	}
	return verdictSystemFallback
}

func verdictUser(snap Snapshot, contentful int) string {
	if pt, err := prompt.Get().GetPrompt(prompt.PromptIDs.PipelineSufficiency); err == nil && pt.UserPromptTmpl != "" {
		pctx := prompt.NewContext().
			Set("Query", snap.Plan.Original).
			Set("Attempt", fmt.Sprintf("%d/%d", snap.Attempt, snap.MaxAttempts)).
			Set("DateRange", snap.Plan.DateRange.String()).
			Set("Contentful", fmt.Sprintf("%d", contentful)).
			Set("Evidence", evidenceLines(snap.Filings))
		if rendered, err := prompt.RenderUserPrompt(pt, pctx); err == nil && rendered != "" {
			return rendered
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", snap.Plan.Original)
	fmt.Fprintf(&sb, "Attempt: %d of %d\n", snap.Attempt, snap.MaxAttempts)
	fmt.Fprintf(&sb, "Search window: %s\n", snap.Plan.DateRange.String())
	if len(snap.Plan.DocTypes) > 0 {
		fmt.Fprintf(&sb, "Doc types searched: %s\n", strings.Join(snap.Plan.DocTypes, ", "))
	}
	fmt.Fprintf(&sb, "\nRetrieved documents (%d readable of %d):\n", contentful, len(snap.Filings))
	sb.WriteString(evidenceLines(snap.Filings))
	return sb.String()
}

func evidenceLines(filings []models.Filing) string {
	if len(filings) == 0 {
		return "(none)\n"
	}
	var sb strings.Builder
	for _, f := range filings {
		status := f.Source
		switch {
		case f.FetchError != "":
			status = "fetch failed"
		case len(f.StructuredData) > 0:
			status = fmt.Sprintf("%s, %d fields", f.Source, len(f.StructuredData))
		case f.Content != "":
			status = fmt.Sprintf("%s, %d chars", f.Source, len([]rune(f.Content)))
		}
		fmt.Fprintf(&sb, "%s | %s | %s | %s | %s\n", f.RceptNo, f.RceptDt, f.CorpName, f.ReportNm, status)
	}
	return sb.String()
}
