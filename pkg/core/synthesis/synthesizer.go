// Package synthesis turns a finished run's filings into the answer
// envelope: descriptive statistics, key findings, a receipt-date
// timeline, and a narrative. The narrative comes from the LLM when one
// is configured and from a deterministic Korean template when the
// model fails, so the stage itself never aborts a run.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"dart_deepsearch/pkg/core/agent"
	"dart_deepsearch/pkg/core/dartapi"
	"dart_deepsearch/pkg/core/utils"
	"dart_deepsearch/pkg/models"
)

const (
	// MaxFindings caps the key-findings list.
	MaxFindings = 5
	// SnippetRunes is the per-finding excerpt budget.
	SnippetRunes = 280
	// MaxTimelineDates and MaxTimelineEvents bound the timeline block.
	MaxTimelineDates  = 10
	MaxTimelineEvents = 3

	// narrativeDocs filings feed the model, each trimmed to
	// narrativeDocRunes runes.
	narrativeDocs     = 5
	narrativeDocRunes = 1500
)

// Confidence blends the fetch success ratio with an absolute evidence
// floor: five readable documents saturate the depth term, so a run
// that fetched everything but found only one document still reads as
// thin.
const (
	ratioWeight = 0.6
	depthWeight = 0.4
	depthFloor  = 5

	highFloor   = 0.75
	mediumFloor = 0.4
)

// lowEvidenceNote is appended to the answer when every fetch failed
// and the narrative rests on titles alone.
const lowEvidenceNote = "수집된 공시 원문이 없어 근거 부족 상태의 답변입니다. 문서 목록의 제목과 접수일자만 참고해 주세요."

type promptRunner interface {
	ExecutePrompt(ctx context.Context, capability string, rawPrompt string, rawSystemPrompt string, options map[string]interface{}) (string, error)
}

// Analysis is the descriptive statistics block computed over the final
// filing set.
type Analysis struct {
	TotalCount    int               `json:"total_count"`
	Companies     []string          `json:"companies"`
	DateSpan      models.DateWindow `json:"date_span"`
	ReportTypes   map[string]int    `json:"report_types"`
	KeywordsFound []string          `json:"keywords_found,omitempty"`
}

// Finding is one highlighted filing with a short content excerpt.
type Finding struct {
	CorpName  string `json:"corp_name"`
	RceptDt   string `json:"rcept_dt"`
	ReportNm  string `json:"report_nm"`
	Snippet   string `json:"snippet,omitempty"`
	SourceURL string `json:"source_url"`
	RceptNo   string `json:"rcept_no"`
}

// TimelineEntry groups the filings of one receipt date.
type TimelineEntry struct {
	Date   string          `json:"date"`
	Count  int             `json:"count"`
	Events []TimelineEvent `json:"events"`
}

type TimelineEvent struct {
	CorpName string `json:"corp_name"`
	ReportNm string `json:"report_nm"`
	RceptNo  string `json:"rcept_no"`
}

// Inputs is what the orchestrator hands the synthesizer once the
// retrieval loop has stopped.
type Inputs struct {
	Query   string
	Plan    *models.ExpandedQuery
	Filings []models.Filing
	// Sufficient is the final verdict of the sufficiency stage. An
	// exhausted attempt budget never produces a "high" summary.
	Sufficient bool
	// Language hints the narrative language ("ko" when empty). The
	// template fallback stays Korean regardless.
	Language string
}

// Synthesizer assembles the response envelope for a run.
type Synthesizer struct {
	runner promptRunner
}

func New(runner promptRunner) *Synthesizer {
	return &Synthesizer{runner: runner}
}

// Synthesize builds the answer envelope. It does not fail: a narrative
// model error is recorded as a partial failure and the template takes
// over. Telemetry is left zero for the orchestrator to fill in.
func (s *Synthesizer) Synthesize(ctx context.Context, in Inputs) (*models.Envelope, []models.PartialFailure) {
	analysis := Analyze(in.Plan, in.Filings)
	findings := KeyFindings(in.Filings)
	timeline := BuildTimeline(in.Filings)

	contentful := 0
	for _, f := range in.Filings {
		if f.HasContent() {
			contentful++
		}
	}

	var failures []models.PartialFailure
	var answer string
	if len(in.Filings) == 0 {
		answer = noResultsAnswer(in.Query)
	} else {
		text, err := s.narrative(ctx, in, analysis, findings, timeline)
		if err != nil {
			fmt.Printf("[SYNTHESIS] narrative model failed, using template: %v\n", err)
			failures = append(failures, models.PartialFailure{
				Phase:   "synthesis",
				Kind:    string(models.KindOf(err)),
				Message: err.Error(),
			})
			text = templateAnswer(in.Query, analysis, findings, timeline)
		}
		answer = text
		if contentful == 0 {
			answer += "\n\n" + lowEvidenceNote
		}
	}

	confidence := confidenceBucket(confidenceScore(contentful, len(in.Filings)))
	if !in.Sufficient && confidence == models.ConfidenceHigh {
		confidence = models.ConfidenceMedium
	}

	documents := in.Filings
	if documents == nil {
		documents = []models.Filing{}
	}
	companies := analysis.Companies
	if companies == nil {
		companies = []string{}
	}

	fmt.Printf("[SYNTHESIS] %d documents (%d readable), confidence=%s\n",
		len(in.Filings), contentful, confidence)

	return &models.Envelope{
		Query:  in.Query,
		Answer: answer,
		Summary: models.Summary{
			TotalDocuments: len(in.Filings),
			DateRange:      analysis.DateSpan,
			Companies:      companies,
			Confidence:     confidence,
		},
		Documents: documents,
	}, failures
}

// Analyze computes the statistics block. Companies keep first-seen
// order; the date span is the observed min and max receipt date, not
// the search window.
func Analyze(plan *models.ExpandedQuery, filings []models.Filing) Analysis {
	analysis := Analysis{
		TotalCount:  len(filings),
		ReportTypes: map[string]int{},
	}

	seen := map[string]bool{}
	var earliest, latest string
	for _, f := range filings {
		if f.CorpName != "" && !seen[f.CorpName] {
			seen[f.CorpName] = true
			analysis.Companies = append(analysis.Companies, f.CorpName)
		}
		if f.RceptDt != "" {
			if earliest == "" || f.RceptDt < earliest {
				earliest = f.RceptDt
			}
			if f.RceptDt > latest {
				latest = f.RceptDt
			}
		}
		if f.ReportNm != "" {
			analysis.ReportTypes[f.ReportNm]++
		}
	}
	analysis.DateSpan = models.DateWindow{Begin: earliest, End: latest}

	if plan != nil {
		for _, keyword := range plan.Keywords {
			lower := strings.ToLower(keyword)
			for _, f := range filings {
				if strings.Contains(strings.ToLower(f.ReportNm), lower) ||
					strings.Contains(strings.ToLower(f.Content), lower) {
					analysis.KeywordsFound = append(analysis.KeywordsFound, keyword)
					break
				}
			}
		}
	}
	return analysis
}

// KeyFindings picks the first MaxFindings filings in retrieval order.
// The filter already ranked them, so position is relevance.
func KeyFindings(filings []models.Filing) []Finding {
	findings := make([]Finding, 0, MaxFindings)
	for _, f := range filings {
		if len(findings) == MaxFindings {
			break
		}
		url := f.URL
		if url == "" && f.RceptNo != "" {
			url = dartapi.ViewerURL(f.RceptNo)
		}
		findings = append(findings, Finding{
			CorpName:  f.CorpName,
			RceptDt:   f.RceptDt,
			ReportNm:  f.ReportNm,
			Snippet:   utils.Snippet(f.Content, SnippetRunes),
			SourceURL: url,
			RceptNo:   f.RceptNo,
		})
	}
	return findings
}

// BuildTimeline groups filings by receipt date, newest date first,
// keeping the MaxTimelineDates most recent dates with up to
// MaxTimelineEvents events each. Count is the full day's total.
func BuildTimeline(filings []models.Filing) []TimelineEntry {
	byDate := map[string][]models.Filing{}
	var dates []string
	for _, f := range filings {
		if f.RceptDt == "" {
			continue
		}
		if _, ok := byDate[f.RceptDt]; !ok {
			dates = append(dates, f.RceptDt)
		}
		byDate[f.RceptDt] = append(byDate[f.RceptDt], f)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > MaxTimelineDates {
		dates = dates[:MaxTimelineDates]
	}

	timeline := make([]TimelineEntry, 0, len(dates))
	for _, date := range dates {
		docs := byDate[date]
		entry := TimelineEntry{Date: date, Count: len(docs)}
		for _, doc := range docs {
			if len(entry.Events) == MaxTimelineEvents {
				break
			}
			entry.Events = append(entry.Events, TimelineEvent{
				CorpName: doc.CorpName,
				ReportNm: doc.ReportNm,
				RceptNo:  doc.RceptNo,
			})
		}
		timeline = append(timeline, entry)
	}
	return timeline
}

func (s *Synthesizer) narrative(ctx context.Context, in Inputs, analysis Analysis, findings []Finding, timeline []TimelineEntry) (string, error) {
	if s.runner == nil {
		return "", models.NewPipelineError(models.KindLLMUnavailable, "synthesis", "no llm provider configured", nil)
	}
	raw, err := s.runner.ExecutePrompt(ctx, agent.CapabilitySynthesis,
		narrativeUser(in, analysis, findings, timeline), narrativeSystem(),
		map[string]interface{}{"temperature": 0.2, "max_tokens": 5000})
	if err != nil {
		return "", models.NewPipelineError(models.KindLLMUnavailable, "synthesis", "narrative call failed", err)
	}
	cleaned := utils.CleanMarkdown(raw)
	if cleaned == "" || !utils.ValidateMarkdown(cleaned) {
		return "", models.NewPipelineError(models.KindLLMUnavailable, "synthesis",
			"model returned no usable narrative", nil)
	}
	return cleaned, nil
}

func confidenceScore(contentful, total int) float64 {
	if total == 0 || contentful == 0 {
		return 0
	}
	ratio := float64(contentful) / float64(total)
	depth := float64(contentful) / depthFloor
	if depth > 1 {
		depth = 1
	}
	return ratioWeight*ratio + depthWeight*depth
}

func confidenceBucket(score float64) string {
	switch {
	case score >= highFloor:
		return models.ConfidenceHigh
	case score >= mediumFloor:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// templateAnswer is the deterministic fallback narrative. Same
// structure every time so downstream rendering stays predictable.
func templateAnswer(query string, analysis Analysis, findings []Finding, timeline []TimelineEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "'%s'에 대한 검색 결과입니다.\n\n", query)
	fmt.Fprintf(&sb, "총 %d건의 관련 공시를 찾았습니다.\n", analysis.TotalCount)
	if analysis.DateSpan.Begin != "" && analysis.DateSpan.End != "" {
		fmt.Fprintf(&sb, "기간: %s ~ %s\n", analysis.DateSpan.Begin, analysis.DateSpan.End)
	}
	if len(analysis.Companies) > 0 {
		names := analysis.Companies
		if len(names) > 5 {
			names = names[:5]
		}
		fmt.Fprintf(&sb, "관련 기업: %s\n", strings.Join(names, ", "))
	}
	if top := topReportTypes(analysis.ReportTypes, 3); len(top) > 0 {
		parts := make([]string, len(top))
		for i, t := range top {
			parts[i] = fmt.Sprintf("%s(%d건)", t.name, t.count)
		}
		fmt.Fprintf(&sb, "주요 공시 유형: %s\n", strings.Join(parts, ", "))
	}

	if len(findings) > 0 {
		sb.WriteString("\n### 주요 공시\n")
		limit := len(findings)
		if limit > 3 {
			limit = 3
		}
		for i, f := range findings[:limit] {
			fmt.Fprintf(&sb, "%d. [%s] %s (%s)\n", i+1, f.CorpName, f.ReportNm, f.RceptDt)
			if f.Snippet != "" {
				fmt.Fprintf(&sb, "   - %s\n", f.Snippet)
			}
		}
	}

	if len(timeline) > 0 && len(timeline[0].Events) > 0 {
		latest := timeline[0]
		sb.WriteString("\n### 최근 동향\n")
		fmt.Fprintf(&sb, "가장 최근 공시일: %s (%d건)\n", latest.Date, latest.Count)
		limit := len(latest.Events)
		if limit > 2 {
			limit = 2
		}
		for _, ev := range latest.Events[:limit] {
			fmt.Fprintf(&sb, "- %s: %s\n", ev.CorpName, ev.ReportNm)
		}
	}

	if len(analysis.KeywordsFound) > 0 {
		fmt.Fprintf(&sb, "\n발견된 키워드: %s\n", strings.Join(analysis.KeywordsFound, ", "))
	}
	return strings.TrimSpace(sb.String())
}

func noResultsAnswer(query string) string {
	return fmt.Sprintf("'%s'에 대한 공시를 찾지 못했습니다.\n\n검색 기간을 넓히거나 기업명을 정확한 상장사명으로 바꿔 다시 시도해 보세요.", query)
}

type reportTypeCount struct {
	name  string
	count int
}

func topReportTypes(histogram map[string]int, n int) []reportTypeCount {
	top := make([]reportTypeCount, 0, len(histogram))
	for name, count := range histogram {
		top = append(top, reportTypeCount{name: name, count: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].count != top[j].count {
			return top[i].count > top[j].count
		}
		return top[i].name < top[j].name
	})
	if len(top) > n {
		top = top[:n]
	}
	return top
}
