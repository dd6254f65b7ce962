package synthesis

import (
	"fmt"
	"sort"
	"strings"

	"dart_deepsearch/pkg/core/prompt"
	"dart_deepsearch/pkg/core/utils"
	"dart_deepsearch/pkg/models"
)

// narrativeSystemFallback is used when the prompt library has no
// pipeline.narrative entry.
const narrativeSystemFallback = `당신은 DART(전자공시시스템) 공시 정보를 분석하는 전문가입니다. 공시 문서의 구체적인 내용을 분석하여 정확한 정보를 제공합니다.

답변 규칙:
- 제공된 공시 내용에 있는 사실만 사용합니다. 내용에 없는 수치, 일정, 사유를 추측하지 않습니다.
- 금액, 주식 수, 비율, 날짜는 원문 표현 그대로 인용합니다.
- 한국어 Markdown으로 작성하되 코드 펜스로 감싸지 않습니다.
- 질문에 먼저 직접 답하고, 그 다음에 근거가 된 공시를 정리합니다.
- 근거가 부족한 부분은 부족하다고 명시합니다.`

func narrativeSystem() string {
	if p, err := prompt.Get().GetSystemPrompt(prompt.PromptIDs.PipelineNarrative); err == nil && p != "" {
		return p
	}
	return narrativeSystemFallback
}

func narrativeUser(in Inputs, analysis Analysis, findings []Finding, timeline []TimelineEntry) string {
	if pt, err := prompt.Get().GetPrompt(prompt.PromptIDs.PipelineNarrative); err == nil && pt.UserPromptTmpl != "" {
		pctx := prompt.NewContext().
			Set("Query", in.Query).
			Set("Stats", statsBlock(analysis)).
			Set("Findings", findingsBlock(findings)).
			Set("Timeline", timelineBlock(timeline)).
			Set("Documents", documentsBlock(in.Filings))
		if rendered, err := prompt.RenderUserPrompt(pt, pctx); err == nil && rendered != "" {
			return rendered
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "질문: %s\n\n", in.Query)
	sb.WriteString("검색 통계:\n")
	sb.WriteString(statsBlock(analysis))
	if len(findings) > 0 {
		sb.WriteString("\n주요 공시:\n")
		sb.WriteString(findingsBlock(findings))
	}
	if len(timeline) > 0 {
		sb.WriteString("\n시계열:\n")
		sb.WriteString(timelineBlock(timeline))
	}
	sb.WriteString("\n공시 내용:\n")
	sb.WriteString(documentsBlock(in.Filings))
	sb.WriteString("\n위 자료를 바탕으로 질문에 답해 주세요.\n")
	if lang := strings.TrimSpace(in.Language); lang != "" && lang != "ko" {
		fmt.Fprintf(&sb, "답변 언어: %s\n", lang)
	}
	return sb.String()
}

func statsBlock(analysis Analysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- 총 공시: %d건\n", analysis.TotalCount)
	if analysis.DateSpan.Begin != "" && analysis.DateSpan.End != "" {
		fmt.Fprintf(&sb, "- 기간: %s ~ %s\n", analysis.DateSpan.Begin, analysis.DateSpan.End)
	}
	if len(analysis.Companies) > 0 {
		names := analysis.Companies
		if len(names) > 5 {
			names = names[:5]
		}
		fmt.Fprintf(&sb, "- 관련 기업: %s\n", strings.Join(names, ", "))
	}
	if top := topReportTypes(analysis.ReportTypes, 3); len(top) > 0 {
		parts := make([]string, len(top))
		for i, t := range top {
			parts[i] = fmt.Sprintf("%s(%d건)", t.name, t.count)
		}
		fmt.Fprintf(&sb, "- 주요 유형: %s\n", strings.Join(parts, ", "))
	}
	if len(analysis.KeywordsFound) > 0 {
		fmt.Fprintf(&sb, "- 발견된 키워드: %s\n", strings.Join(analysis.KeywordsFound, ", "))
	}
	return sb.String()
}

func findingsBlock(findings []Finding) string {
	var sb strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&sb, "%d. [%s] %s (%s, 접수번호 %s)\n", i+1, f.CorpName, f.ReportNm, f.RceptDt, f.RceptNo)
		if f.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", f.Snippet)
		}
	}
	return sb.String()
}

func timelineBlock(timeline []TimelineEntry) string {
	var sb strings.Builder
	for _, entry := range timeline {
		events := make([]string, 0, len(entry.Events))
		for _, ev := range entry.Events {
			events = append(events, fmt.Sprintf("%s %s", ev.CorpName, ev.ReportNm))
		}
		fmt.Fprintf(&sb, "- %s: %d건 (%s)\n", entry.Date, entry.Count, strings.Join(events, "; "))
	}
	return sb.String()
}

// documentsBlock renders up to narrativeDocs readable filings as the
// model's evidence. Structured rows become key: value lines with keys
// sorted so the prompt is stable across runs.
func documentsBlock(filings []models.Filing) string {
	var sb strings.Builder
	n := 0
	for _, f := range filings {
		if !f.HasContent() {
			continue
		}
		if n == narrativeDocs {
			break
		}
		n++
		fmt.Fprintf(&sb, "\n### 문서 %d\n", n)
		fmt.Fprintf(&sb, "- 기업: %s\n", f.CorpName)
		fmt.Fprintf(&sb, "- 제목: %s\n", f.ReportNm)
		fmt.Fprintf(&sb, "- 공시일: %s\n", f.RceptDt)
		fmt.Fprintf(&sb, "- 접수번호: %s\n", f.RceptNo)
		if f.Content != "" {
			content, _ := utils.TruncateMiddle(f.Content, narrativeDocRunes)
			fmt.Fprintf(&sb, "내용:\n%s\n", content)
		}
		if len(f.StructuredData) > 0 {
			keys := make([]string, 0, len(f.StructuredData))
			for k := range f.StructuredData {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			sb.WriteString("구조화 데이터:\n")
			for _, k := range keys {
				v := f.StructuredData[k]
				if v == nil || v == "" || v == "-" {
					continue
				}
				fmt.Fprintf(&sb, "- %s: %v\n", k, v)
			}
		}
	}
	if n == 0 {
		sb.WriteString("(읽을 수 있는 공시 원문 없음)\n")
	}
	return sb.String()
}
