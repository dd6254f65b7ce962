package filter

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"dart_deepsearch/pkg/models"
)

// --- Mocks ---

type MockRunner struct {
	ExecuteFunc func(ctx context.Context, capability string, rawPrompt string, rawSystemPrompt string, options map[string]interface{}) (string, error)
}

func (m *MockRunner) ExecutePrompt(ctx context.Context, capability string, rawPrompt string, rawSystemPrompt string, options map[string]interface{}) (string, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, capability, rawPrompt, rawSystemPrompt, options)
	}
	return `{"selected": []}`, nil
}

func ref(rcept, corp, date, report, detail string) models.FilingRef {
	return models.FilingRef{
		RceptNo:    rcept,
		CorpName:   corp,
		RceptDt:    date,
		ReportNm:   report,
		DetailType: detail,
	}
}

func rceptNos(refs []models.FilingRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.RceptNo
	}
	return out
}

func plan(keywords, docTypes []string, companies ...string) *models.ExpandedQuery {
	q := &models.ExpandedQuery{
		Original: "삼성전자 유상증자 공시",
		Keywords: keywords,
		DocTypes: docTypes,
	}
	for _, name := range companies {
		q.Companies = append(q.Companies, models.CompanyMatch{Company: models.Company{Name: name}})
	}
	return q
}

// --- Tests ---

func TestRuleSelector_OrdersByScoreThenFreshness(t *testing.T) {
	p := plan([]string{"유상증자", "신주"}, []string{"B001"}, "삼성전자")
	refs := []models.FilingRef{
		ref("20240601000001", "삼성전자", "20240601", "유상증자 결정 신주 발행", "B001"), // 2+2+3+1 = 8
		ref("20240620000002", "카카오", "20240620", "유상증자 결정", ""),           // 2
		ref("20240610000003", "삼성전자", "20240610", "반기보고서", ""),            // 3
		ref("20240628000004", "현대자동차", "20240628", "유상증자 결정", ""),         // 2, fresher than the 카카오 row
		ref("20240615000005", "삼성전자", "20240615", "유상증자 결정", ""),          // 2+3 = 5
		ref("20240630000006", "엘지화학", "20240630", "임원 변동 신고", ""),          // 0, dropped
	}

	var s RuleSelector
	got, failures := s.Select(context.Background(), p, refs)
	if len(failures) != 0 {
		t.Fatalf("rule selection reported failures: %+v", failures)
	}

	want := []string{"20240601000001", "20240615000005", "20240610000003", "20240628000004", "20240620000002"}
	if fmt.Sprint(rceptNos(got)) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", rceptNos(got), want)
	}
}

func TestRuleSelector_VagueQueryKeepsMostRecent(t *testing.T) {
	p := plan(nil, nil)
	var refs []models.FilingRef
	for i := 1; i <= 7; i++ {
		refs = append(refs, ref(
			fmt.Sprintf("202406%02d000001", i), "삼성전자",
			fmt.Sprintf("202406%02d", i), "수시공시의무관련사항", ""))
	}

	var s RuleSelector
	got, _ := s.Select(context.Background(), p, refs)
	if len(got) != 5 {
		t.Fatalf("got %d refs, want the 5 most recent", len(got))
	}
	if got[0].RceptDt != "20240607" || got[4].RceptDt != "20240603" {
		t.Errorf("recency window = %s..%s", got[0].RceptDt, got[4].RceptDt)
	}
}

func TestRuleSelector_FewScoredKeepsMostRecent(t *testing.T) {
	p := plan([]string{"유상증자"}, nil)
	refs := []models.FilingRef{
		ref("20240601000001", "삼성전자", "20240601", "유상증자 결정", ""),
		ref("20240610000002", "삼성전자", "20240610", "사업보고서", ""),
		ref("20240620000003", "삼성전자", "20240620", "반기보고서", ""),
	}

	var s RuleSelector
	got, _ := s.Select(context.Background(), p, refs)
	// Only one candidate scored, so recency wins over scoring.
	if len(got) != 3 {
		t.Fatalf("got %d refs, want all 3 by recency", len(got))
	}
	if got[0].RceptNo != "20240620000003" {
		t.Errorf("first = %s, want the newest filing", got[0].RceptNo)
	}
}

func TestRuleSelector_CapsAtThirty(t *testing.T) {
	p := plan([]string{"보고서"}, nil)
	var refs []models.FilingRef
	for i := 1; i <= 40; i++ {
		refs = append(refs, ref(
			fmt.Sprintf("202401%02d0000%02d", i%28+1, i), "삼성전자",
			fmt.Sprintf("202401%02d", i%28+1), "분기보고서", ""))
	}

	var s RuleSelector
	got, _ := s.Select(context.Background(), p, refs)
	if len(got) != MaxDocsToReturn {
		t.Errorf("got %d refs, want cap of %d", len(got), MaxDocsToReturn)
	}
}

func TestLLMSelector_AcceptsOnlyKnownIDs(t *testing.T) {
	refs := []models.FilingRef{
		ref("20240601000001", "삼성전자", "20240601", "유상증자 결정", "B001"),
		ref("20240610000002", "삼성전자", "20240610", "반기보고서", ""),
		ref("20240620000003", "삼성전자", "20240620", "주요사항보고서", "B001"),
	}
	var gotCapability, gotPrompt string
	mock := &MockRunner{
		ExecuteFunc: func(ctx context.Context, capability, rawPrompt, rawSystemPrompt string, options map[string]interface{}) (string, error) {
			gotCapability = capability
			gotPrompt = rawPrompt
			return `{"selected": [
				{"rcept_no": "20240620000003", "reason": "주요사항"},
				{"rcept_no": "99999999999999", "reason": "invented"},
				{"rcept_no": "20240601000001", "reason": "증자"},
				{"rcept_no": "20240620000003", "reason": "duplicate"}
			]}`, nil
		},
	}

	s := NewLLMSelector(mock)
	got, failures := s.Select(context.Background(), plan([]string{"유상증자"}, nil, "삼성전자"), refs)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}

	want := []string{"20240620000003", "20240601000001"}
	if fmt.Sprint(rceptNos(got)) != fmt.Sprint(want) {
		t.Errorf("selection = %v, want %v (llm order, known ids only)", rceptNos(got), want)
	}
	if gotCapability != "filter" {
		t.Errorf("capability = %q", gotCapability)
	}
	if !strings.Contains(gotPrompt, "20240610000002 | 20240610 | 삼성전자 | 반기보고서") {
		t.Errorf("prompt missing candidate line:\n%s", gotPrompt)
	}
}

func TestLLMSelector_RepairsSloppyJSON(t *testing.T) {
	refs := []models.FilingRef{
		ref("20240601000001", "삼성전자", "20240601", "유상증자 결정", ""),
	}
	mock := &MockRunner{
		ExecuteFunc: func(ctx context.Context, capability, rawPrompt, rawSystemPrompt string, options map[string]interface{}) (string, error) {
			return "```json\n{'selected': [{'rcept_no': '20240601000001', 'reason': '증자',},],}\n```", nil
		},
	}

	s := NewLLMSelector(mock)
	got, failures := s.Select(context.Background(), plan(nil, nil), refs)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if len(got) != 1 || got[0].RceptNo != "20240601000001" {
		t.Errorf("selection = %v", rceptNos(got))
	}
}

func TestLLMSelector_FailureFallsBackToRules(t *testing.T) {
	p := plan([]string{"유상증자"}, nil, "삼성전자")
	refs := []models.FilingRef{
		ref("20240601000001", "삼성전자", "20240601", "유상증자 결정", ""),
		ref("20240610000002", "카카오", "20240610", "사업보고서", ""),
	}
	mock := &MockRunner{
		ExecuteFunc: func(ctx context.Context, capability, rawPrompt, rawSystemPrompt string, options map[string]interface{}) (string, error) {
			return "", fmt.Errorf("LLM_GENERATION_ERROR: upstream 500")
		},
	}

	s := NewLLMSelector(mock)
	got, failures := s.Select(context.Background(), p, refs)

	if len(failures) != 1 {
		t.Fatalf("failures = %+v, want the degradation recorded", failures)
	}
	if failures[0].Phase != "filter" || failures[0].Kind != string(models.KindLLMUnavailable) {
		t.Errorf("failure = %+v", failures[0])
	}
	wantRule := selectByRules(p, refs)
	if fmt.Sprint(rceptNos(got)) != fmt.Sprint(rceptNos(wantRule)) {
		t.Errorf("fallback output %v differs from rule output %v", rceptNos(got), rceptNos(wantRule))
	}
}

func TestLLMSelector_EmptySelectionFallsBack(t *testing.T) {
	refs := []models.FilingRef{
		ref("20240601000001", "삼성전자", "20240601", "유상증자 결정", ""),
	}
	mock := &MockRunner{
		ExecuteFunc: func(ctx context.Context, capability, rawPrompt, rawSystemPrompt string, options map[string]interface{}) (string, error) {
			return `{"selected": []}`, nil
		},
	}

	s := NewLLMSelector(mock)
	got, failures := s.Select(context.Background(), plan(nil, nil), refs)
	if len(failures) != 1 || failures[0].Kind != string(models.KindLLMUnavailable) {
		t.Fatalf("failures = %+v, want empty selection recorded", failures)
	}
	if len(got) == 0 {
		t.Error("fallback produced nothing")
	}
}

func TestLLMSelector_CapsAtThirty(t *testing.T) {
	var refs []models.FilingRef
	var items []string
	for i := 1; i <= 40; i++ {
		no := fmt.Sprintf("2024%010d", i)
		refs = append(refs, ref(no, "삼성전자", "20240601", "분기보고서", ""))
		items = append(items, fmt.Sprintf(`{"rcept_no": %q, "reason": "r"}`, no))
	}
	mock := &MockRunner{
		ExecuteFunc: func(ctx context.Context, capability, rawPrompt, rawSystemPrompt string, options map[string]interface{}) (string, error) {
			return `{"selected": [` + strings.Join(items, ",") + `]}`, nil
		},
	}

	s := NewLLMSelector(mock)
	got, failures := s.Select(context.Background(), plan(nil, nil), refs)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	if len(got) != MaxDocsToReturn {
		t.Errorf("got %d refs, want cap of %d", len(got), MaxDocsToReturn)
	}
}

func TestLLMSelector_NoCandidates(t *testing.T) {
	called := false
	mock := &MockRunner{
		ExecuteFunc: func(ctx context.Context, capability, rawPrompt, rawSystemPrompt string, options map[string]interface{}) (string, error) {
			called = true
			return `{"selected": []}`, nil
		},
	}

	s := NewLLMSelector(mock)
	got, failures := s.Select(context.Background(), plan(nil, nil), nil)
	if got != nil || failures != nil {
		t.Errorf("empty input: got %v / %v", got, failures)
	}
	if called {
		t.Error("runner called for empty candidate list")
	}
}
