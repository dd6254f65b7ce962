package e2e_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"dart_deepsearch/pkg/core/agent"
	"dart_deepsearch/pkg/core/pipeline"
	"dart_deepsearch/pkg/models"
)

// A broad market question with no company keeps corp_code off the
// search, fans out over the expanded doc types and still answers from
// fetched document text.
func TestDeepSearch_MergerQueryWithoutCompany(t *testing.T) {
	today := time.Now()
	begin := today.AddDate(0, -1, 0).Format("20060102")
	end := today.Format("20060102")
	dtMerger := today.AddDate(0, 0, -5).Format("20060102")
	dtClosing := today.AddDate(0, 0, -12).Format("20060102")
	rceptMerger := dtMerger + "000101"
	rceptClosing := dtClosing + "000202"

	dart := newFakeDART()
	dart.listRows = func(params url.Values) []models.FilingRef {
		switch params.Get("pblntf_detail_ty") {
		case "B001":
			return []models.FilingRef{
				filingRef(rceptMerger, "00164742", "현대자동차", "주요사항보고서(회사합병결정)", dtMerger, "B001"),
			}
		case "E003":
			return []models.FilingRef{
				filingRef(rceptClosing, "00258801", "카카오", "합병등종료보고서(합병)", dtClosing, "E003"),
			}
		}
		return nil
	}
	dart.documents[rceptMerger] = "1. 합병방법: 현대자동차를 존속회사로 하는 소규모합병. 3. 합병비율: 1 : 0.2345678"
	dart.documents[rceptClosing] = "합병등기가 완료되어 확정 합병비율 1 : 0.2345678 이 적용되었습니다."

	model := newScriptedModel().
		script(agent.CapabilityExpand, expansionJSON(nil, []string{"B001", "E003"}, []string{"합병", "합병비율"}, "최근 1개월")).
		script(agent.CapabilityFilter, selectionJSON(rceptMerger, rceptClosing)).
		script(agent.CapabilitySufficiency, sufficientVerdict).
		script(agent.CapabilitySynthesis, "## 합병 비율\n\n현대자동차의 합병 공시 기준 합병비율은 1 : 0.2345678 입니다.")

	h := newHarness(t, dart, model)
	env, err := h.orch.DeepSearch(context.Background(),
		"최근 1개월 상장회사의 인수 합병 공시에서 합병 비율을 알려줘", pipeline.RunOptions{})
	if err != nil {
		t.Fatalf("DeepSearch() error = %v", err)
	}
	if env.Error != nil {
		t.Fatalf("envelope error = %+v", env.Error)
	}

	calls := dart.recordedListCalls()
	if len(calls) < 2 {
		t.Fatalf("list calls = %d, want one per doc type", len(calls))
	}
	seenTypes := map[string]bool{}
	corpless := false
	for _, params := range calls {
		if got := params.Get("bgn_de"); got != begin {
			t.Errorf("bgn_de = %s, want %s", got, begin)
		}
		if got := params.Get("end_de"); got != end {
			t.Errorf("end_de = %s, want %s", got, end)
		}
		seenTypes[params.Get("pblntf_detail_ty")] = true
		if params.Get("corp_code") == "" {
			corpless = true
		}
	}
	if !seenTypes["B001"] || !seenTypes["E003"] {
		t.Errorf("searched doc types = %v, want both B001 and E003", seenTypes)
	}
	if !corpless {
		t.Error("no corp-less sub-query for a question without a company")
	}

	if env.Summary.TotalDocuments != 2 {
		t.Fatalf("TotalDocuments = %d, want 2", env.Summary.TotalDocuments)
	}
	for _, doc := range env.Documents {
		if doc.RceptDt < begin || doc.RceptDt > end {
			t.Errorf("document %s dated %s is outside %s..%s", doc.RceptNo, doc.RceptDt, begin, end)
		}
		if !doc.HasContent() {
			t.Errorf("document %s has no content, fetch_error=%q", doc.RceptNo, doc.FetchError)
		}
	}
	if !strings.Contains(env.Answer, "합병비율") {
		t.Errorf("answer does not mention 합병비율: %q", env.Answer)
	}
	if env.Telemetry.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", env.Telemetry.Attempts)
	}
}

// A fuzzy company name resolves through the corp-code directory and
// every sub-query carries the canonical corp_code.
func TestDeepSearch_ResolvesFuzzyCompanyName(t *testing.T) {
	today := time.Now()
	dtCancel := today.AddDate(0, 0, -20).Format("20060102")
	rceptCancel := dtCancel + "000321"
	begin := today.AddDate(0, -3, 0).Format("20060102")

	dart := newFakeDART()
	dart.listRows = func(params url.Values) []models.FilingRef {
		if params.Get("corp_code") != "00547583" || params.Get("pblntf_detail_ty") != "B001" {
			return nil
		}
		return []models.FilingRef{
			filingRef(rceptCancel, "00547583", "메리츠금융지주", "주요사항보고서(주식매수선택권취소결의)", dtCancel, "B001"),
		}
	}
	dart.documents[rceptCancel] = "주식매수선택권 부여 취소 결의. 취소 수량: 120,000주, 대상자: 임원 3인."

	model := newScriptedModel().
		script(agent.CapabilityExpand, expansionJSON([]string{"메리츠금융"}, []string{"B001", "E004"}, []string{"주식매수선택권", "취소"}, "지난 3개월")).
		script(agent.CapabilityFilter, selectionJSON(rceptCancel)).
		script(agent.CapabilitySufficiency, sufficientVerdict).
		script(agent.CapabilitySynthesis, "메리츠금융지주는 임원 3인에게 부여한 주식매수선택권 120,000주의 취소를 결의했습니다.")

	h := newHarness(t, dart, model)
	env, err := h.orch.DeepSearch(context.Background(),
		"메리츠금융의 지난 3개월 내 스톡옵션 취소 결의 내역을 찾아줘", pipeline.RunOptions{})
	if err != nil {
		t.Fatalf("DeepSearch() error = %v", err)
	}

	calls := dart.recordedListCalls()
	if len(calls) == 0 {
		t.Fatal("no list calls recorded")
	}
	for _, params := range calls {
		if got := params.Get("corp_code"); got != "00547583" {
			t.Errorf("corp_code = %q, want 00547583 on every sub-query", got)
		}
		if got := params.Get("bgn_de"); got != begin {
			t.Errorf("bgn_de = %s, want %s", got, begin)
		}
	}

	if env.Summary.TotalDocuments != 1 {
		t.Fatalf("TotalDocuments = %d, want 1", env.Summary.TotalDocuments)
	}
	for _, doc := range env.Documents {
		if doc.CorpName != "메리츠금융지주" {
			t.Errorf("document %s belongs to %s, want 메리츠금융지주", doc.RceptNo, doc.CorpName)
		}
	}
	if len(env.Summary.Companies) != 1 || env.Summary.Companies[0] != "메리츠금융지주" {
		t.Errorf("Summary.Companies = %v, want [메리츠금융지주]", env.Summary.Companies)
	}
	if !strings.Contains(env.Answer, "메리츠금융지주") {
		t.Errorf("answer does not name the resolved company: %q", env.Answer)
	}
}

// Rows the API returns outside the requested window are dropped before
// relevance filtering: they reach neither the model nor the envelope.
func TestDeepSearch_DropsRowsOutsideWindow(t *testing.T) {
	const (
		rceptIn  = "20240415000100"
		rceptOut = "20230101000999"
	)

	dart := newFakeDART()
	dart.listRows = func(params url.Values) []models.FilingRef {
		return []models.FilingRef{
			filingRef(rceptIn, "00126380", "삼성전자", "주요사항보고서(유상증자결정)", "20240415", "B001"),
			filingRef(rceptOut, "00126380", "삼성전자", "주요사항보고서(유상증자결정)", "20230101", "B001"),
		}
	}
	dart.documents[rceptIn] = "유상증자 결정. 신주의 종류와 수: 보통주 1,000,000주. 자금조달 목적: 시설자금."

	model := newScriptedModel().
		script(agent.CapabilityExpand, expansionJSON([]string{"삼성전자"}, []string{"B001"}, []string{"유상증자"}, "2024년")).
		script(agent.CapabilityFilter, selectionJSON(rceptIn)).
		script(agent.CapabilitySufficiency, sufficientVerdict).
		script(agent.CapabilitySynthesis, "삼성전자는 2024년 4월 시설자금 목적의 유상증자를 결의했습니다.")

	h := newHarness(t, dart, model)
	env, err := h.orch.DeepSearch(context.Background(),
		"삼성전자 2024년 유상증자 공시 내역", pipeline.RunOptions{})
	if err != nil {
		t.Fatalf("DeepSearch() error = %v", err)
	}

	for _, doc := range env.Documents {
		if doc.RceptNo == rceptOut {
			t.Errorf("out-of-window filing %s made it into the envelope", rceptOut)
		}
	}
	if env.Summary.TotalDocuments != 1 {
		t.Errorf("TotalDocuments = %d, want 1", env.Summary.TotalDocuments)
	}
	if !h.model.promptContains(agent.CapabilityFilter, rceptIn) {
		t.Errorf("in-window filing %s never reached the relevance filter", rceptIn)
	}
	if h.model.promptContains(agent.CapabilityFilter, rceptOut) {
		t.Errorf("out-of-window filing %s was offered to the relevance filter", rceptOut)
	}
}

// Repeating an identical query is served from the cache: no second
// round of DART requests, only model calls.
func TestDeepSearch_RepeatQueryServedFromCache(t *testing.T) {
	const rcept = "20240220000123"

	dart := newFakeDART()
	dart.listRows = func(params url.Values) []models.FilingRef {
		if params.Get("corp_code") != "00126380" {
			return nil
		}
		return []models.FilingRef{
			filingRef(rcept, "00126380", "삼성전자", "주요사항보고서(유상증자결정)", "20240220", "B001"),
		}
	}
	dart.structuredRows = func(endpoint string, params url.Values) []map[string]interface{} {
		if endpoint != "piicDecsn" {
			return nil
		}
		return []map[string]interface{}{{
			"rcept_no":      rcept,
			"corp_code":     "00126380",
			"corp_name":     "삼성전자",
			"nstk_ostk_cnt": "1000000",
			"fdpp_fclt":     "50000000000",
			"ic_mthn":       "주주배정증자",
		}}
	}

	model := newScriptedModel().
		script(agent.CapabilityExpand, expansionJSON([]string{"삼성전자"}, []string{"B001"}, []string{"유상증자"}, "2024년 1분기")).
		script(agent.CapabilityFilter, selectionJSON(rcept)).
		script(agent.CapabilitySufficiency, sufficientVerdict).
		script(agent.CapabilitySynthesis, "삼성전자는 2024년 2월 주주배정 방식의 유상증자를 결의했습니다.")

	h := newHarness(t, dart, model)
	query := "삼성전자 2024년 1분기 유상증자 결정 알려줘"

	env1, err := h.orch.DeepSearch(context.Background(), query, pipeline.RunOptions{})
	if err != nil {
		t.Fatalf("first DeepSearch() error = %v", err)
	}
	afterFirst := dart.requestCount()

	env2, err := h.orch.DeepSearch(context.Background(), query, pipeline.RunOptions{})
	if err != nil {
		t.Fatalf("second DeepSearch() error = %v", err)
	}

	if delta := dart.requestCount() - afterFirst; delta != 0 {
		t.Errorf("second run made %d DART requests, want 0", delta)
	}
	if env2.Telemetry.CacheHitRate < 0.9 {
		t.Errorf("second run CacheHitRate = %.2f, want at least 0.9", env2.Telemetry.CacheHitRate)
	}
	if env2.Telemetry.LLMCalls != 4 {
		t.Errorf("second run LLMCalls = %d, want 4 (expand, filter, sufficiency, synthesis)", env2.Telemetry.LLMCalls)
	}

	if len(env1.Documents) != len(env2.Documents) {
		t.Fatalf("document count changed between runs: %d then %d", len(env1.Documents), len(env2.Documents))
	}
	for i := range env1.Documents {
		if env1.Documents[i].RceptNo != env2.Documents[i].RceptNo {
			t.Errorf("document %d differs between runs: %s then %s",
				i, env1.Documents[i].RceptNo, env2.Documents[i].RceptNo)
		}
	}
	if env2.Documents[0].Source != models.SourceStructured {
		t.Errorf("Source = %s, want structured", env2.Documents[0].Source)
	}
}

// When every document source fails the run still answers: the filings
// stay listed with their fetch errors, confidence drops to low and the
// answer flags the missing evidence.
func TestDeepSearch_AllFetchesFailStillAnswers(t *testing.T) {
	today := time.Now()
	dtFirst := today.AddDate(0, 0, -7).Format("20060102")
	dtSecond := today.AddDate(0, 0, -14).Format("20060102")
	rceptFirst := dtFirst + "000111"
	rceptSecond := dtSecond + "000222"

	dart := newFakeDART()
	dart.listRows = func(params url.Values) []models.FilingRef {
		if params.Get("pblntf_detail_ty") != "B001" {
			return nil
		}
		return []models.FilingRef{
			filingRef(rceptFirst, "00164742", "현대자동차", "주요사항보고서(전환사채권발행결정)", dtFirst, "B001"),
			filingRef(rceptSecond, "00258801", "카카오", "주요사항보고서(전환사채권발행결정)", dtSecond, "B001"),
		}
	}
	dart.documentDown = true
	dart.viewerDown = true

	model := newScriptedModel().
		script(agent.CapabilityExpand, expansionJSON(nil, []string{"B001"}, []string{"전환사채"}, "최근 1개월")).
		script(agent.CapabilityFilter, selectionJSON(rceptFirst, rceptSecond)).
		script(agent.CapabilitySufficiency, `{"sufficient": false, "reasons": ["공시 본문을 확보하지 못했습니다."], "missing_aspects": ["공시 원문"]}`).
		script(agent.CapabilitySynthesis, "전환사채 발행 결정 공시 2건이 확인되었으나 본문 수집에 실패해 상세 조건은 제시할 수 없습니다.")

	h := newHarness(t, dart, model)
	env, err := h.orch.DeepSearch(context.Background(),
		"최근 1개월 전환사채 발행 결정 공시", pipeline.RunOptions{})
	if err != nil {
		t.Fatalf("DeepSearch() error = %v", err)
	}

	if env.Summary.TotalDocuments != 2 {
		t.Fatalf("TotalDocuments = %d, want the filings listed despite fetch failures", env.Summary.TotalDocuments)
	}
	for _, doc := range env.Documents {
		if doc.FetchError == "" {
			t.Errorf("document %s has no fetch_error", doc.RceptNo)
		}
		if doc.Source != models.SourceNone {
			t.Errorf("document %s Source = %s, want none", doc.RceptNo, doc.Source)
		}
		if doc.HasContent() {
			t.Errorf("document %s claims content after a failed fetch", doc.RceptNo)
		}
	}
	if env.Summary.Confidence != models.ConfidenceLow {
		t.Errorf("Confidence = %s, want low", env.Summary.Confidence)
	}
	if !strings.Contains(env.Answer, "근거 부족") {
		t.Errorf("answer does not flag the missing evidence: %q", env.Answer)
	}

	fetchFailures := 0
	for _, pf := range env.Telemetry.PartialFailures {
		if pf.Phase == "fetch" {
			fetchFailures++
		}
	}
	if fetchFailures < 2 {
		t.Errorf("fetch partial failures = %d, want one per document", fetchFailures)
	}
	if h.model.callCount(agent.CapabilitySynthesis) != 1 {
		t.Errorf("synthesis calls = %d, want 1", h.model.callCount(agent.CapabilitySynthesis))
	}
}

// Cancelling mid-fetch returns the cancelled envelope quickly and
// never reaches synthesis.
func TestDeepSearch_CancellationAbortsRun(t *testing.T) {
	today := time.Now()
	dt := today.AddDate(0, 0, -3).Format("20060102")
	rcept := dt + "000777"

	dart := newFakeDART()
	dart.listRows = func(params url.Values) []models.FilingRef {
		return []models.FilingRef{
			filingRef(rcept, "00126380", "삼성전자", "주요사항보고서(유상증자결정)", dt, "B001"),
		}
	}
	dart.documents[rcept] = "유상증자 결정."
	dart.documentDelay = 3 * time.Second

	model := newScriptedModel().
		script(agent.CapabilityExpand, expansionJSON(nil, []string{"B001"}, []string{"유상증자"}, "최근 1개월")).
		script(agent.CapabilityFilter, selectionJSON(rcept))

	h := newHarness(t, dart, model)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	env, err := h.orch.DeepSearch(ctx, "최근 1개월 유상증자 결정 공시", pipeline.RunOptions{})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("DeepSearch() error = %v, cancellation must come back in the envelope", err)
	}
	if env.Error == nil || env.Error.Kind != models.KindCancelled {
		t.Fatalf("envelope error = %+v, want kind cancelled", env.Error)
	}
	if env.Answer != "검색이 취소되었습니다." {
		t.Errorf("Answer = %q", env.Answer)
	}
	if elapsed >= time.Second {
		t.Errorf("cancelled run took %v, want under 1s", elapsed)
	}
	if env.Telemetry.DurationMS >= 1000 {
		t.Errorf("DurationMS = %d, want under 1000", env.Telemetry.DurationMS)
	}
	if got := h.model.callCount(agent.CapabilitySynthesis); got != 0 {
		t.Errorf("synthesis calls after cancellation = %d, want 0", got)
	}
	if got := h.model.callCount(agent.CapabilitySufficiency); got != 0 {
		t.Errorf("sufficiency calls after cancellation = %d, want 0", got)
	}
}
