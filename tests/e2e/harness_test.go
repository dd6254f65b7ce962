package e2e_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"dart_deepsearch/pkg/core/cache"
	"dart_deepsearch/pkg/core/dartapi"
	"dart_deepsearch/pkg/core/pipeline"
	"dart_deepsearch/pkg/models"
)

// fakeDART serves the OpenDART wire surface from in-test fixtures:
// filing lists, the corp-code directory ZIP, document archive ZIPs,
// structured detail endpoints and the viewer pages. It records every
// request so tests can assert on exactly what the pipeline asked for.
type fakeDART struct {
	mu        sync.Mutex
	listCalls []url.Values
	requests  int

	companies []models.Company
	// listRows answers /api/list.json per sub-query. Nil or empty
	// result is served as the no-data status 013.
	listRows func(params url.Values) []models.FilingRef
	// structuredRows answers the detail endpoints (piicDecsn and
	// friends). Nil or empty is served as status 013.
	structuredRows func(endpoint string, params url.Values) []map[string]interface{}
	// documents maps receipt numbers to primary document text, wrapped
	// in a DART-style XML archive on the way out.
	documents     map[string]string
	documentDown  bool
	documentDelay time.Duration
	viewerDown    bool
}

func newFakeDART() *fakeDART {
	return &fakeDART{
		companies: []models.Company{
			{CorpCode: "00126380", Name: "삼성전자", StockCode: "005930"},
			{CorpCode: "00126186", Name: "삼성전기", StockCode: "009150"},
			{CorpCode: "00547583", Name: "메리츠금융지주", StockCode: "138040"},
			{CorpCode: "00258801", Name: "카카오", StockCode: "035720"},
			{CorpCode: "00164742", Name: "현대자동차", StockCode: "005380"},
		},
		documents: map[string]string{},
	}
}

func (f *fakeDART) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()

	switch {
	case r.URL.Path == "/api/list.json":
		f.serveList(w, r)
	case r.URL.Path == "/api/corpCode.xml":
		w.Write(corpCodeZIP(f.companies))
	case r.URL.Path == "/api/document.xml":
		f.serveDocument(w, r)
	case r.URL.Path == "/dsaf001/main.do" || r.URL.Path == "/report/viewer.do":
		f.serveViewer(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/") && strings.HasSuffix(r.URL.Path, ".json"):
		f.serveDetail(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeDART) serveList(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	f.mu.Lock()
	f.listCalls = append(f.listCalls, params)
	f.mu.Unlock()

	var rows []models.FilingRef
	if f.listRows != nil {
		rows = f.listRows(params)
	}
	if len(rows) == 0 {
		writeJSON(w, map[string]interface{}{"status": "013", "message": "조회된 데이타가 없습니다."})
		return
	}
	writeJSON(w, map[string]interface{}{
		"status":      "000",
		"message":     "정상",
		"page_no":     1,
		"page_count":  100,
		"total_count": len(rows),
		"total_page":  1,
		"list":        rows,
	})
}

func (f *fakeDART) serveDocument(w http.ResponseWriter, r *http.Request) {
	if f.documentDelay > 0 {
		select {
		case <-time.After(f.documentDelay):
		case <-r.Context().Done():
			return
		}
	}
	rcept := r.URL.Query().Get("rcept_no")
	f.mu.Lock()
	text, ok := f.documents[rcept]
	down := f.documentDown
	f.mu.Unlock()
	if down || !ok {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<result><status>014</status><message>파일이 존재하지 않습니다.</message></result>`))
		return
	}
	w.Write(documentZIP(rcept, text))
}

func (f *fakeDART) serveViewer(w http.ResponseWriter, r *http.Request) {
	if f.viewerDown {
		http.NotFound(w, r)
		return
	}
	rcept := r.URL.Query().Get("rcpNo")
	f.mu.Lock()
	text := f.documents[rcept]
	f.mu.Unlock()
	fmt.Fprintf(w, "<html><body><div>%s</div></body></html>", html.EscapeString(text))
}

func (f *fakeDART) serveDetail(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/"), ".json")
	var rows []map[string]interface{}
	if f.structuredRows != nil {
		rows = f.structuredRows(endpoint, r.URL.Query())
	}
	if len(rows) == 0 {
		writeJSON(w, map[string]interface{}{"status": "013", "message": "조회된 데이타가 없습니다."})
		return
	}
	writeJSON(w, map[string]interface{}{"status": "000", "message": "정상", "list": rows})
}

func (f *fakeDART) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeDART) recordedListCalls() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.listCalls...)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	json.NewEncoder(w).Encode(v)
}

func corpCodeZIP(companies []models.Company) []byte {
	var doc bytes.Buffer
	doc.WriteString(`<?xml version="1.0" encoding="UTF-8"?><result>`)
	for _, c := range companies {
		fmt.Fprintf(&doc,
			"<list><corp_code>%s</corp_code><corp_name>%s</corp_name><stock_code>%s</stock_code><modify_date>20260801</modify_date></list>",
			c.CorpCode, c.Name, c.StockCode)
	}
	doc.WriteString("</result>")
	return zipFile("CORPCODE.xml", doc.Bytes())
}

func documentZIP(rceptNo, text string) []byte {
	body := fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><DOCUMENT><BODY><P>%s</P></BODY></DOCUMENT>`,
		html.EscapeString(text))
	return zipFile(rceptNo+".xml", []byte(body))
}

func zipFile(name string, content []byte) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create(name)
	if err == nil {
		fw.Write(content)
	}
	zw.Close()
	return buf.Bytes()
}

// scriptedModel stands in for the agent manager. Each capability gets a
// queue of canned responses; the last response repeats once the queue
// drains, and an unscripted capability fails so a stage can never fall
// back to a model the test did not declare.
type scriptedModel struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     map[string]int
	prompts   map[string][]string
}

func newScriptedModel() *scriptedModel {
	return &scriptedModel{
		responses: map[string][]string{},
		calls:     map[string]int{},
		prompts:   map[string][]string{},
	}
}

func (s *scriptedModel) script(capability string, responses ...string) *scriptedModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[capability] = append(s.responses[capability], responses...)
	return s
}

func (s *scriptedModel) ExecutePrompt(ctx context.Context, capability string, rawPrompt string, rawSystemPrompt string, options map[string]interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[capability]++
	s.prompts[capability] = append(s.prompts[capability], rawPrompt)

	queue := s.responses[capability]
	if len(queue) == 0 {
		return "", fmt.Errorf("no scripted response for capability %q", capability)
	}
	resp := queue[0]
	if len(queue) > 1 {
		s.responses[capability] = queue[1:]
	}
	return resp, nil
}

func (s *scriptedModel) callCount(capability string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[capability]
}

func (s *scriptedModel) promptContains(capability, needle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prompts[capability] {
		if strings.Contains(p, needle) {
			return true
		}
	}
	return false
}

// reroute sends every request to the fixture server regardless of the
// production hosts baked into the transport URLs.
type reroute struct {
	target *url.URL
}

func (rt reroute) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = rt.target.Scheme
	clone.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

type harness struct {
	dart  *fakeDART
	model *scriptedModel
	orch  *pipeline.Orchestrator
}

// newHarness wires a production pipeline against the fixture server.
// Everything is real except the model, which replays scripted JSON.
func newHarness(t *testing.T, dart *fakeDART, model *scriptedModel) *harness {
	t.Helper()

	srv := httptest.NewServer(dart)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse fixture server url: %v", err)
	}

	client := dartapi.NewClient(dartapi.ClientConfig{
		HTTPClient: &http.Client{Transport: reroute{target: target}},
	})
	orch := pipeline.New(pipeline.Config{
		Transport: dartapi.NewTransport(client, "e2e-test-key"),
		Store:     cache.New(0, ""),
		Runner:    model,
	})
	return &harness{dart: dart, model: model, orch: orch}
}

func filingRef(rceptNo, corpCode, corpName, reportNm, rceptDt, detailType string) models.FilingRef {
	return models.FilingRef{
		CorpCode:   corpCode,
		CorpName:   corpName,
		CorpClass:  "Y",
		ReportNm:   reportNm,
		RceptNo:    rceptNo,
		FlrNm:      corpName,
		RceptDt:    rceptDt,
		DetailType: detailType,
	}
}

func expansionJSON(companies, docTypes, keywords []string, dateText string) string {
	if companies == nil {
		companies = []string{}
	}
	out, _ := json.Marshal(map[string]interface{}{
		"companies": companies,
		"doc_types": docTypes,
		"keywords":  keywords,
		"date_text": dateText,
	})
	return string(out)
}

func selectionJSON(rceptNos ...string) string {
	picks := make([]map[string]string, 0, len(rceptNos))
	for _, no := range rceptNos {
		picks = append(picks, map[string]string{"rcept_no": no, "reason": "질의와 직접 관련된 공시"})
	}
	out, _ := json.Marshal(map[string]interface{}{"selected": picks})
	return string(out)
}

const sufficientVerdict = `{"sufficient": true, "reasons": ["질의에 답하기에 충분한 공시가 수집되었습니다."]}`
