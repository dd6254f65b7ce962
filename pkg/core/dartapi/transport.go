package dartapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

const (
	// OpenDartHost carries the daily API quota.
	OpenDartHost = "opendart.fss.or.kr"

	listURL     = "https://opendart.fss.or.kr/api/list.json"
	corpCodeURL = "https://opendart.fss.or.kr/api/corpCode.xml"
	documentURL = "https://opendart.fss.or.kr/api/document.xml"
	companyURL  = "https://opendart.fss.or.kr/api/company.json"
	detailURLFmt = "https://opendart.fss.or.kr/api/%s.json"

	viewerMainURL   = "https://dart.fss.or.kr/dsaf001/main.do"
	viewerReportURL = "https://dart.fss.or.kr/report/viewer.do"
)

// SearchParams is one catalogue sub-query. Zero-value fields are
// omitted from the request.
type SearchParams struct {
	CorpCode   string
	DetailType string
	Begin      string // YYYYMMDD
	End        string // YYYYMMDD
	PageNo     int
	PageCount  int
}

// Values renders the params in DART wire form. url.Values.Encode sorts
// keys, which also makes the encoding canonical for cache fingerprints.
func (p SearchParams) Values() url.Values {
	v := url.Values{}
	v.Set("bgn_de", p.Begin)
	v.Set("end_de", p.End)
	v.Set("sort", "date")
	v.Set("sort_mth", "desc")
	if p.CorpCode != "" {
		v.Set("corp_code", p.CorpCode)
	}
	if p.DetailType != "" {
		v.Set("pblntf_detail_ty", p.DetailType)
	}
	pageNo := p.PageNo
	if pageNo == 0 {
		pageNo = 1
	}
	pageCount := p.PageCount
	if pageCount == 0 {
		pageCount = 100
	}
	v.Set("page_no", strconv.Itoa(pageNo))
	v.Set("page_count", strconv.Itoa(pageCount))
	return v
}

// Transport wraps the rate-limited client with DART's endpoints and
// API-key authentication.
type Transport struct {
	client *Client
	apiKey string
}

func NewTransport(client *Client, apiKey string) *Transport {
	return &Transport{client: client, apiKey: apiKey}
}

func (t *Transport) authed(v url.Values) url.Values {
	v.Set("crtfc_key", t.apiKey)
	return v
}

// SearchPage fetches one page of the disclosure catalogue.
func (t *Transport) SearchPage(ctx context.Context, p SearchParams) (*ListPage, error) {
	body, status, err := t.client.Get(ctx, listURL, t.authed(p.Values()), nil)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("DART_LIST_HTTP_ERROR: status=%d", status)
	}

	var page ListPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("DART_LIST_DECODE_ERROR: %v", err)
	}
	if err := page.errFromStatus("search"); err != nil {
		return nil, err
	}
	if page.empty() {
		page.List = nil
	}
	return &page, nil
}

// CorpCodeZIP downloads the full company directory archive.
func (t *Transport) CorpCodeZIP(ctx context.Context) ([]byte, error) {
	body, status, err := t.client.Get(ctx, corpCodeURL, t.authed(url.Values{}), nil)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("DART_CORPCODE_HTTP_ERROR: status=%d", status)
	}
	if !isZip(body) {
		// Error responses come back as an XML status document.
		return nil, fmt.Errorf("DART_CORPCODE_ERROR: %s", sniffStatusMessage(body))
	}
	return body, nil
}

// DocumentZIP downloads the raw filing archive for a receipt number.
// The endpoint answers errors with an XML status document instead of a
// ZIP, so the payload is sniffed before use.
func (t *Transport) DocumentZIP(ctx context.Context, rceptNo string) ([]byte, error) {
	v := url.Values{}
	v.Set("rcept_no", rceptNo)
	body, status, err := t.client.Get(ctx, documentURL, t.authed(v), nil)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("DART_DOCUMENT_HTTP_ERROR: status=%d rcept_no=%s", status, rceptNo)
	}
	if !isZip(body) {
		return nil, fmt.Errorf("DART_DOCUMENT_ERROR: rcept_no=%s %s", rceptNo, sniffStatusMessage(body))
	}
	return body, nil
}

// Company fetches the company profile for a corp code.
func (t *Transport) Company(ctx context.Context, corpCode string) (*CompanyProfile, error) {
	v := url.Values{}
	v.Set("corp_code", corpCode)
	body, status, err := t.client.Get(ctx, companyURL, t.authed(v), nil)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("DART_COMPANY_HTTP_ERROR: status=%d", status)
	}

	var profile CompanyProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("DART_COMPANY_DECODE_ERROR: %v", err)
	}
	if err := profile.errFromStatus("company"); err != nil {
		return nil, err
	}
	return &profile, nil
}

// StructuredJSON calls one of the detail endpoints (endpoint is the
// path stem, e.g. "piicDecsn") with the given params.
func (t *Transport) StructuredJSON(ctx context.Context, endpoint string, params url.Values) (*StructuredList, error) {
	body, status, err := t.client.Get(ctx, fmt.Sprintf(detailURLFmt, endpoint), t.authed(params), nil)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("DART_DETAIL_HTTP_ERROR: endpoint=%s status=%d", endpoint, status)
	}

	var list StructuredList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("DART_DETAIL_DECODE_ERROR: endpoint=%s %v", endpoint, err)
	}
	if err := list.errFromStatus("structured"); err != nil {
		return nil, err
	}
	return &list, nil
}

// viewDocRe matches the viewer's JS bootstrap:
// viewDoc('20240315000123', '9498765', '1', '1234', '5678', 'dart3.xsd')
var viewDocRe = regexp.MustCompile(`viewDoc\('([^']*)',\s*'([^']*)',\s*'([^']*)',\s*'([^']*)',\s*'([^']*)',\s*'([^']*)'`)

// ViewerHTML fetches a filing through the public web viewer: the frame
// page carries viewDoc() arguments that locate the actual document.
func (t *Transport) ViewerHTML(ctx context.Context, rceptNo string) (string, error) {
	v := url.Values{}
	v.Set("rcpNo", rceptNo)
	frame, status, err := t.client.Get(ctx, viewerMainURL, v, nil)
	if err != nil {
		return "", err
	}
	if status != 200 {
		return "", fmt.Errorf("DART_VIEWER_HTTP_ERROR: status=%d rcept_no=%s", status, rceptNo)
	}

	m := viewDocRe.FindSubmatch(frame)
	if m == nil {
		// Some older filings render inline without the frame redirect.
		return string(frame), nil
	}

	dv := url.Values{}
	dv.Set("rcpNo", string(m[1]))
	dv.Set("dcmNo", string(m[2]))
	dv.Set("eleId", string(m[3]))
	dv.Set("offset", string(m[4]))
	dv.Set("length", string(m[5]))
	dv.Set("dtd", string(m[6]))
	doc, status, err := t.client.Get(ctx, viewerReportURL, dv, nil)
	if err != nil {
		return "", err
	}
	if status != 200 {
		return "", fmt.Errorf("DART_VIEWER_HTTP_ERROR: status=%d rcept_no=%s", status, rceptNo)
	}
	return string(doc), nil
}

// ViewerURL is the human-facing link for a filing, used in result
// envelopes.
func ViewerURL(rceptNo string) string {
	return viewerMainURL + "?rcpNo=" + url.QueryEscape(rceptNo)
}

func isZip(body []byte) bool {
	return len(body) >= 2 && body[0] == 'P' && body[1] == 'K'
}

var statusMsgRe = regexp.MustCompile(`<message>([^<]*)</message>|"message"\s*:\s*"([^"]*)"`)

// sniffStatusMessage pulls the human message out of an XML or JSON
// error payload for diagnostics.
func sniffStatusMessage(body []byte) string {
	if m := statusMsgRe.FindSubmatch(body); m != nil {
		if len(m[1]) > 0 {
			return string(m[1])
		}
		return string(m[2])
	}
	if len(body) > 120 {
		body = body[:120]
	}
	return string(body)
}

// Quota reports the host quota map for client construction, exported
// so launchers can honor DART_API_RATE_LIMIT.
func Quota(perDay int) map[string]int {
	if perDay <= 0 {
		perDay = defaultDailyQuota
	}
	return map[string]int{OpenDartHost: perDay}
}
