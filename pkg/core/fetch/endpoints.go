package fetch

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"dart_deepsearch/pkg/models"
)

// structuredRoute is one call against a DART detail endpoint.
type structuredRoute struct {
	endpoint string
	params   url.Values
}

// eventEndpoints maps report-title markers to the major-report detail
// endpoints. Scanned in order, so longer markers that contain shorter
// ones come first (자기주식취득신탁계약체결 before 자기주식취득).
var eventEndpoints = []struct {
	marker   string
	endpoint string
}{
	{"자기주식취득신탁계약체결", "tsstkAqTrctrCnsDecsn"},
	{"자기주식취득신탁계약해지", "tsstkAqTrctrCcDecsn"},
	{"자기주식취득", "tsstkAqDecsn"},
	{"자기주식처분", "tsstkDpDecsn"},
	{"유무상증자", "pifricDecsn"},
	{"유상증자", "piicDecsn"},
	{"무상증자", "fricDecsn"},
	{"감자", "crDecsn"},
	{"전환사채", "cvbdIsDecsn"},
	{"신주인수권부사채", "bdwtIsDecsn"},
	{"교환사채", "exbdIsDecsn"},
	{"회사분할합병", "cmpDvmgDecsn"},
	{"회사분할", "cmpDvDecsn"},
	{"회사합병", "cmpMgDecsn"},
	{"주식교환", "stkExtrDecsn"},
	{"영업양수", "bsnInhDecsn"},
	{"영업양도", "bsnTrfDecsn"},
	{"유형자산양수", "tgastInhDecsn"},
	{"유형자산양도", "tgastTrfDecsn"},
	{"소송", "lwstLg"},
}

// reportPeriodRe picks the fiscal period out of periodic report titles,
// e.g. "사업보고서 (2023.12)".
var reportPeriodRe = regexp.MustCompile(`\((\d{4})\.(\d{1,2})\)`)

// routeFor selects the structured detail endpoint for a filing, when
// one exists. Periodic reports go to the single-account financials
// endpoint, major-event reports to their decision endpoint keyed by the
// event named in the title, ownership disclosures to the holder tables,
// and securities registrations to the registration summaries. The title
// decides the family, so refs without a pblntf_detail_ty still route.
// Everything else has no structured source and falls through to the
// document archive.
func routeFor(ref models.FilingRef) (structuredRoute, bool) {
	if ref.CorpCode == "" {
		return structuredRoute{}, false
	}

	if year, code, ok := periodicReport(ref.ReportNm); ok {
		v := url.Values{}
		v.Set("corp_code", ref.CorpCode)
		v.Set("bsns_year", year)
		v.Set("reprt_code", code)
		return structuredRoute{endpoint: "fnlttSinglAcnt", params: v}, true
	}

	if strings.Contains(ref.ReportNm, "주요사항보고서") || ref.DetailType == "B001" {
		for _, e := range eventEndpoints {
			if !strings.Contains(ref.ReportNm, e.marker) {
				continue
			}
			v := url.Values{}
			v.Set("corp_code", ref.CorpCode)
			v.Set("bgn_de", ref.RceptDt)
			v.Set("end_de", ref.RceptDt)
			return structuredRoute{endpoint: e.endpoint, params: v}, true
		}
	}

	if strings.Contains(ref.ReportNm, "대량보유상황보고서") || ref.DetailType == "D001" {
		v := url.Values{}
		v.Set("corp_code", ref.CorpCode)
		return structuredRoute{endpoint: "majorstock", params: v}, true
	}
	if strings.Contains(ref.ReportNm, "소유상황보고서") || ref.DetailType == "D002" {
		v := url.Values{}
		v.Set("corp_code", ref.CorpCode)
		return structuredRoute{endpoint: "elestock", params: v}, true
	}

	if strings.Contains(ref.ReportNm, "증권신고서") || strings.HasPrefix(ref.DetailType, "C0") {
		endpoint := "estkRs"
		if strings.Contains(ref.ReportNm, "채무") {
			endpoint = "bdRs"
		}
		v := url.Values{}
		v.Set("corp_code", ref.CorpCode)
		v.Set("bgn_de", ref.RceptDt)
		v.Set("end_de", ref.RceptDt)
		return structuredRoute{endpoint: endpoint, params: v}, true
	}
	return structuredRoute{}, false
}

// periodicReport maps a periodic report title to its fiscal year and
// DART report code (11011 annual, 11012 half-year, 11013/11014 Q1/Q3).
func periodicReport(name string) (year, code string, ok bool) {
	m := reportPeriodRe.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	switch {
	case strings.Contains(name, "사업보고서"):
		return m[1], "11011", true
	case strings.Contains(name, "반기보고서"):
		return m[1], "11012", true
	case strings.Contains(name, "분기보고서"):
		month, _ := strconv.Atoi(m[2])
		if month <= 4 {
			return m[1], "11013", true
		}
		return m[1], "11014", true
	}
	return "", "", false
}
