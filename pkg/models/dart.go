package models

import (
	"fmt"
	"time"
)

// Company is one row of the DART corpCode directory.
type Company struct {
	CorpCode   string `json:"corp_code"`
	Name       string `json:"corp_name"`
	StockCode  string `json:"stock_code,omitempty"`
	ModifyDate string `json:"modify_date,omitempty"`
}

// CompanyMatch pairs a directory entry with its name-match score (0-100).
type CompanyMatch struct {
	Company
	Score int `json:"score"`
}

// DateRange is an inclusive filing-date window.
type DateRange struct {
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

func (r DateRange) IsZero() bool {
	return r.Begin.IsZero() && r.End.IsZero()
}

// Days returns the window length in calendar days, inclusive.
func (r DateRange) Days() int {
	if r.IsZero() {
		return 0
	}
	return int(r.End.Sub(r.Begin).Hours()/24) + 1
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Begin) && !t.After(r.End)
}

// BeginParam / EndParam format the bounds the way the DART list API
// expects them (YYYYMMDD).
func (r DateRange) BeginParam() string { return r.Begin.Format("20060102") }
func (r DateRange) EndParam() string   { return r.End.Format("20060102") }

func (r DateRange) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s ~ %s", r.Begin.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// ExpandedQuery is the structured search plan produced from a natural
// language question.
type ExpandedQuery struct {
	Original  string         `json:"original"`
	Companies []CompanyMatch `json:"companies"`
	DocTypes  []string       `json:"doc_types"`
	DateRange DateRange      `json:"date_range"`
	Keywords  []string       `json:"keywords"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// SubQueryCount is how many company x doc-type searches this plan fans
// out into. A plan with no doc types still searches once per company.
func (q ExpandedQuery) SubQueryCount() int {
	types := len(q.DocTypes)
	if types == 0 {
		types = 1
	}
	companies := len(q.Companies)
	if companies == 0 {
		companies = 1
	}
	return companies * types
}

// FilingRef is one entry of a DART list.json page. DetailType is not
// part of the list response; the search executor stamps it from the
// sub-query that produced the row, or infers it from the report name.
type FilingRef struct {
	CorpCode   string `json:"corp_code"`
	CorpName   string `json:"corp_name"`
	StockCode  string `json:"stock_code"`
	CorpClass  string `json:"corp_cls"`
	ReportNm   string `json:"report_nm"`
	RceptNo    string `json:"rcept_no"`
	FlrNm      string `json:"flr_nm"`
	RceptDt    string `json:"rcept_dt"`
	Remark     string `json:"rm"`
	DetailType string `json:"pblntf_detail_ty,omitempty"`
}

// DedupKey identifies a filing across sub-query result sets. Receipt
// numbers are unique, but a handful of viewer-only rows come back
// without one.
func (f FilingRef) DedupKey() string {
	if f.RceptNo != "" {
		return f.RceptNo
	}
	return f.CorpCode + "|" + f.ReportNm + "|" + f.RceptDt
}

// ReceiptDate parses rcept_dt (YYYYMMDD). Zero time on malformed input.
func (f FilingRef) ReceiptDate() time.Time {
	t, err := time.Parse("20060102", f.RceptDt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Content source markers for fetched filings.
const (
	SourceStructured = "structured"
	SourceArchive    = "archive"
	SourceViewer     = "viewer"
	SourceNone       = "none"
)

// Filing is a search hit plus whatever content retrieval produced for it.
type Filing struct {
	FilingRef

	Content        string                 `json:"content,omitempty"`
	StructuredData map[string]interface{} `json:"structured_data,omitempty"`
	Source         string                 `json:"source"`
	URL            string                 `json:"url,omitempty"`
	FetchedAt      time.Time              `json:"fetched_at,omitempty"`
	Truncated      bool                   `json:"truncated,omitempty"`
	FetchError     string                 `json:"fetch_error,omitempty"`
}

// HasContent reports whether retrieval produced usable evidence.
func (f Filing) HasContent() bool {
	if f.Source == SourceNone || f.Source == "" {
		return false
	}
	return f.Content != "" || len(f.StructuredData) > 0
}
