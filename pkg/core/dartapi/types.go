package dartapi

import (
	"fmt"

	"dart_deepsearch/pkg/models"
)

// DART result codes. Anything other than statusOK and statusNoData is
// an error; statusQuotaExceeded maps to the RateLimited kind so the
// pipeline can tell quota exhaustion from plain failures.
const (
	statusOK            = "000"
	statusNoData        = "013"
	statusNoFile        = "014"
	statusQuotaExceeded = "020"
)

type apiStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// errFromStatus converts a DART payload status into an error, or nil
// for success and the benign empty-result code.
func (s apiStatus) errFromStatus(operation string) error {
	switch s.Status {
	case statusOK, statusNoData:
		return nil
	case statusQuotaExceeded:
		return models.NewPipelineError(models.KindRateLimited, operation,
			fmt.Sprintf("DART quota exceeded: %s", s.Message), nil)
	default:
		return fmt.Errorf("DART_API_ERROR: op=%s status=%s message=%s", operation, s.Status, s.Message)
	}
}

func (s apiStatus) empty() bool {
	return s.Status == statusNoData || s.Status == statusNoFile
}

// ListPage is one page of the catalogue search endpoint.
type ListPage struct {
	apiStatus
	PageNo     int                `json:"page_no"`
	PageCount  int                `json:"page_count"`
	TotalCount int                `json:"total_count"`
	TotalPage  int                `json:"total_page"`
	List       []models.FilingRef `json:"list"`
}

// CompanyProfile is the /api/company.json response.
type CompanyProfile struct {
	apiStatus
	CorpCode   string `json:"corp_code"`
	CorpName   string `json:"corp_name"`
	CorpNameEng string `json:"corp_name_eng"`
	StockName  string `json:"stock_name"`
	StockCode  string `json:"stock_code"`
	CEONm      string `json:"ceo_nm"`
	CorpClass  string `json:"corp_cls"`
	Address    string `json:"adres"`
	HomeURL    string `json:"hm_url"`
	IndustryCode string `json:"induty_code"`
	EstDate    string `json:"est_dt"`
	AccMonth   string `json:"acc_mt"`
}

// StructuredList is the generic shape of the detail endpoints
// (piicDecsn.json, tsstkAqDecsn.json, fnlttSinglAcnt.json, ...): a
// status header plus a list of string-keyed rows whose columns differ
// per endpoint.
type StructuredList struct {
	apiStatus
	List []map[string]interface{} `json:"list"`
}
