package dartapi

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"dart_deepsearch/pkg/models"
)

// ParseCorpCodeZIP decodes the corpCode.xml archive into directory
// records. Unlisted companies carry a blank-padded stock_code which is
// normalized to "".
func ParseCorpCodeZIP(data []byte) ([]models.Company, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("DART_CORPCODE_ZIP_ERROR: %v", err)
	}

	var xmlFile *zip.File
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, "CORPCODE.xml") || strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			xmlFile = f
			break
		}
	}
	if xmlFile == nil {
		return nil, fmt.Errorf("DART_CORPCODE_ZIP_ERROR: no xml entry in archive")
	}

	rc, err := xmlFile.Open()
	if err != nil {
		return nil, fmt.Errorf("DART_CORPCODE_ZIP_ERROR: %v", err)
	}
	defer rc.Close()

	type corpEntry struct {
		CorpCode   string `xml:"corp_code"`
		CorpName   string `xml:"corp_name"`
		StockCode  string `xml:"stock_code"`
		ModifyDate string `xml:"modify_date"`
	}

	// The directory holds six figures of companies; stream instead of
	// loading the DOM.
	decoder := xml.NewDecoder(rc)
	var companies []models.Company
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("DART_CORPCODE_XML_ERROR: %v", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "list" {
			continue
		}
		var entry corpEntry
		if err := decoder.DecodeElement(&entry, &start); err != nil {
			return nil, fmt.Errorf("DART_CORPCODE_XML_ERROR: %v", err)
		}
		companies = append(companies, models.Company{
			CorpCode:   strings.TrimSpace(entry.CorpCode),
			Name:       strings.TrimSpace(entry.CorpName),
			StockCode:  strings.TrimSpace(entry.StockCode),
			ModifyDate: strings.TrimSpace(entry.ModifyDate),
		})
	}
	if len(companies) == 0 {
		return nil, fmt.Errorf("DART_CORPCODE_XML_ERROR: directory empty")
	}
	return companies, nil
}

// ExtractDocumentXML pulls the primary document out of a filing
// archive. Archives hold the main report plus attachments; the main
// report's entry name starts with the receipt number, and when that
// is missing the largest XML wins.
func ExtractDocumentXML(data []byte, rceptNo string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("DART_DOCUMENT_ZIP_ERROR: rcept_no=%s %v", rceptNo, err)
	}

	var chosen *zip.File
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			continue
		}
		if strings.HasPrefix(f.Name, rceptNo) {
			chosen = f
			break
		}
		if chosen == nil || f.UncompressedSize64 > chosen.UncompressedSize64 {
			chosen = f
		}
	}
	if chosen == nil {
		return "", fmt.Errorf("DART_DOCUMENT_ZIP_ERROR: rcept_no=%s no xml entry", rceptNo)
	}

	rc, err := chosen.Open()
	if err != nil {
		return "", fmt.Errorf("DART_DOCUMENT_ZIP_ERROR: rcept_no=%s %v", rceptNo, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("DART_DOCUMENT_ZIP_ERROR: rcept_no=%s %v", rceptNo, err)
	}
	return DecodeKoreanXML(raw), nil
}

var xmlEncodingRe = regexp.MustCompile(`(?i)encoding\s*=\s*["']([^"']+)["']`)

// DecodeKoreanXML converts a DART XML payload to UTF-8. Older filings
// declare euc-kr / ks_c_5601-1987; the declaration is rewritten so
// downstream parsers do not trip over it.
func DecodeKoreanXML(raw []byte) string {
	head := raw
	if len(head) > 256 {
		head = head[:256]
	}
	m := xmlEncodingRe.FindSubmatch(head)
	if m == nil {
		return string(raw)
	}
	declared := strings.ToLower(string(m[1]))
	if declared != "euc-kr" && declared != "ks_c_5601-1987" && declared != "cp949" {
		return string(raw)
	}

	decoded, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), raw)
	if err != nil {
		return string(raw)
	}
	return xmlEncodingRe.ReplaceAllString(string(decoded), `encoding="utf-8"`)
}
