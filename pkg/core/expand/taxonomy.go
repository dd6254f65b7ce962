package expand

import (
	"regexp"
	"sort"
	"strings"
)

// detailTypeRe is the shape of a DART disclosure detail-type code.
var detailTypeRe = regexp.MustCompile(`^[A-J]\d{3}$`)

// detailTypes maps pblntf_detail_ty codes to their official names.
// A: 정기공시, B: 주요사항보고, C: 발행공시, D: 지분공시, E: 기타공시,
// F: 외부감사관련, G: 펀드공시, H: 자산유동화, I: 거래소공시, J: 공정위공시.
var detailTypes = map[string]string{
	"A001": "사업보고서",
	"A002": "반기보고서",
	"A003": "분기보고서",
	"A004": "등록법인결산서류",
	"A005": "소액공모법인결산서류",

	"B001": "주요사항보고서",
	"B002": "주요경영사항신고",
	"B003": "최대주주등과의거래신고",

	"C001": "증권신고(지분증권)",
	"C002": "증권신고(채무증권)",
	"C003": "증권신고(파생결합증권)",
	"C004": "증권신고(합병등)",
	"C005": "증권신고(기타)",
	"C006": "소액공모(지분증권)",
	"C007": "소액공모(채무증권)",
	"C008": "소액공모(파생결합증권)",
	"C009": "소액공모(합병등)",
	"C010": "소액공모(기타)",
	"C011": "호가중개시스템을통한소액매출",

	"D001": "주식등의대량보유상황보고서",
	"D002": "임원ㆍ주요주주특정증권등소유상황보고서",
	"D003": "의결권대리행사권유",
	"D004": "공개매수",

	"E001": "자기주식취득ㆍ처분",
	"E002": "신탁계약체결ㆍ해지",
	"E003": "합병등종료보고서",
	"E004": "주식매수선택권부여에관한신고",
	"E005": "사외이사에관한신고",
	"E006": "주주총회소집보고서",
	"E007": "시장조성ㆍ안정조작",
	"E008": "합병등신고서",
	"E009": "금융위등록ㆍ취소",

	"F001": "감사보고서",
	"F002": "연결감사보고서",
	"F003": "결합감사보고서",
	"F004": "회계법인사업보고서",
	"F005": "감사전재무제표미제출신고서",

	"G001": "증권신고(집합투자증권-신탁형)",
	"G002": "증권신고(집합투자증권-회사형)",
	"G003": "증권신고(집합투자증권-합병)",

	"H001": "자산유동화계획ㆍ양도등록",
	"H002": "사업ㆍ반기ㆍ분기보고서",
	"H003": "증권신고(유동화증권등)",
	"H004": "채권유동화계획ㆍ양도등록",
	"H005": "수시보고",
	"H006": "주요사항보고서(자산유동화)",

	"I001": "수시공시",
	"I002": "공정공시",
	"I003": "시장조치ㆍ안내",
	"I004": "지분공시",
	"I005": "증권투자회사",
	"I006": "채권공시",

	"J001": "대규모내부거래관련",
	"J002": "대규모내부거래관련(구)",
	"J004": "기업집단현황공시",
	"J005": "비상장회사중요사항공시",
	"J006": "기타공정위공시",
	"J009": "특수관계인과의거래공시",
}

// DetailTypeName returns the Korean name for a detail-type code.
func DetailTypeName(code string) (string, bool) {
	name, ok := detailTypes[code]
	return name, ok
}

// KnownDetailType reports whether code has the right shape and exists
// in the taxonomy.
func KnownDetailType(code string) bool {
	if !detailTypeRe.MatchString(code) {
		return false
	}
	_, ok := detailTypes[code]
	return ok
}

// FilterKnown keeps only valid taxonomy codes, preserving order and
// dropping duplicates. Unknown codes are discarded silently.
func FilterKnown(codes []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" || seen[code] || !KnownDetailType(code) {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}

// keywordFamilies links query keywords to the detail types where those
// events are disclosed. Order matters: earlier entries are more
// specific and their codes lead the suggestion list.
var keywordFamilies = []struct {
	keyword string
	codes   []string
}{
	{"유상증자", []string{"B001", "C001"}},
	{"무상증자", []string{"B001"}},
	{"감자", []string{"B001"}},
	{"전환사채", []string{"B001", "C002"}},
	{"신주인수권", []string{"B001", "C002"}},
	{"교환사채", []string{"B001", "C002"}},
	{"자기주식", []string{"B001", "E001", "E002"}},
	{"자사주", []string{"B001", "E001", "E002"}},
	{"합병", []string{"B001", "E003", "C004", "D004"}},
	{"분할", []string{"B001", "C004"}},
	{"영업양수", []string{"B001"}},
	{"영업양도", []string{"B001"}},
	{"스톡옵션", []string{"B001", "E004"}},
	{"주식매수선택권", []string{"B001", "E004"}},
	{"공개매수", []string{"D004"}},
	{"대량보유", []string{"D001"}},
	{"5%", []string{"D001"}},
	{"임원", []string{"D002", "B001"}},
	{"주요주주", []string{"D002"}},
	{"주주총회", []string{"E006"}},
	{"배당", []string{"B001", "I001"}},
	{"사업보고서", []string{"A001"}},
	{"반기보고서", []string{"A002"}},
	{"분기보고서", []string{"A003"}},
	{"실적", []string{"A001", "A002", "A003"}},
	{"재무제표", []string{"A001", "A002", "A003", "F001"}},
	{"감사보고서", []string{"F001", "F002"}},
	{"감사", []string{"F001", "F002"}},
	{"증권신고", []string{"C001", "C002", "C005"}},
	{"소송", []string{"B001", "I001"}},
	{"파산", []string{"B001"}},
	{"회생", []string{"B001"}},
	{"공정공시", []string{"I002"}},
	{"수시공시", []string{"I001"}},
}

// SuggestDetailTypes proposes taxonomy codes for keywords found in
// text. Used to seed the extraction prompt and by the rule-based
// document filter; returns nil when nothing matches.
func SuggestDetailTypes(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, family := range keywordFamilies {
		if !strings.Contains(text, family.keyword) {
			continue
		}
		for _, code := range family.codes {
			if !seen[code] {
				seen[code] = true
				out = append(out, code)
			}
		}
	}
	return out
}

// MatchedKeywords returns the family keywords present in text, most
// specific first.
func MatchedKeywords(text string) []string {
	var out []string
	for _, family := range keywordFamilies {
		if strings.Contains(text, family.keyword) {
			out = append(out, family.keyword)
		}
	}
	return out
}

// PromptCatalog renders the taxonomy as one code-per-line text for the
// extraction prompt.
func PromptCatalog() string {
	codes := make([]string, 0, len(detailTypes))
	for code := range detailTypes {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var sb strings.Builder
	for _, code := range codes {
		sb.WriteString(code)
		sb.WriteString(": ")
		sb.WriteString(detailTypes[code])
		sb.WriteString("\n")
	}
	return sb.String()
}
