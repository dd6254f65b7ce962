package expand

import (
	"testing"
)

func TestExtractByRules_QuotedNames(t *testing.T) {
	got := extractByRules(`"삼성전자" 그리고 '카카오' 유상증자 공시`)
	if len(got.Companies) != 2 {
		t.Fatalf("companies = %v", got.Companies)
	}
	if got.Companies[0] != "삼성전자" || got.Companies[1] != "카카오" {
		t.Errorf("companies = %v", got.Companies)
	}
}

func TestExtractByRules_CornerBrackets(t *testing.T) {
	got := extractByRules("「현대자동차」 지난달 공시 정리")
	if len(got.Companies) != 1 || got.Companies[0] != "현대자동차" {
		t.Errorf("companies = %v", got.Companies)
	}
}

func TestExtractByRules_CorporateSuffix(t *testing.T) {
	got := extractByRules("주식회사 한화 자기주식 취득 내역")
	if len(got.Companies) != 1 || got.Companies[0] != "한화" {
		t.Errorf("companies = %v", got.Companies)
	}

	got = extractByRules("셀트리온(주) 합병 공시")
	if len(got.Companies) != 1 || got.Companies[0] != "셀트리온" {
		t.Errorf("suffix form companies = %v", got.Companies)
	}
}

func TestExtractByRules_ParticleFallback(t *testing.T) {
	// No quotes, no suffix: the particle heuristic is the last resort.
	got := extractByRules("네이버가 발행한 전환사채 공시")
	if len(got.Companies) != 1 || got.Companies[0] != "네이버" {
		t.Errorf("companies = %v", got.Companies)
	}

	// Quoted names suppress the noisier particle pass entirely.
	got = extractByRules(`"카카오" 주가가 오른 이유`)
	if len(got.Companies) != 1 || got.Companies[0] != "카카오" {
		t.Errorf("companies = %v", got.Companies)
	}
}

func TestExtractByRules_StopwordsExcluded(t *testing.T) {
	got := extractByRules("어떤 회사가 최근 공시를 냈는지 알려줘")
	for _, c := range got.Companies {
		if c == "회사" || c == "어떤" {
			t.Errorf("stopword extracted as company: %v", got.Companies)
		}
	}
	for _, k := range got.Keywords {
		if stopwords[k] {
			t.Errorf("stopword extracted as keyword: %v", got.Keywords)
		}
	}
}

func TestExtractByRules_KeywordPriority(t *testing.T) {
	got := extractByRules("유상증자 및 무상증자 발표 기업")
	if len(got.Keywords) < 2 {
		t.Fatalf("keywords = %v", got.Keywords)
	}
	// Family keywords come before loose Hangul tokens.
	if got.Keywords[0] != "유상증자" || got.Keywords[1] != "무상증자" {
		t.Errorf("keywords = %v", got.Keywords)
	}
}

func TestExtractByRules_KeywordCap(t *testing.T) {
	got := extractByRules("반도체 디스플레이 배터리 바이오 철강 조선 화학 자동차 부품 항공")
	if len(got.Keywords) > 6 {
		t.Errorf("keywords exceed cap: %d %v", len(got.Keywords), got.Keywords)
	}
}
