package expand

import (
	"regexp"
	"strings"
)

var (
	// "삼성전자", 「현대차」, 'LG에너지솔루션'
	quotedNameRe = regexp.MustCompile(`["'「『‘“]([^"'」』’”]{2,30})["'」』’”]`)
	// 카카오의, 네이버가, 셀트리온은: a Hangul/ASCII run followed by a
	// topic or possessive particle.
	particleNameRe = regexp.MustCompile(`([가-힣A-Za-z0-9&]{2,20})(?:의|이|가|은|는|도)\s`)
	// Explicit corporate suffixes are the strongest signal.
	suffixNameRe = regexp.MustCompile(`(?:주식회사\s*([가-힣A-Za-z0-9&]{2,20})|([가-힣A-Za-z0-9&]{2,20})\s*(?:주식회사|\(주\)|㈜))`)

	hangulTokenRe = regexp.MustCompile(`[가-힣]{2,}`)
)

// stopwords are query-language tokens that never belong in keywords or
// company candidates.
var stopwords = map[string]bool{
	"공시": true, "공시를": true, "공시가": true, "내역": true, "관련": true,
	"알려줘": true, "알려주세요": true, "보여줘": true, "보여주세요": true,
	"찾아줘": true, "찾아주세요": true, "정리해줘": true, "검색": true,
	"최근": true, "지난": true, "올해": true, "작년": true, "재작년": true,
	"어제": true, "오늘": true, "이번달": true, "지난달": true, "내용": true,
	"있나요": true, "있어": true, "있는지": true, "뭐가": true, "어떤": true,
	"회사": true, "기업": true, "주식회사": true, "개월": true, "사이": true,
	"그리고": true, "또는": true, "대한": true, "대해": true, "부터": true,
	"까지": true, "분기": true, "전부": true, "모두": true, "모든": true,
}

// ruleExtraction is the no-LLM fallback: quoted or suffix-marked
// company names, particle-marked name candidates, and keyword tokens.
// Doc types stay empty, which downstream treats as "any".
type ruleExtraction struct {
	Companies []string
	Keywords  []string
}

func extractByRules(query string) ruleExtraction {
	var out ruleExtraction
	seen := make(map[string]bool)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || stopwords[name] || seen[name] {
			return
		}
		seen[name] = true
		out.Companies = append(out.Companies, name)
	}

	for _, m := range quotedNameRe.FindAllStringSubmatch(query, -1) {
		add(m[1])
	}
	for _, m := range suffixNameRe.FindAllStringSubmatch(query, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	if len(out.Companies) == 0 {
		for _, m := range particleNameRe.FindAllStringSubmatch(query, -1) {
			add(m[1])
		}
	}

	// Keyword tokens: taxonomy-family words first, then leftover Hangul
	// nouns that are not stopwords or already-claimed company names.
	kwSeen := make(map[string]bool)
	for _, kw := range MatchedKeywords(query) {
		if !kwSeen[kw] {
			kwSeen[kw] = true
			out.Keywords = append(out.Keywords, kw)
		}
	}
	for _, tok := range hangulTokenRe.FindAllString(query, -1) {
		if kwSeen[tok] || stopwords[tok] || seen[tok] {
			continue
		}
		if containsAny(tok, out.Keywords) {
			continue
		}
		kwSeen[tok] = true
		out.Keywords = append(out.Keywords, tok)
		if len(out.Keywords) >= 6 {
			break
		}
	}
	return out
}

func containsAny(tok string, kws []string) bool {
	for _, kw := range kws {
		if strings.Contains(tok, kw) {
			return true
		}
	}
	return false
}
