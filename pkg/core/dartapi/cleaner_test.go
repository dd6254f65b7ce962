package dartapi

import (
	"strings"
	"testing"
)

func TestCleanDocument_DropsMarkupNoise(t *testing.T) {
	markup := `<html><head><style>.x { color: red }</style></head><body>
		<script>alert('x')</script>
		<p>제1장 회사의 개요</p>
		<img src="seal.png"/>
		<p>당사는 반도체를 제조합니다.</p>
	</body></html>`

	got := CleanDocument(markup)
	if strings.Contains(got, "alert") || strings.Contains(got, "color: red") {
		t.Errorf("script/style leaked into text: %q", got)
	}
	if !strings.Contains(got, "제1장 회사의 개요") {
		t.Errorf("heading lost: %q", got)
	}
	if !strings.Contains(got, "당사는 반도체를 제조합니다.") {
		t.Errorf("body text lost: %q", got)
	}
}

func TestCleanDocument_CollapsesTables(t *testing.T) {
	markup := `<body>
		<p>신주 발행 내역</p>
		<table>
			<tr><td>구분</td><td>내용</td></tr>
			<tr><td>발행주식수</td><td>1,000,000주</td></tr>
			<tr><td>발행가액</td><td>50,000원</td></tr>
		</table>
	</body>`

	got := CleanDocument(markup)
	if strings.Contains(got, "<table") || strings.Contains(got, "<td") {
		t.Errorf("table markup survived: %q", got)
	}
	if !strings.Contains(got, "발행주식수 | 1,000,000주") {
		t.Errorf("row not collapsed to cell | cell: %q", got)
	}
	if !strings.Contains(got, "발행가액 | 50,000원") {
		t.Errorf("second row lost: %q", got)
	}
}

func TestCleanDocument_NestedTables(t *testing.T) {
	markup := `<body><table>
		<tr><td>외부
			<table><tr><td>내부A</td><td>내부B</td></tr></table>
		</td><td>값</td></tr>
	</table></body>`

	got := CleanDocument(markup)
	if strings.Contains(got, "<table") {
		t.Errorf("nested table markup survived: %q", got)
	}
	for _, want := range []string{"내부A", "내부B", "값"} {
		if !strings.Contains(got, want) {
			t.Errorf("cell %q lost: %q", want, got)
		}
	}
}

func TestCleanDocument_BlockBoundaries(t *testing.T) {
	markup := `<body><p>첫 단락</p><p>둘째 단락</p><div>셋째 블록</div></body>`
	got := CleanDocument(markup)

	// Block elements must not run together on one line.
	if strings.Contains(got, "첫 단락둘째") {
		t.Errorf("paragraphs merged: %q", got)
	}
	for _, want := range []string{"첫 단락", "둘째 단락", "셋째 블록"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestCleanViewerHTML_DropsChrome(t *testing.T) {
	markup := `<html><body>
		<div id="header"><a href="/">DART 전자공시시스템</a></div>
		<nav>검색 | 공시서류 | 기업개황</nav>
		<div class="report">
			<p>주요사항보고서(자기주식취득결정)</p>
			<p>취득예정주식수: 500,000주</p>
		</div>
		<div id="footer">Copyright FSS</div>
		<iframe src="ads.html"></iframe>
	</body></html>`

	got := CleanViewerHTML(markup)
	if strings.Contains(got, "Copyright FSS") {
		t.Errorf("footer survived: %q", got)
	}
	if strings.Contains(got, "검색 | 공시서류") {
		t.Errorf("nav survived: %q", got)
	}
	if !strings.Contains(got, "주요사항보고서(자기주식취득결정)") {
		t.Errorf("report title lost: %q", got)
	}
	if !strings.Contains(got, "취득예정주식수: 500,000주") {
		t.Errorf("report body lost: %q", got)
	}
}

func TestCleanDocument_MalformedInput(t *testing.T) {
	// goquery tolerates broken markup; worst case the tag stripper
	// fallback runs. Either way no panic and the text survives.
	got := CleanDocument(`<p>열린 태그 <b>강조`)
	if !strings.Contains(got, "열린 태그") || !strings.Contains(got, "강조") {
		t.Errorf("text lost on malformed input: %q", got)
	}
}
