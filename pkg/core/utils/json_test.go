package utils

import (
	"strings"
	"testing"
)

// =============================================================================
// REALISTIC LLM OUTPUT FIXTURES
// =============================================================================
// Captured shapes from extraction runs against Korean disclosure queries.

const fencedExtraction = "```json\n" +
	`{"companies": ["삼성전자"], "doc_types": ["A001"], "keywords": ["사업보고서"]}` +
	"\n```"

const chattyExtraction = `Here is the structured plan you asked for:

{"companies": ["카카오", "카카오뱅크"], "doc_types": ["B001"], "keywords": ["유상증자"]}

Let me know if you need anything else!`

const sloppyExtraction = `{companies: ['LG에너지솔루션'], doc_types: [A001, A002,], keywords: ['분기보고서']}`

type extractionShape struct {
	Companies []string `json:"companies"`
	DocTypes  []string `json:"doc_types"`
	Keywords  []string `json:"keywords"`
}

// =============================================================================
// EXTRACT / STRIP TESTS
// =============================================================================

func TestExtractJSONBlock(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"object in prose", `sure thing {"a": 1} hope that helps`, `{"a": 1}`},
		{"array in prose", `results: [1, 2, 3] done`, `[1, 2, 3]`},
		{"nested braces", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`},
		{"brace inside string", `{"a": "val}ue"}`, `{"a": "val}ue"}`},
		{"no json at all", "nothing here", ""},
		{"unclosed object", `{"a": 1`, `{"a": 1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSONBlock(tt.input)
			if got != tt.want {
				t.Errorf("ExtractJSONBlock(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	got := StripCodeFence(fencedExtraction)
	if strings.Contains(got, "```") {
		t.Errorf("fence not removed: %q", got)
	}
	if !strings.HasPrefix(got, "{") {
		t.Errorf("expected JSON body after strip, got %q", got)
	}

	// Non-fenced input passes through untouched.
	plain := `{"a": 1}`
	if StripCodeFence(plain) != plain {
		t.Errorf("plain input modified: %q", StripCodeFence(plain))
	}
}

// =============================================================================
// SMART PARSE TESTS
// =============================================================================

func TestSmartParse_Strategies(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantCompanies []string
		wantErr       bool
	}{
		{"fenced valid json", fencedExtraction, []string{"삼성전자"}, false},
		{"json buried in prose", chattyExtraction, []string{"카카오", "카카오뱅크"}, false},
		{"single quotes and trailing commas", sloppyExtraction, []string{"LG에너지솔루션"}, false},
		{"hopeless input", "I could not determine any companies.", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var parsed extractionShape
			raw, err := SmartParse(tt.input, &parsed)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got parsed=%+v raw=%q", parsed, raw)
				}
				if !strings.Contains(err.Error(), "SMART_PARSE_FAILED") {
					t.Errorf("error should carry SMART_PARSE_FAILED, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SmartParse failed: %v", err)
			}
			if len(parsed.Companies) != len(tt.wantCompanies) {
				t.Fatalf("companies = %v, want %v", parsed.Companies, tt.wantCompanies)
			}
			for i, c := range tt.wantCompanies {
				if parsed.Companies[i] != c {
					t.Errorf("companies[%d] = %q, want %q", i, parsed.Companies[i], c)
				}
			}
		})
	}
}

func TestSmartParse_ReturnsWinningJSON(t *testing.T) {
	var parsed map[string]interface{}
	raw, err := SmartParse(chattyExtraction, &parsed)
	if err != nil {
		t.Fatalf("SmartParse failed: %v", err)
	}
	if strings.Contains(raw, "Let me know") {
		t.Errorf("returned JSON still contains prose: %q", raw)
	}
}

func TestRepairJSON_CommonDefects(t *testing.T) {
	repaired, err := RepairJSON(`{'relevant': TRUE, 'rcept_no': '20240315000123',}`)
	if err != nil {
		t.Fatalf("RepairJSON failed: %v", err)
	}
	if !strings.Contains(repaired, `"relevant"`) {
		t.Errorf("keys not normalized: %q", repaired)
	}
}

func TestParseHJSON_Comments(t *testing.T) {
	out, err := ParseHJSON(`{
  # the only company mentioned
  companies: ["셀트리온"]
}`)
	if err != nil {
		t.Fatalf("ParseHJSON failed: %v", err)
	}
	if !strings.Contains(out, "셀트리온") {
		t.Errorf("value lost in conversion: %q", out)
	}
}
