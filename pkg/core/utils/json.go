// Package utils holds parsing helpers shared across the pipeline:
// lenient JSON recovery for LLM responses, markdown validation and
// rendering, and text truncation that respects Korean script.
package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
)

// ExtractJSONBlock returns the first balanced JSON object or array
// embedded in s, or "" when none exists. LLM responses routinely wrap
// their JSON in prose or markdown fences, so callers should run this
// before any strict parse.
func ExtractJSONBlock(s string) string {
	s = StripCodeFence(s)

	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			if open == '{' {
				close = '}'
			} else {
				close = ']'
			}
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == open:
			depth++
		case !inString && c == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	// Unbalanced: return the tail and let the repair pass close it.
	return s[start:]
}

// StripCodeFence removes a surrounding ```json ... ``` (or bare ```)
// fence if present.
func StripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line (```json, ```hjson, ...).
		first := strings.TrimSpace(trimmed[:idx])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}[]") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// RepairJSON fixes common JSON defects in model output: single quotes,
// unquoted keys, trailing commas, unclosed brackets, embedded comments.
func RepairJSON(malformed string) (string, error) {
	repaired, err := jsonrepair.RepairJSON(malformed)
	if err != nil {
		return "", fmt.Errorf("JSON_REPAIR_FAILED: %v", err)
	}
	return repaired, nil
}

// ParseHJSON parses Hjson (comments, unquoted keys, optional commas)
// and re-emits standard JSON.
func ParseHJSON(input string) (string, error) {
	var result interface{}
	if err := hjson.Unmarshal([]byte(input), &result); err != nil {
		return "", fmt.Errorf("HJSON_PARSE_ERROR: %v", err)
	}
	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("JSON_MARSHAL_ERROR: %v", err)
	}
	return string(out), nil
}

// SmartParse extracts and decodes JSON from raw LLM output into schema.
// Strategies, in order:
//  1. standard parse of the first JSON block
//  2. jsonrepair then parse
//  3. Hjson (most lenient)
//
// Returns the JSON text that finally parsed so callers can log it.
func SmartParse(input string, schema interface{}) (string, error) {
	candidate := ExtractJSONBlock(input)
	if candidate == "" {
		candidate = strings.TrimSpace(input)
	}

	if err := json.Unmarshal([]byte(candidate), schema); err == nil {
		return candidate, nil
	}

	if repaired, err := RepairJSON(candidate); err == nil {
		if err := json.Unmarshal([]byte(repaired), schema); err == nil {
			return repaired, nil
		}
	}

	if converted, err := ParseHJSON(candidate); err == nil {
		if err := json.Unmarshal([]byte(converted), schema); err == nil {
			return converted, nil
		}
	}

	return "", fmt.Errorf("SMART_PARSE_FAILED: all parsing strategies failed for input")
}
