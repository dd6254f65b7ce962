package llm

import (
	"context"
)

// Provider is the interface for all LLM providers. The deep-search
// pipeline calls it for query expansion, relevance filtering,
// sufficiency judgment and answer synthesis.
//
// Options recognized by the built-in providers:
//
//	model           string  override the configured model
//	api_key         string  override the env var key
//	temperature     float64
//	max_tokens      int
//	response_format "json" or map[string]interface{}{"type": "json_object"}
type Provider interface {
	GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error)
	// AdaptInstructions transforms raw instructions into model-specific formats
	AdaptInstructions(rawInstructions string) string
}

// wantJSONResponse interprets the response_format option, accepting
// both the chat-completions object form and the "json" shorthand the
// pipeline stages use.
func wantJSONResponse(options map[string]interface{}) bool {
	switch val := options["response_format"].(type) {
	case string:
		return val == "json" || val == "json_object"
	case map[string]interface{}:
		t, _ := val["type"].(string)
		return t == "json_object" || t == "json"
	}
	return false
}
