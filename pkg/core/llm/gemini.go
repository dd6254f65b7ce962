package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements the Provider interface for Google's Gemini
// models via the official GenAI SDK.
type GeminiProvider struct {
	Model string // e.g. "gemini-2.0-flash"
}

// Ensure interface compliance
var _ Provider = (*GeminiProvider)(nil)

func (p *GeminiProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if val, ok := options["api_key"].(string); ok && val != "" {
		apiKey = val
	}
	if apiKey == "" {
		return "", fmt.Errorf("GEMINI_API_KEY_MISSING: set GEMINI_API_KEY env var")
	}

	model := p.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if val, ok := options["model"].(string); ok && val != "" {
		model = val
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("GEMINI_CLIENT_ERROR: %v", err)
	}

	// Low temperature default: extraction and filtering want determinism.
	temperature := float32(0.1)
	if val, ok := options["temperature"].(float64); ok {
		temperature = float32(val)
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if val, ok := options["max_tokens"].(int); ok && val > 0 {
		config.MaxOutputTokens = int32(val)
	}

	// JSON mode: explicit option first, then the prompt heuristic.
	if wantJSONResponse(options) {
		config.ResponseMIMEType = "application/json"
	} else if _, set := options["response_format"]; !set &&
		(strings.Contains(strings.ToLower(systemPrompt), "json") || strings.Contains(strings.ToLower(prompt), "json")) {
		config.ResponseMIMEType = "application/json"
	}

	if systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{
				{Text: systemPrompt},
			},
		}
	}

	result, err := client.Models.GenerateContent(
		ctx,
		model,
		genai.Text(prompt),
		config,
	)
	if err != nil {
		return "", fmt.Errorf("GEMINI_GENERATION_ERROR: %v", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("GEMINI_EMPTY_RESPONSE: model=%s", model)
	}
	return text, nil
}

func (p *GeminiProvider) AdaptInstructions(raw string) string {
	return raw
}
