package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// DeepSeekProvider covers the DeepSeek chat API. Kept as a low-cost
// alternative for the filtering capability, where call volume is high
// and the prompts are short.
type DeepSeekProvider struct {
	Model string
}

var _ Provider = (*DeepSeekProvider)(nil)

type deepSeekRequest struct {
	Messages       []chatMessage   `json:"messages"`
	Model          string          `json:"model"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`
	Temperature    float64         `json:"temperature"`
}

func (p *DeepSeekProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	apiKey := os.Getenv("DEEPSEEK_API_KEY")
	if val, ok := options["api_key"].(string); ok && val != "" {
		apiKey = val
	}
	if apiKey == "" {
		return "", fmt.Errorf("DEEPSEEK_API_KEY_MISSING: set DEEPSEEK_API_KEY env var")
	}

	model := p.Model
	if model == "" {
		model = "deepseek-chat"
	}
	if val, ok := options["model"].(string); ok && val != "" {
		model = val
	}

	temperature := 0.1
	if val, ok := options["temperature"].(float64); ok {
		temperature = val
	}

	reqBody := deepSeekRequest{
		Messages: []chatMessage{
			{Content: systemPrompt, Role: "system"},
			{Content: prompt, Role: "user"},
		},
		Model:       model,
		MaxTokens:   4096,
		Stream:      false,
		Temperature: temperature,
	}
	if val, ok := options["max_tokens"].(int); ok && val > 0 {
		reqBody.MaxTokens = val
	}
	if wantJSONResponse(options) {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("DEEPSEEK_MARSHAL_ERROR: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.deepseek.com/chat/completions", bytes.NewBuffer(jsonBytes))
	if err != nil {
		return "", fmt.Errorf("DEEPSEEK_REQ_CREATE_ERROR: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	client := &http.Client{}
	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("DEEPSEEK_API_CALL_ERROR: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("DEEPSEEK_READ_BODY_ERROR: %v", err)
	}
	if res.StatusCode != 200 {
		return "", fmt.Errorf("DEEPSEEK_API_ERROR: status=%d found=%s", res.StatusCode, string(body))
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("DEEPSEEK_UNMARSHAL_ERROR: %v", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("DEEPSEEK_NO_CHOICES: %s", string(body))
	}

	return response.Choices[0].Message.Content, nil
}

func (p *DeepSeekProvider) AdaptInstructions(raw string) string {
	return raw
}
