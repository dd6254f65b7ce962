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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider talks to any chat-completions compatible endpoint.
// With the default base URL it is the OpenAI API; pointed at a local
// server (LLM_BASE_URL) it serves vLLM deployments, which speak the
// same protocol and may run without an API key.
type OpenAIProvider struct {
	BaseURL string
	Model   string
}

var _ Provider = (*OpenAIProvider)(nil)

type chatRequest struct {
	Messages       []chatMessage   `json:"messages"`
	Model          string          `json:"model"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream"`
	Temperature    float64         `json:"temperature"`
}

type chatMessage struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("LLM_BASE_URL")
	}
	if val, ok := options["base_url"].(string); ok && val != "" {
		baseURL = val
	}
	local := baseURL != "" && baseURL != defaultOpenAIBaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if val, ok := options["api_key"].(string); ok && val != "" {
		apiKey = val
	}
	if apiKey == "" && !local {
		return "", fmt.Errorf("OPENAI_API_KEY_MISSING: set OPENAI_API_KEY env var")
	}

	model := p.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	if val, ok := options["model"].(string); ok && val != "" {
		model = val
	}

	temperature := 0.1
	if val, ok := options["temperature"].(float64); ok {
		temperature = val
	}

	reqBody := chatRequest{
		Messages: []chatMessage{
			{Content: systemPrompt, Role: "system"},
			{Content: prompt, Role: "user"},
		},
		Model:       model,
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
		return "", fmt.Errorf("OPENAI_MARSHAL_ERROR: %v", err)
	}

	url := baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBytes))
	if err != nil {
		return "", fmt.Errorf("OPENAI_REQ_CREATE_ERROR: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{}
	res, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("OPENAI_API_CALL_ERROR: %v", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("OPENAI_READ_BODY_ERROR: %v", err)
	}
	if res.StatusCode != 200 {
		return "", fmt.Errorf("OPENAI_API_ERROR: status=%d body=%s", res.StatusCode, string(body))
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("OPENAI_UNMARSHAL_ERROR: %v", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("OPENAI_NO_CHOICES: %s", string(body))
	}

	return response.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) AdaptInstructions(raw string) string {
	return raw
}
