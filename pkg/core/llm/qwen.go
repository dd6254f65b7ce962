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

// QwenProvider covers Alibaba's Qwen models through the native
// DashScope API. Qwen handles mixed Korean and English text well,
// which matters for disclosure queries.
type QwenProvider struct {
	Model string
}

var _ Provider = (*QwenProvider)(nil)

func (p *QwenProvider) GenerateResponse(ctx context.Context, prompt string, systemPrompt string, options map[string]interface{}) (string, error) {
	apiKey := os.Getenv("DASHSCOPE_API_KEY")
	if val, ok := options["api_key"].(string); ok && val != "" {
		apiKey = val
	}
	if apiKey == "" {
		apiKey = os.Getenv("QWEN_API_KEY")
	}
	if apiKey == "" {
		return "", fmt.Errorf("QWEN_API_KEY_MISSING: set DASHSCOPE_API_KEY or QWEN_API_KEY")
	}

	model := p.Model
	if model == "" {
		model = "qwen-max"
	}
	if val, ok := options["model"].(string); ok && val != "" {
		model = val
	}

	reqBody := map[string]interface{}{
		"model": model,
		"input": map[string]interface{}{
			"messages": []map[string]string{
				{"role": "system", "content": systemPrompt},
				{"role": "user", "content": prompt},
			},
		},
		"parameters": map[string]interface{}{
			"result_format": "message",
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("QWEN_MARSHAL_ERROR: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("QWEN_REQ_CREATE_ERROR: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("QWEN_API_CALL_ERROR: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("QWEN_API_ERROR: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Output struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			// Some DashScope endpoints return text directly in output.
			Text string `json:"text"`
		} `json:"output"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("QWEN_DECODE_ERROR: %v", err)
	}
	if result.Code != "" {
		return "", fmt.Errorf("QWEN_API_ERROR: %s - %s", result.Code, result.Message)
	}

	if len(result.Output.Choices) > 0 {
		return result.Output.Choices[0].Message.Content, nil
	}
	if result.Output.Text != "" {
		return result.Output.Text, nil
	}
	return "", fmt.Errorf("QWEN_EMPTY_RESPONSE: model=%s", model)
}

func (p *QwenProvider) AdaptInstructions(raw string) string {
	return raw
}
