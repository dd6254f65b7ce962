package expand

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// StructuredExtractor is a direct Gemini client for the extraction
// call. It pins JSON output mode at the model level, which the generic
// provider interface cannot guarantee, so expansion prefers it whenever
// a Gemini key is present.
type StructuredExtractor struct {
	client    *genai.Client
	modelName string
}

var _ Extractor = (*StructuredExtractor)(nil)

func NewStructuredExtractor(ctx context.Context) (*StructuredExtractor, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %v", err)
	}

	modelName := os.Getenv("GEMINI_EXTRACTION_MODEL")
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &StructuredExtractor{client: client, modelName: modelName}, nil
}

// Extract runs one JSON-mode generation and returns the raw text.
func (e *StructuredExtractor) Extract(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	model := e.client.GenerativeModel(e.modelName)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("EXTRACTION_GENERATION_ERROR: %v", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("EXTRACTION_EMPTY_RESPONSE: no candidates returned")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("EXTRACTION_EMPTY_RESPONSE: candidate had no text parts")
	}
	return text, nil
}

func (e *StructuredExtractor) Close() error {
	return e.client.Close()
}
