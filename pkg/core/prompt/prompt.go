// Package prompt provides a small prompt library for the pipeline's
// LLM interactions. Stage packages carry hardcoded fallback prompts;
// anything registered here (directly or via LoadFromDirectory) takes
// precedence, so prompts can be tuned without code changes.
package prompt

import (
	"bytes"
	"fmt"
	"text/template"
)

// PromptTemplate is a reusable prompt with metadata.
type PromptTemplate struct {
	ID             string `json:"id"`                   // e.g. "pipeline.expand"
	Name           string `json:"name"`                 // Human-readable name
	Category       string `json:"category"`             // e.g. "pipeline"
	Description    string `json:"description"`          // Purpose of the prompt
	SystemPrompt   string `json:"system_prompt"`        // The system prompt content
	UserPromptTmpl string `json:"user_prompt_template"` // Go template for the user prompt
	Version        string `json:"version"`              // Version for tracking changes
}

// PromptExecutionContext holds runtime values for template rendering.
type PromptExecutionContext struct {
	Variables map[string]interface{}
}

func NewContext() *PromptExecutionContext {
	return &PromptExecutionContext{
		Variables: make(map[string]interface{}),
	}
}

// Set adds a variable to the context. Chainable.
func (c *PromptExecutionContext) Set(key string, value interface{}) *PromptExecutionContext {
	c.Variables[key] = value
	return c
}

// RenderUserPrompt executes the user prompt template with the context.
func RenderUserPrompt(pt *PromptTemplate, ctx *PromptExecutionContext) (string, error) {
	if pt.UserPromptTmpl == "" {
		return "", nil
	}

	tmpl, err := template.New(pt.ID).Parse(pt.UserPromptTmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx.Variables); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
