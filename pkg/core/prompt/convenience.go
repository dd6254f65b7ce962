package prompt

// Convenience functions for common prompt operations

// GetPipelinePrompt returns a pipeline stage's system prompt from the
// registry. Callers keep their own hardcoded fallback for the common
// case where no prompt library is installed.
func GetPipelinePrompt(stage string) (string, error) {
	id := "pipeline." + stage
	return Get().GetSystemPrompt(id)
}

// PromptIDs contains all known prompt identifiers
var PromptIDs = struct {
	PipelineExpand      string
	PipelineFilter      string
	PipelineSufficiency string
	PipelineNarrative   string
}{
	PipelineExpand:      "pipeline.expand",
	PipelineFilter:      "pipeline.filter",
	PipelineSufficiency: "pipeline.sufficiency",
	PipelineNarrative:   "pipeline.narrative",
}
