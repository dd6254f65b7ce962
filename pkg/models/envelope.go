package models

// Envelope is the single result shape every deep-search run produces,
// whether it finished cleanly, partially, or was cancelled. The JSON
// schema is stable; fields are only ever added.
type Envelope struct {
	Query     string     `json:"query"`
	Answer    string     `json:"answer"`
	Summary   Summary    `json:"summary"`
	Documents []Filing   `json:"documents"`
	Telemetry Telemetry  `json:"telemetry"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

type Summary struct {
	TotalDocuments int        `json:"total_documents"`
	DateRange      DateWindow `json:"date_range"`
	Companies      []string   `json:"companies"`
	Confidence     string     `json:"confidence"`
}

// DateWindow is the envelope's wire form of a date range (YYYYMMDD).
type DateWindow struct {
	Begin string `json:"begin"`
	End   string `json:"end"`
}

// Window converts a DateRange to its wire form.
func (r DateRange) Window() DateWindow {
	if r.IsZero() {
		return DateWindow{}
	}
	return DateWindow{Begin: r.BeginParam(), End: r.EndParam()}
}

// Confidence buckets for the summary.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

type Telemetry struct {
	RunID           string           `json:"run_id"`
	Attempts        int              `json:"attempts"`
	StageLatencyMS  map[string]int64 `json:"stage_latency_ms,omitempty"`
	PartialFailures []PartialFailure `json:"partial_failures"`
	CacheHitRate    float64          `json:"cache_hit_rate"`
	LLMCalls        int              `json:"llm_calls"`
	DurationMS      int64            `json:"duration_ms"`
}

// PartialFailure records a degraded step that did not abort the run.
type PartialFailure struct {
	Phase   string `json:"phase"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorInfo classifies a run that could not complete normally. Present
// only on aborted or cancelled runs; partial degradation shows up in
// telemetry instead.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}
