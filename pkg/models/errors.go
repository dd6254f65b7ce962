package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. Only ExpansionFailed and
// SearchUnavailable on a first attempt abort a run; everything else
// degrades into partial results.
type ErrorKind string

const (
	KindExpansionFailed   ErrorKind = "expansion_failed"
	KindSearchUnavailable ErrorKind = "search_unavailable"
	KindRateLimited       ErrorKind = "rate_limited"
	KindFetchFailed       ErrorKind = "fetch_failed"
	KindLLMUnavailable    ErrorKind = "llm_unavailable"
	KindCancelled         ErrorKind = "cancelled"
	KindInternal          ErrorKind = "internal"
)

// PipelineError carries the failure class plus the stage it surfaced in.
type PipelineError struct {
	Kind    ErrorKind
	Stage   string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Stage, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError builds a classified error for a pipeline stage.
func NewPipelineError(kind ErrorKind, stage, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err, walking wrapped errors.
// Returns KindInternal for unclassified errors and "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}
