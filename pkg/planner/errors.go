package planner

import (
	"context"
	"errors"
	"fmt"

	"trip-planner-be/pkg/llm"
)

var (
	// Non-fatal: absorbed inside the pipeline.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	ErrFanOutMemberFailed   = errors.New("fan-out member failed")

	// Terminal but not fatal: content is returned flagged unsafe.
	ErrVerificationExhausted = errors.New("verification retries exhausted")

	// Fatal to the primary pipeline: the orchestrator falls back.
	ErrIntentParsing      = errors.New("intent parsing failed")
	ErrUnhandledTaskType  = errors.New("unhandled task type")
	ErrGenerationEmpty    = errors.New("generation produced no content")
	ErrPipelineTimeout    = errors.New("pipeline timeout")
	ErrPrimaryUnavailable = errors.New("primary pipeline unavailable")

	// Surfaced to the user.
	ErrFallbackFailed = errors.New("fallback responder also failed")
)

// StageError records which pipeline stage produced err.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewStageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// FallbackTrigger is why the orchestrator abandoned the primary pipeline.
type FallbackTrigger string

const (
	TriggerUnavailable FallbackTrigger = "unavailable"
	TriggerErrored     FallbackTrigger = "errored"
	TriggerEmpty       FallbackTrigger = "empty"
	TriggerTimeout     FallbackTrigger = "timeout"
)

// Classify maps a primary-pipeline failure onto a fallback trigger.
func Classify(err error) FallbackTrigger {
	switch {
	case errors.Is(err, ErrPipelineTimeout), errors.Is(err, context.DeadlineExceeded):
		return TriggerTimeout
	case errors.Is(err, ErrGenerationEmpty):
		return TriggerEmpty
	case errors.Is(err, ErrPrimaryUnavailable), errors.Is(err, llm.ErrUnavailable):
		return TriggerUnavailable
	default:
		return TriggerErrored
	}
}
