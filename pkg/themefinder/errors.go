package themefinder

import (
	"context"
	"errors"
	"fmt"

	"github.com/dan-solli/themefinder/pkg/batch"
	"github.com/dan-solli/themefinder/pkg/llm"
	"github.com/dan-solli/themefinder/pkg/prompt"
	"github.com/dan-solli/themefinder/pkg/schema"
)

// Error type constants for classification
const (
	ErrTypeTransport  = "transport"
	ErrTypeValidation = "validation"
	ErrTypeInput      = "input"
	ErrTypeOutage     = "outage"
	ErrTypeCancelled  = "cancelled"
	ErrTypeUnknown    = "unknown"
)

// StageError is the fatal error a failed run returns: it names the pipeline
// stage that failed, the last state the run reached before it, and wraps the
// cause. A run that returns a StageError produced no result.
type StageError struct {
	Stage     string
	LastState State
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline failed in stage %q (reached %s): %v", e.Stage, e.LastState, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ClassifyError inspects an error and returns its type classification.
// This enables grouping errors by category in metrics and traces.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrTypeCancelled
	}

	var outageErr *batch.OutageError
	if errors.As(err, &outageErr) {
		return ErrTypeOutage
	}

	var inputErr *prompt.InvalidInputError
	if errors.As(err, &inputErr) {
		return ErrTypeInput
	}

	var validationErr *schema.ValidationError
	if errors.As(err, &validationErr) {
		return ErrTypeValidation
	}

	if llm.IsTransport(err) {
		return ErrTypeTransport
	}

	return ErrTypeUnknown
}
