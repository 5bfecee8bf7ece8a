package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for domain state transitions.
var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrJourneyStarted      = errors.New("journey already has stage executions")
	ErrJourneyTerminal     = errors.New("journey is in a terminal state")
	ErrExecutionOpen       = errors.New("journey already has an open stage execution")
	ErrNoOpenExecution     = errors.New("journey has no open stage execution")
	ErrCountsExceedTotal   = errors.New("recipient counts would exceed total recipients")
	ErrNegativeCount       = errors.New("recipient counts must not be negative")
	ErrUnknownStage        = errors.New("stage not found in workflow")
	ErrUnsupportedWorkflow = errors.New("workflow type has no next-stage resolver")
)

// ValidationError is one problem found while validating a definition.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every problem found; it is never short-circuited.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(v), strings.Join(msgs, "; "))
}

// Err returns nil when there are no problems, so callers can write
// `if err := wf.Validate().Err(); err != nil`.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) add(field, format string, args ...interface{}) {
	*v = append(*v, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}
