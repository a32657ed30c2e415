package workflows

import (
	"errors"
	"fmt"

	"github.com/atelierhq/atelier-studio/generation-plane/internal/llm"
)

// StepError aborts a run: the named step failed permanently or exhausted
// its retry budget.
type StepError struct {
	StepName string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.StepName, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// retryableError marks a step failure as transient regardless of what
// the wrapped error looks like.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func transient(err error) bool {
	if err == nil {
		return false
	}
	var marked *retryableError
	if errors.As(err, &marked) {
		return true
	}
	return llm.Transient(err)
}
