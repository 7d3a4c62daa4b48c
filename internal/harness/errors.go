package harness

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig wraps every Config.Validate failure.
	ErrInvalidConfig = errors.New("invalid harness config")

	// ErrRetriesExhausted is returned when RetryConfig.MaxAttempts attempts
	// all failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// WorkerError is a fatal failure inside one worker. Iteration is 1-based;
// 0 means the worker failed before its first increment.
type WorkerError struct {
	Worker    int
	Iteration int
	Attempts  int
	Err       error
}

func (e *WorkerError) Error() string {
	if e.Iteration == 0 {
		return fmt.Sprintf("worker %d: %v", e.Worker, e.Err)
	}
	return fmt.Sprintf("worker %d: iteration %d (attempt %d): %v", e.Worker, e.Iteration, e.Attempts, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// VerificationFailure reports a final counter that differs from the expected
// total.
type VerificationFailure struct {
	Expected int64
	Actual   int64
}

func (e *VerificationFailure) Error() string {
	var b strings.Builder
	b.WriteString("verification failed: ")
	fmt.Fprintf(&b, "expected %d, got %d", e.Expected, e.Actual)
	if lost := e.Expected - e.Actual; lost > 0 {
		fmt.Fprintf(&b, " (%d lost updates)", lost)
	} else if lost < 0 {
		fmt.Fprintf(&b, " (%d extra updates)", -lost)
	}
	return b.String()
}

// MonotonicityViolation reports a counter observed going backwards while
// workers were running.
type MonotonicityViolation struct {
	Previous Sample
	Current  Sample
}

func (e *MonotonicityViolation) Error() string {
	return fmt.Sprintf("counter went backwards: %d at %v, then %d at %v",
		e.Previous.Value, e.Previous.Offset, e.Current.Value, e.Current.Offset)
}
