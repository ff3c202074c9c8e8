package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmptyQueue       = errors.New("queue is empty")
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("already processed")
	ErrConflict         = errors.New("job state changed concurrently")
	ErrStoreUnavailable = errors.New("queue store unavailable")

	// ErrVisibilityTimeout is recorded when a worker held a job past its deadline.
	ErrVisibilityTimeout = errors.New("visibility timeout exceeded")
)

// ProcessingError is returned by the external workflow. It triggers the
// retry/DLQ policy.
type ProcessingError struct {
	JobID string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing job %s: %v", e.JobID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// DeliveryError is a webhook or email failure. It never changes job state.
type DeliveryError struct {
	Sink    string
	Attempt int
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery failed (attempt %d): %v", e.Sink, e.Attempt, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

const maxErrorLength = 4096

// SanitizeError strips control characters and truncates an error message
// before it is stored on a job.
func SanitizeError(msg string) string {
	var b strings.Builder
	b.Grow(len(msg))
	for _, r := range msg {
		if r == '\n' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > maxErrorLength {
		s = s[:maxErrorLength-3] + "..."
	}
	return s
}
