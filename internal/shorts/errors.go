package shorts

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotClaimable is returned when attempting to claim a job that is
	// not in a claimable state (already picked up, ready, or deleted)
	ErrJobNotClaimable = errors.New("job not in a claimable status")

	// ErrMaxRetriesExceeded is returned when a job has exceeded its retry limit
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// maxErrorLen bounds the error text recorded on the job row.
const maxErrorLen = 1000

// TransientError wraps failures worth retrying: network timeouts, resets,
// 5xx responses, flaky encoder runs.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return "transient " + e.Op + " error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable.
func NewTransientError(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// PermanentError wraps failures where further attempts cannot succeed:
// 404/403, private or copyrighted sources, invalid media.
type PermanentError struct {
	Op     string
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Reason != "" {
		return "permanent " + e.Op + " error (" + e.Reason + "): " + e.Err.Error()
	}
	return "permanent " + e.Op + " error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as terminal with a structured reason code.
func NewPermanentError(op, reason string, err error) error {
	return &PermanentError{Op: op, Reason: reason, Err: err}
}

// ValidationError marks policy rejections (duration cap, capacity caps).
// Terminal, never retried, and not an infrastructure fault.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NewValidationError creates a terminal policy rejection.
func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsRetryable reports whether err should trigger another attempt. Only
// TransientError qualifies; validation and permanent failures are terminal.
func IsRetryable(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// TruncateError bounds failure text before it is written to the job row.
func TruncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
