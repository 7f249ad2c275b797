package domain

import "github.com/rotisserie/eris"

// Error taxonomy shared by every scoring component. Call sites wrap these
// sentinels with eris.Wrapf so callers can classify with eris.Is.
var (
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = eris.New("validation error")

	// ErrNotFound marks a missing record or formula. Usually recoverable.
	ErrNotFound = eris.New("not found")

	// ErrInvariantViolation marks a broken internal guarantee. It indicates a bug.
	ErrInvariantViolation = eris.New("invariant violation")

	// ErrConcurrencyConflict marks a failed optimistic check.
	ErrConcurrencyConflict = eris.New("concurrency conflict")

	// ErrForbidden is returned when the capability check denies an action.
	ErrForbidden = eris.New("forbidden")

	// ErrBatchFailed is returned when a batch exceeds its error-rate threshold.
	ErrBatchFailed = eris.New("batch failed")
)

func IsValidation(err error) bool { return eris.Is(err, ErrValidation) }

func IsNotFound(err error) bool { return eris.Is(err, ErrNotFound) }

func IsInvariantViolation(err error) bool { return eris.Is(err, ErrInvariantViolation) }

func IsConcurrencyConflict(err error) bool { return eris.Is(err, ErrConcurrencyConflict) }

func IsForbidden(err error) bool { return eris.Is(err, ErrForbidden) }

// IsClassified reports whether err belongs to the taxonomy. Unclassified
// errors (driver hiccups, timeouts) are the only ones worth retrying.
func IsClassified(err error) bool {
	return IsValidation(err) || IsNotFound(err) || IsInvariantViolation(err) ||
		IsConcurrencyConflict(err) || IsForbidden(err)
}
