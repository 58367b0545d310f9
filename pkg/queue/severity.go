package queue

import "errors"

// Handlers classify failures by wrapping the cause with Permanent or
// Transient. Permanent errors are terminal: the job is discarded after a
// single attempt. Transient errors return the job to the retryable state
// until its attempt ceiling is reached. Unclassified errors are treated as
// transient so that ambiguous failures are never silently dropped.

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Permanent marks err as a terminal failure. Returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Transient marks err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsPermanent reports whether err is marked as a terminal failure.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// IsTransient reports whether err is explicitly marked as retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
