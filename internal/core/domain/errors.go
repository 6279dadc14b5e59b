package domain

import "errors"

// ErrorKind classifies a grading failure for the retry policy.
type ErrorKind string

const (
	// ErrorKindTransient covers failures expected to succeed on retry:
	// timeouts, rate limits, 5xx responses, transport errors.
	ErrorKindTransient ErrorKind = "transient"
	// ErrorKindPermanent covers failures that will not succeed on retry:
	// invalid content, caller quota exhausted, malformed rubric.
	ErrorKindPermanent ErrorKind = "permanent"
)

// GradingError is the typed failure returned by a grader. Classification is
// carried on the error itself so downstream code never has to string-match.
type GradingError struct {
	Kind    ErrorKind
	Message string
	Err     error // underlying cause, may be nil
}

func (e *GradingError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *GradingError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable grading failure.
func NewTransientError(msg string, err error) *GradingError {
	return &GradingError{Kind: ErrorKindTransient, Message: msg, Err: err}
}

// NewPermanentError wraps err as a non-retryable grading failure.
func NewPermanentError(msg string, err error) *GradingError {
	return &GradingError{Kind: ErrorKindPermanent, Message: msg, Err: err}
}

// IsTransient reports whether err is a grading error expected to succeed on
// retry. Unclassified errors are treated as transient so an unknown outage
// gets the benefit of the backoff schedule instead of failing an item outright.
func IsTransient(err error) bool {
	var ge *GradingError
	if errors.As(err, &ge) {
		return ge.Kind == ErrorKindTransient
	}
	return true
}

// IsPermanent reports whether err is classified as a permanent grading error.
func IsPermanent(err error) bool {
	var ge *GradingError
	if errors.As(err, &ge) {
		return ge.Kind == ErrorKindPermanent
	}
	return false
}
