// Package apperr implements the error taxonomy from spec.md §7: a small set
// of classification "kinds" that the Task Queue and Worker Loop use to decide
// whether a failure is retryable, rather than a full hierarchy of error types.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for retry and presentation purposes.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindAuth       Kind = "auth"
	KindDatabase   Kind = "database"
	KindLLMParsing Kind = "llm_parsing"
	KindProcessing Kind = "processing"
	KindInternal   Kind = "internal"
)

// Error is the single error type carried across stage and queue boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to Internal for plain errors.
// Retryable still retries such errors, since it only excludes Validation.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the Task Queue should retry a task that failed
// with err. Validation is the sole non-retryable class (spec.md §4.1, §7);
// everything else, including unclassified errors, is retried under the
// queue's backoff policy until max_attempts is exhausted.
func Retryable(err error) bool {
	return KindOf(err) != KindValidation
}
