package main

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors. Callers match with errors.Is so each failure stays
// identifiable at the boundary instead of collapsing into a generic error.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrBatchTooLarge = errors.New("batch exceeds suggestion limit")
)

// UnknownCategoryError reports a label that is not in the registry. The store
// never silently invents categories; the offending label is named.
type UnknownCategoryError struct {
	Label string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category: %q", e.Label)
}

// InferenceUnavailableError means the inference endpoint could not be reached
// at the transport level. Distinct from InvalidResponseError so callers can
// tell "start the inference server" apart from "retry".
type InferenceUnavailableError struct {
	Err error
}

func (e *InferenceUnavailableError) Error() string {
	return fmt.Sprintf("inference unavailable: %v", e.Err)
}

func (e *InferenceUnavailableError) Unwrap() error { return e.Err }

// InvalidResponseError means the model answered but the payload failed
// structural validation. The whole call fails; no partial or guessed results.
type InvalidResponseError struct {
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid llm response: %s", e.Reason)
}
