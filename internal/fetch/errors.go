package fetch

import (
	"errors"
	"fmt"
)

var ErrAllEndpointsExhausted = errors.New("all endpoints exhausted")

// TransportError is a connection, timeout or non-2xx failure.
type TransportError struct {
	Source string
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d from %s", e.Source, e.Status, e.URL)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a response that arrived but does not fit the dialect's
// schema. It is retried like an empty payload.
type DecodeError struct {
	Source string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ExhaustedError ends one chapter's cascade without a success.
type ExhaustedError struct {
	ChapterID string
	Attempts  int
	Last      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("chapter %s: %s after %d attempts: %v", e.ChapterID, ErrAllEndpointsExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrAllEndpointsExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Last }
