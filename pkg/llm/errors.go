package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"storyreel/pkg/request"
)

// Sentinel errors providers wrap so callers can classify failures.
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrOverloaded      = errors.New("provider overloaded")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrMalformedOutput = errors.New("malformed model output")
)

// Class groups errors by retry policy.
type Class int

const (
	// ClassOther errors get a short linear retry budget.
	ClassOther Class = iota
	// ClassTransient errors (rate limits, overload) get long exponential backoff.
	ClassTransient
	// ClassFatal errors are never retried.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "other"
	}
}

// Classify maps an error to its retry class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassOther
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassFatal
	case errors.Is(err, ErrUnauthorized):
		return ClassFatal
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrOverloaded):
		return ClassTransient
	}
	if se, ok := request.AsStatusError(err); ok {
		return classifyStatus(se.Code)
	}
	return ClassOther
}

func classifyStatus(code int) Class {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ClassFatal
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, 529:
		return ClassTransient
	}
	return ClassOther
}

// StatusSentinel returns the sentinel matching an HTTP status, or nil.
// Providers wrap it around the raw error.
func StatusSentinel(code int) error {
	switch code {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		return ErrOverloaded
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return nil
}

// WrapStatus annotates err with the sentinel for code when there is one.
func WrapStatus(code int, err error) error {
	if s := StatusSentinel(code); s != nil {
		return fmt.Errorf("%w: %w", s, err)
	}
	return err
}

// ExtractionError is returned when a call exhausts its retry budget or hits a
// fatal error.
type ExtractionError struct {
	Profile  string
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("llm %s failed after %d attempt(s): %v", e.Profile, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
