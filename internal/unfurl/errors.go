package unfurl

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable is returned for non-2xx statuses and transport failures.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedPayload is returned when an upstream body cannot be decoded into
	// the shape an adapter expects.
	ErrMalformedPayload = errors.New("malformed upstream payload")

	// ErrFatal marks failures that must not be silently folded into NotApplicable.
	ErrFatal = errors.New("fatal unfurl failure")
)

// PayloadError carries the raw upstream body that failed to decode so it can be
// captured for later inspection.
type PayloadError struct {
	Source string
	Body   []byte
	Err    error
}

// Malformed builds a PayloadError for the named upstream call.
func Malformed(source string, body []byte, err error) error {
	return &PayloadError{Source: source, Body: body, Err: err}
}

func (e *PayloadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrMalformedPayload, e.Source)
	}
	return fmt.Sprintf("%s: %s: %v", ErrMalformedPayload, e.Source, e.Err)
}

// Unwrap exposes both the sentinel and the underlying decode error.
func (e *PayloadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedPayload}
	}
	return []error{ErrMalformedPayload, e.Err}
}

// Unavailable wraps a status or transport failure for the named upstream call.
func Unavailable(source string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, source, err)
}
