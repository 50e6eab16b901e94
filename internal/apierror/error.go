// Package apierror turns backend error responses into one consistent shape.
//
// Backends answer failures with a flat message, a field-level validation map,
// an array of error descriptions or plain text. Normalize probes those shapes
// in a fixed order so callers branch on Classification instead of re-parsing
// bodies.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Classification is the coarse category of a failed call.
type Classification int

const (
	Unknown Classification = iota
	Unauthorized
	Duplicate
	Validation
	Network
)

func (c Classification) String() string {
	switch c {
	case Unauthorized:
		return "unauthorized"
	case Duplicate:
		return "duplicate"
	case Validation:
		return "validation"
	case Network:
		return "network"
	default:
		return "unknown"
	}
}

// MarshalText renders the classification by name.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a classification name as written by MarshalText.
func (c *Classification) UnmarshalText(text []byte) error {
	for _, candidate := range []Classification{Unknown, Unauthorized, Duplicate, Validation, Network} {
		if candidate.String() == string(text) {
			*c = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown classification %q", text)
}

// Sentinels matched by errors.Is against an *Error of the same classification.
var (
	ErrUnknown      = errors.New("request failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrDuplicate    = errors.New("duplicate")
	ErrValidation   = errors.New("validation failed")
	ErrNetwork      = errors.New("network failure")
)

// Error is a normalized backend failure.
type Error struct {
	// Status is the HTTP status code, 0 when no response was received.
	Status int
	// RawBody is the response body as received.
	RawBody string
	// Data is the body when it was a JSON document, nil otherwise.
	Data json.RawMessage
	// Fields maps field names to their validation messages.
	Fields map[string][]string
	// Message is the best human-readable description found.
	Message string

	Classification Classification

	// Err is the transport error for Network failures.
	Err error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Classification, e.Message)
	}
	return fmt.Sprintf("%s (status %d): %s", e.Classification, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the classification sentinels.
func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

// FieldError returns the first message reported for field, matching the field
// name case-insensitively as servers differ in casing.
func (e *Error) FieldError(field string) string {
	for name, msgs := range e.Fields {
		if len(msgs) > 0 && strings.EqualFold(name, field) {
			return msgs[0]
		}
	}
	return ""
}

func (e *Error) sentinel() error {
	switch e.Classification {
	case Unauthorized:
		return ErrUnauthorized
	case Duplicate:
		return ErrDuplicate
	case Validation:
		return ErrValidation
	case Network:
		return ErrNetwork
	default:
		return ErrUnknown
	}
}

// FromTransport wraps a failure where no response was received.
func FromTransport(err error) *Error {
	return &Error{
		Message:        err.Error(),
		Classification: Network,
		Err:            err,
	}
}

// Invalid reports locally detected field errors; no request was sent.
func Invalid(fields map[string][]string) *Error {
	e := &Error{
		Fields:         fields,
		Classification: Validation,
	}
	e.Message = firstFieldMessage(fields)
	if e.Message == "" {
		e.Message = "invalid input"
	}
	return e
}

// FromResponse reads and closes the response body and normalizes it.
func FromResponse(resp *http.Response) *Error {
	body, _ := readBody(resp)
	return Normalize(resp.StatusCode, body)
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
