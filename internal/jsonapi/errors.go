package jsonapi

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport covers every network or decoding failure while fetching a
	// document. Callers branch on this sentinel only, never on the cause.
	ErrTransport = errors.New("jsonapi: failed to fetch document")

	// ErrMalformedResource marks a payload whose resource reference lacks the
	// required type or id member. Fatal to that document.
	ErrMalformedResource = errors.New("jsonapi: malformed resource")
)

// RequestError wraps ErrTransport with request context.
type RequestError struct {
	Op     string
	URL    string
	Status int
	Err    error // nested lower-level error (e.g. net.Error)
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("jsonapi: %s %s: %v", e.Op, e.URL, ErrTransport)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RequestError) Unwrap() error {
	return ErrTransport
}

// ParseError wraps ErrMalformedResource with what was missing.
type ParseError struct {
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMalformedResource, e.Detail)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformedResource
}
