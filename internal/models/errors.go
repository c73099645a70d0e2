package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrAuthExpired marks a 401 from an authenticated call. The gateway
	// recovers it once per call through a refresh.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrAuthInvalid marks a failed refresh. The session is over.
	ErrAuthInvalid = errors.New("authentication invalid")
	ErrNetwork     = errors.New("network error")
	// ErrValidation marks a request payload rejected by the server.
	ErrValidation = errors.New("validation error")
	ErrServer     = errors.New("server error")

	ErrPartialCredentials = errors.New("credential pair must have both tokens")
)

// APIError is returned by the request gateway for every failed call.
// Kind is one of the sentinels above; Message is the server's text verbatim.
type APIError struct {
	Kind    error
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "" && e.Status != 0:
		return fmt.Sprintf("%v (status %d): %s", e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%v (status %d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
