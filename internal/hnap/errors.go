package hnap

import (
	"errors"
	"fmt"
)

// Sentinel errors for HNAP operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotLoggedIn is returned when an authenticated call is attempted
	// before a successful Login.
	ErrNotLoggedIn = errors.New("hnap: not logged in")

	// ErrLoginFailed is returned when the device rejects the credentials
	// (LoginResult != "success"). This is a clean refusal, not a
	// transport failure.
	ErrLoginFailed = errors.New("hnap: login rejected")

	// ErrUnauthorized is returned when the device demands a fresh login.
	// Callers should clear session state and re-login.
	ErrUnauthorized = errors.New("hnap: unauthorized, need relogin")

	// ErrRequestFailed is returned when the device answers an action
	// with a literal ERROR result.
	ErrRequestFailed = errors.New("hnap: request failed, probably need relogin")

	// ErrMissingField is returned when an expected result element is
	// absent from a response body.
	ErrMissingField = errors.New("hnap: result field missing from response")
)

// StatusError carries the HTTP-level status code alongside a sentinel.
// Wrap order is sentinel-first so errors.Is() keeps working:
//
//	if errors.Is(err, hnap.ErrUnauthorized) { ... }
//	var se *hnap.StatusError
//	if errors.As(err, &se) { code := se.Code }
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (status %d)", e.Err, e.Code)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// statusError wraps a sentinel with an HTTP status code.
func statusError(code int, sentinel error) error {
	return &StatusError{Code: code, Err: sentinel}
}

// SessionExpired reports whether err means the device session is no
// longer valid and a re-login is required.
func SessionExpired(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrRequestFailed)
}
