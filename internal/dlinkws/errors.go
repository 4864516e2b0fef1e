package dlinkws

import (
	"errors"
	"fmt"
)

// Sentinel errors for websocket device operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when an operation needs an open socket.
	ErrNotConnected = errors.New("dlinkws: not connected")

	// ErrNotLoggedIn is returned when an authenticated command is
	// attempted before SignIn.
	ErrNotLoggedIn = errors.New("dlinkws: not signed in")

	// ErrConnectionClosed is returned for requests in flight when the
	// socket errors or closes before a correlated reply arrives.
	ErrConnectionClosed = errors.New("dlinkws: connection closed")

	// ErrSignInFailed is returned when the device's sign_in reply lacks
	// the expected session fields.
	ErrSignInFailed = errors.New("dlinkws: sign in failed")

	// ErrSocketIndex is returned for an out-of-range socket index.
	ErrSocketIndex = errors.New("dlinkws: socket index out of range")

	// ErrDialInProgress is returned when Connect is called while
	// another caller is already dialing the same device.
	ErrDialInProgress = errors.New("dlinkws: connect already in progress")
)

// APIError carries a non-zero device status code from a command reply.
type APIError struct {
	Code int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dlinkws: device returned error code %d", e.Code)
}
