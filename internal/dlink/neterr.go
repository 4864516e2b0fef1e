package dlink

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// IsTransientNetError reports whether err looks like an ordinary
// transient network failure - a timeout, refused or reset connection -
// rather than a protocol or logic error. Drivers log transient
// failures at debug level; anything else earns one error-level line
// per failure streak.
func IsTransientNetError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}
