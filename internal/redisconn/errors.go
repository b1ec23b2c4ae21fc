package redisconn

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrUnavailable is returned instead of a client when the manager is in
// fallback mode or a reconnect attempt failed in a fallback-eligible
// environment. Callers apply their configured fail-open/fail-closed policy.
var ErrUnavailable = errors.New("redis connection unavailable")

// IsTransient classifies an error as a transient connection failure worth
// retrying. Anything else (e.g., a malformed URL) is treated as fatal.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	// go-redis wraps some dial failures in plain errors
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "connect: ")
}
