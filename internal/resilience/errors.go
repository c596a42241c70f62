package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// TransientError wraps an error that is safe to retry (429, a dropped
// connection, a serialization failure). RetryAfter, when positive, is the
// delay the remote side asked for before the next attempt.
type TransientError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// NewThrottledError wraps err as transient and records the server-directed
// wait before the next attempt.
func NewThrottledError(err error, statusCode int, retryAfter time.Duration) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode, RetryAfter: retryAfter}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from drivers and HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
	"conn closed",
	"unexpected eof",
}

// ThrottleDelay returns the server-directed delay carried by err, or zero.
func ThrottleDelay(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
