package loader

import (
	"errors"
	"fmt"
)

// Reason classifies why a load attempt failed.
type Reason string

const (
	// ReasonNetwork covers fetch failures: connection errors, non-2xx
	// responses, truncated downloads.
	ReasonNetwork Reason = "network"
	// ReasonTimeout covers attempts that exceeded the readiness deadline.
	ReasonTimeout Reason = "timeout"
	// ReasonDecode covers assets that fetched but could not be probed or
	// decoded.
	ReasonDecode Reason = "decode"
)

// LoadError is returned after the bounded retry policy is exhausted.
// It carries the terminal attempt number and the underlying cause.
type LoadError struct {
	Reason  Reason
	URL     string
	Attempt int
	Cause   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loader: %s failed after attempt %d (%s): %v", e.URL, e.Attempt, e.Reason, e.Cause)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// AsLoadError unwraps err to a *LoadError if one is in its chain.
func AsLoadError(err error) (*LoadError, bool) {
	var le *LoadError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
