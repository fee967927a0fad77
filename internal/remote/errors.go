package remote

import (
	"errors"
	"fmt"
)

// ErrorClass splits remote failures by how callers should react
type ErrorClass int

const (
	// Transient failures may succeed on retry: rate limits, network blips,
	// an instance that is not running yet
	Transient ErrorClass = iota
	// Permanent failures will not be fixed by retrying: rejected requests,
	// missing configuration
	Permanent
)

// APIError is returned by the fleet client and the lifecycle manager
type APIError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fleet api: %s (status %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("fleet api: %s", e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ErrNotConfigured is returned when no instance id is configured or cached.
// Classified permanent: no retry can supply missing configuration.
var ErrNotConfigured = &APIError{Class: Permanent, Message: "no remote instance configured"}

// IsTransient reports whether err should be retried by the caller
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class == Transient
	}
	// Unknown failures default to transient so the watchdog gets a chance
	// to reset the job rather than permanently failing it.
	return true
}
