package esi

import (
	"errors"
	"fmt"
)

// ErrOutOfRetries is returned when every retry slot was consumed by a
// retriable failure.
var ErrOutOfRetries = errors.New("esi: out of retries")

// TransportError wraps a failure to reach the upstream at all. Retriable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("esi: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is a non-retriable upstream rejection: any non-200 status
// outside the retry table. The Locations worker blacklists structure IDs
// on this error.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("esi: upstream rejected with status %d", e.Status)
	}
	return fmt.Sprintf("esi: upstream rejected with status %d: %s", e.Status, e.Message)
}

// AuthError wraps a token acquisition failure during request build.
// Non-retriable.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("esi: auth: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsUpstreamRejected reports whether err is an upstream rejection and
// returns it when so.
func IsUpstreamRejected(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
