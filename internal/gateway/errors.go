package gateway

import (
	"errors"
	"fmt"
)

// TransportError means the gateway could not be reached or the exchange
// did not complete (dial, TLS, timeout, truncated body).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError means the gateway answered but rejected the call.
type APIError struct {
	Op      string
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s: %s (http %d, code %d)", e.Op, e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("gateway: %s: http %d, code %d", e.Op, e.Status, e.Code)
}

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
