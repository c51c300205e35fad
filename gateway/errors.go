package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidResponse    = errors.New("gateway: invalid response")
	ErrUnrecognizedStatus = errors.New("gateway: unrecognized invoice status")
)

// NetworkError means the outcome of the call is unknown. Calls carrying an
// idempotency key are safe to repeat with the same key.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: unavailable (http %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// GatewayError is an explicit rejection by the provider.
type GatewayError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: rejected (http %d): %s", e.Op, e.StatusCode, e.Message)
}

func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}
