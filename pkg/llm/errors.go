package llm

import (
	"errors"
	"fmt"
)

// TransportError indicates a network or provider-side failure (timeout,
// connection error, rate limit, 5xx). Transport errors are retryable by the
// batch processor; content-level errors are not wrapped in this type.
type TransportError struct {
	// Status is the HTTP status code, if one was received (0 otherwise).
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm transport error (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("llm transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
