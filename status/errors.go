package status

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingLocationHeader is returned when the start response carries no session URL.
	ErrMissingLocationHeader = errors.New("could not find Location header")
	// ErrUploadCancelled is returned when the session was cancelled before finishing.
	ErrUploadCancelled = errors.New("upload has been cancelled")
	// ErrTimeout is returned when the part upload phase outlives its deadline.
	ErrTimeout = errors.New("part upload timed out")
)

// PartCountMismatchError is returned when fewer parts were acknowledged than planned.
type PartCountMismatchError struct {
	Expected int
	Actual   int
}

func (e *PartCountMismatchError) Error() string {
	return fmt.Sprintf("the number of parts uploaded does not match the number of parts created, expected: %d, actual: %d", e.Expected, e.Actual)
}

// TransportError wraps an IO or network failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerRejectedError is returned for a non-success status that is not retried.
type ServerRejectedError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ServerRejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}
