// Package status holds the result value returned by every upload operation
// and the error taxonomy shared by the multipart engine and the resumable client.
package status

import "fmt"

// UnknownStatusCode is reported when no HTTP exchange completed.
const UnknownStatusCode = -1

// UnknownStatusMessage pairs with UnknownStatusCode.
const UnknownStatusMessage = "unknown status"

// Payload is the flavor specific content of a successful upload.
type Payload interface {
	payload()
}

// LocationContent is returned by flavors whose finish response points at a created resource.
type LocationContent struct {
	Location string
	ETag     string
}

func (LocationContent) payload() {}

// BodyContent carries the raw response body of the final request.
type BodyContent struct {
	Body string
}

func (BodyContent) payload() {}

// Status is the terminal outcome of an upload. It is never partially successful:
// either Err is set, or the upload completed.
type Status struct {
	StatusCode    int
	StatusMessage string
	Err           error
	Payload       Payload
}

// New ...
func New(code int, message string, payload Payload) Status {
	return Status{StatusCode: code, StatusMessage: message, Payload: payload}
}

// Failed builds an error status carrying the last known HTTP state.
func Failed(code int, message string, err error) Status {
	return Status{StatusCode: code, StatusMessage: message, Err: err}
}

// IsError reports whether the upload failed.
func (s Status) IsError() bool {
	return s.Err != nil
}

// HasContent reports whether a flavor payload is attached.
func (s Status) HasContent() bool {
	return s.Payload != nil
}

// Location returns the created resource location, if the payload carries one.
func (s Status) Location() (LocationContent, bool) {
	c, ok := s.Payload.(LocationContent)
	return c, ok
}

// Body returns the raw response body, if the payload carries one.
func (s Status) Body() (string, bool) {
	c, ok := s.Payload.(BodyContent)
	return c.Body, ok
}

func (s Status) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%d %s: %s", s.StatusCode, s.StatusMessage, s.Err)
	}
	return fmt.Sprintf("%d %s", s.StatusCode, s.StatusMessage)
}
