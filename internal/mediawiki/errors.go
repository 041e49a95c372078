package mediawiki

import (
	"encoding/json"
	"fmt"
)

// RemoteError is returned when the API reports an error or warnings in
// its response body.
type RemoteError struct {
	Endpoint string
	Kind     string // "error" or "warnings"
	Payload  json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s returned %s: %s", e.Endpoint, e.Kind, e.Payload)
}

// TransportError is returned when a request could not be completed or the
// response could not be read.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: API returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
