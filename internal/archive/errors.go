package archive

import "fmt"

// ProtocolError is returned when a query response does not have the shape
// the request guarantees, e.g. a single-revision query answering with two
// pages.
type ProtocolError struct {
	Endpoint string
	PageID   uint64
	RevID    uint64
	Reason   string
}

func (e *ProtocolError) Error() string {
	if e.RevID == 0 && e.PageID == 0 {
		return fmt.Sprintf("unexpected response from %s: %s", e.Endpoint, e.Reason)
	}
	return fmt.Sprintf("unexpected response from %s for page %d revision %d: %s",
		e.Endpoint, e.PageID, e.RevID, e.Reason)
}
