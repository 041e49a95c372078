package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Shapes of the "query" fragments used here. Pointer fields distinguish a
// missing key from a zero value.

type pagesResult struct {
	Pages map[string]page `json:"pages"`
}

// frontierResult keeps pages in the order the API listed them.
type frontierResult struct {
	Pages orderedPages `json:"pages"`
}

// orderedPages decodes the "pages" object into a slice, preserving key
// order. It stays nil when the object is missing or null.
type orderedPages []page

func (o *orderedPages) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("pages: expected object, got %v", tok)
	}

	pages := orderedPages{}
	for dec.More() {
		// page key; the pageid field is authoritative
		if _, err := dec.Token(); err != nil {
			return err
		}
		var p page
		if err := dec.Decode(&p); err != nil {
			return err
		}
		pages = append(pages, p)
	}
	*o = pages
	return nil
}

type page struct {
	PageID    *uint64    `json:"pageid"`
	Title     *string    `json:"title"`
	FullURL   *string    `json:"fullurl"`
	Revisions []revision `json:"revisions"`
}

type revision struct {
	RevID     *uint64         `json:"revid"`
	ParentID  *uint64         `json:"parentid"`
	User      *string         `json:"user"`
	Timestamp *string         `json:"timestamp"`
	Comment   *string         `json:"comment"`
	Content   *string         `json:"*"`
	Slots     map[string]slot `json:"slots"`
}

type slot struct {
	Content *string `json:"*"`
}
