package mediawiki

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/cyderes/wiki-archive-service/internal/logger"
)

// Iterator walks the fragments of one paginated query. Each call to Next
// makes exactly one request.
//
//	it := client.Query(ctx, endpoint, params)
//	for it.Next() {
//		use(it.Fragment())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	ctx      context.Context
	client   *Client
	endpoint string
	base     url.Values
	cont     url.Values

	fragment json.RawMessage
	requests int
	done     bool
	err      error
}

// Next requests the next fragment. It returns false when the query is
// exhausted or has failed; Err distinguishes the two.
func (it *Iterator) Next() bool {
	for !it.done {
		form := url.Values{}
		for k, v := range it.base {
			form[k] = v
		}
		for k, v := range it.cont {
			form[k] = v
		}

		it.requests++
		it.client.log.Debug("Query request",
			logger.String("endpoint", it.endpoint),
			logger.Int("request", it.requests))

		r, err := it.client.do(it.ctx, it.endpoint, form)
		if err != nil {
			it.err = err
			it.done = true
			it.fragment = nil
			return false
		}

		// An empty continuation block would repeat the same request forever.
		it.cont = continuation(r.QueryContinue)
		if len(it.cont) == 0 {
			it.done = true
		}

		if len(r.Query) > 0 {
			it.fragment = r.Query
			return true
		}
	}
	it.fragment = nil
	return false
}

// Fragment returns the "query" object of the latest response.
func (it *Iterator) Fragment() json.RawMessage {
	return it.fragment
}

// Decode unmarshals the current fragment into v.
func (it *Iterator) Decode(v any) error {
	return json.Unmarshal(it.fragment, v)
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}
