// Package mediawiki implements the continuation-driven "query" action of
// the MediaWiki action API.
package mediawiki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cyderes/wiki-archive-service/internal/logger"
)

// generatorPrefix marks continuation parameters that belong to a generator.
const generatorPrefix = "g"

const userAgent = "wiki-archive-service/1.0"

// Client issues query requests against MediaWiki API endpoints.
type Client struct {
	httpClient *http.Client
	adminEmail string
	log        logger.Logger
}

// NewClient creates a new query client. adminEmail is sent in the From
// header so wiki operators can reach whoever runs the archiver.
func NewClient(adminEmail string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		adminEmail: adminEmail,
		log:        log,
	}
}

// response is the top level of an action=query reply.
type response struct {
	Error         json.RawMessage                       `json:"error"`
	Warnings      json.RawMessage                       `json:"warnings"`
	Query         json.RawMessage                       `json:"query"`
	QueryContinue map[string]map[string]json.RawMessage `json:"query-continue"`
}

// Query starts a paginated query. No request is made until the first call
// to Next.
func (c *Client) Query(ctx context.Context, endpoint string, params url.Values) *Iterator {
	base := url.Values{}
	for k, v := range params {
		base[k] = append([]string(nil), v...)
	}
	base.Set("action", "query")
	base.Set("format", "json")
	base.Set("rawcontinue", "")
	base.Set("maxlag", "1")

	return &Iterator{
		ctx:      ctx,
		client:   c,
		endpoint: endpoint,
		base:     base,
		cont:     url.Values{},
	}
}

// do performs one request and decodes the reply.
func (c *Client) do(ctx context.Context, endpoint string, form url.Values) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	if c.adminEmail != "" {
		req.Header.Set("From", c.adminEmail)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	// Errors can arrive with a 200 status.
	if len(r.Error) > 0 {
		return nil, &RemoteError{Endpoint: endpoint, Kind: "error", Payload: r.Error}
	}
	// Warnings are treated as fatal; nothing here knows which are benign.
	if len(r.Warnings) > 0 {
		return nil, &RemoteError{Endpoint: endpoint, Kind: "warnings", Payload: r.Warnings}
	}
	return &r, nil
}

// continuation picks the parameters to resend from a query-continue block.
// Non-generator parameters are preferred; if every parameter belongs to a
// generator, all of them are used.
func continuation(block map[string]map[string]json.RawMessage) url.Values {
	cont := url.Values{}
	for _, params := range block {
		for name, value := range params {
			if !strings.HasPrefix(name, generatorPrefix) {
				cont.Set(name, rawValue(value))
			}
		}
	}
	if len(cont) > 0 {
		return cont
	}
	for _, params := range block {
		for name, value := range params {
			cont.Set(name, rawValue(value))
		}
	}
	return cont
}

// rawValue renders a JSON scalar the way it must be sent back: strings
// without quotes, everything else as its literal text.
func rawValue(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(v))
}
