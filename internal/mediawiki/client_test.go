package mediawiki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/wiki-archive-service/internal/logger"
)

func newTestClient() *Client {
	return NewClient("admin@example.org", 30*time.Second, logger.NewNop())
}

func collect(t *testing.T, it *Iterator) []map[string]any {
	t.Helper()
	var out []map[string]any
	for it.Next() {
		var frag map[string]any
		require.NoError(t, it.Decode(&frag))
		out = append(out, frag)
	}
	return out
}

func TestClient_Query_FixedParameters(t *testing.T) {
	var got url.Values
	var header http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		got = r.PostForm
		header = r.Header
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"query":{"pages":{}}}`))
	}))
	defer server.Close()

	params := url.Values{"prop": {"revisions"}, "titles": {"Main Page"}}
	frags := collect(t, newTestClient().Query(context.Background(), server.URL, params))

	assert.Len(t, frags, 1)
	assert.Equal(t, "query", got.Get("action"))
	assert.Equal(t, "json", got.Get("format"))
	assert.Equal(t, "1", got.Get("maxlag"))
	assert.Contains(t, got, "rawcontinue")
	assert.Equal(t, "", got.Get("rawcontinue"))
	assert.Equal(t, "revisions", got.Get("prop"))
	assert.Equal(t, "Main Page", got.Get("titles"))
	assert.Equal(t, "admin@example.org", header.Get("From"))
	assert.NotEmpty(t, header.Get("User-Agent"))

	// The caller's parameters are not modified.
	assert.NotContains(t, params, "action")
}

func TestClient_Query_FollowsContinuation(t *testing.T) {
	var requests []url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		requests = append(requests, r.PostForm)
		switch len(requests) {
		case 1:
			w.Write([]byte(`{"query":{"n":1},"query-continue":{"allpages":{"gapcontinue":"B"},"revisions":{"rvcontinue":12345}}}`))
		case 2:
			w.Write([]byte(`{"query":{"n":2},"query-continue":{"allpages":{"gapcontinue":"C"}}}`))
		default:
			w.Write([]byte(`{"query":{"n":3}}`))
		}
	}))
	defer server.Close()

	frags := collect(t, newTestClient().Query(context.Background(), server.URL, url.Values{"generator": {"allpages"}}))

	require.Len(t, frags, 3)
	for i, frag := range frags {
		assert.EqualValues(t, i+1, frag["n"])
	}
	require.Len(t, requests, 3)
	assert.NotContains(t, requests[0], "rvcontinue")
	assert.Equal(t, "12345", requests[1].Get("rvcontinue"))
	assert.NotContains(t, requests[1], "gapcontinue")
	assert.Equal(t, "C", requests[2].Get("gapcontinue"))
	assert.NotContains(t, requests[2], "rvcontinue")
}

func TestClient_Query_IsLazy(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"query":{},"query-continue":{"revisions":{"rvcontinue":"x"}}}`))
	}))
	defer server.Close()

	it := newTestClient().Query(context.Background(), server.URL, url.Values{})
	assert.Equal(t, 0, calls)

	require.True(t, it.Next())
	assert.Equal(t, 1, calls)
	require.True(t, it.Next())
	assert.Equal(t, 2, calls)
}

func TestClient_Query_SkipsResponsesWithoutQuery(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"query-continue":{"revisions":{"rvcontinue":"x"}}}`))
			return
		}
		w.Write([]byte(`{"query":{"n":2}}`))
	}))
	defer server.Close()

	frags := collect(t, newTestClient().Query(context.Background(), server.URL, url.Values{}))

	require.Len(t, frags, 1)
	assert.EqualValues(t, 2, frags[0]["n"])
	assert.Equal(t, 2, calls)
}

func TestClient_Query_RemoteErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind string
	}{
		{"error field", `{"error":{"code":"maxlag","info":"Waiting for db"}}`, "error"},
		{"warnings field", `{"warnings":{"main":{"*":"Unrecognized parameter"}},"query":{}}`, "warnings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			it := newTestClient().Query(context.Background(), server.URL, url.Values{})

			assert.False(t, it.Next())
			var remoteErr *RemoteError
			require.ErrorAs(t, it.Err(), &remoteErr)
			assert.Equal(t, tt.kind, remoteErr.Kind)
			assert.Nil(t, it.Fragment())
			assert.False(t, it.Next())
		})
	}
}

func TestClient_Query_TransportErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		it := newTestClient().Query(context.Background(), server.URL, url.Values{})

		assert.False(t, it.Next())
		var transportErr *TransportError
		require.ErrorAs(t, it.Err(), &transportErr)
		assert.Equal(t, http.StatusInternalServerError, transportErr.StatusCode)
		assert.Contains(t, it.Err().Error(), "API returned status 500")
	})

	t.Run("invalid json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("invalid json"))
		}))
		defer server.Close()

		it := newTestClient().Query(context.Background(), server.URL, url.Values{})

		assert.False(t, it.Next())
		var transportErr *TransportError
		require.ErrorAs(t, it.Err(), &transportErr)
		assert.Contains(t, it.Err().Error(), "failed to unmarshal response")
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		it := newTestClient().Query(context.Background(), server.URL, url.Values{})

		assert.False(t, it.Next())
		var transportErr *TransportError
		assert.ErrorAs(t, it.Err(), &transportErr)
	})
}

func TestContinuation_PrefersNonGeneratorKeys(t *testing.T) {
	block := map[string]map[string]json.RawMessage{
		"query":   {"gpageid": json.RawMessage(`100`)},
		"another": {"foo": json.RawMessage(`1`)},
	}

	cont := continuation(block)

	assert.Equal(t, url.Values{"foo": {"1"}}, cont)
}

func TestContinuation_FallsBackToAllKeys(t *testing.T) {
	block := map[string]map[string]json.RawMessage{
		"allpages":  {"gapcontinue": json.RawMessage(`"Next_Page"`)},
		"revisions": {"grvcontinue": json.RawMessage(`42`)},
	}

	cont := continuation(block)

	assert.Equal(t, url.Values{"gapcontinue": {"Next_Page"}, "grvcontinue": {"42"}}, cont)
}

func TestContinuation_Empty(t *testing.T) {
	assert.Empty(t, continuation(nil))
	assert.Empty(t, continuation(map[string]map[string]json.RawMessage{"revisions": {}}))
}
