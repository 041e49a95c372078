package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyderes/wiki-archive-service/internal/config"
	"github.com/cyderes/wiki-archive-service/internal/logger"
	"github.com/cyderes/wiki-archive-service/internal/mediawiki"
	"github.com/cyderes/wiki-archive-service/internal/storage"
)

// events is an ordered log shared by the fakes so tests can check how
// requests and writes interleave.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type fakeRevision struct {
	pageID    uint64
	parentID  uint64
	title     string
	user      string
	timestamp string
	comment   string
	content   string
}

// fakeWiki serves single-revision queries from revisions and frontier
// queries from latest, perFragment pages at a time.
type fakeWiki struct {
	mu          sync.Mutex
	revisions   map[uint64]fakeRevision
	latest      []uint64
	perFragment int
	requests    []url.Values
	events      *events
	// respond, when set, may replace the reply to a request.
	respond func(form url.Values) (any, bool)
}

func (f *fakeWiki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form := r.PostForm

	f.mu.Lock()
	f.requests = append(f.requests, form)
	respond := f.respond
	f.mu.Unlock()

	var body any
	if revids := form.Get("revids"); revids != "" {
		f.events.add("query revid %s", revids)
		body = f.revisionReply(form)
	} else {
		f.events.add("query frontier %s", form.Get("gapcontinue"))
		body = f.frontierReply(form)
	}
	if respond != nil {
		if replaced, ok := respond(form); ok {
			body = replaced
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (f *fakeWiki) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// revidsSince returns the revids parameter of every request after the
// first n.
func (f *fakeWiki) revidsSince(n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var revids []string
	for _, form := range f.requests[n:] {
		revids = append(revids, form.Get("revids"))
	}
	return revids
}

func (f *fakeWiki) lastRequest() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func pageURL(title string) string {
	return "https://wiki.example.org/wiki/" + strings.ReplaceAll(title, " ", "_")
}

func (f *fakeWiki) revisionReply(form url.Values) any {
	revID, _ := strconv.ParseUint(form.Get("revids"), 10, 64)
	rev, ok := f.revisions[revID]
	if !ok {
		return map[string]any{"query": map[string]any{
			"badrevids": map[string]any{form.Get("revids"): map[string]any{"revid": revID}},
		}}
	}

	entry := map[string]any{
		"revid":     revID,
		"parentid":  rev.parentID,
		"user":      rev.user,
		"timestamp": rev.timestamp,
		"comment":   rev.comment,
	}
	if strings.Contains(form.Get("rvprop"), "content") {
		if form.Get("rvslots") != "" {
			entry["slots"] = map[string]any{
				"main": map[string]any{"contentmodel": "wikitext", "*": rev.content},
			}
		} else {
			entry["*"] = rev.content
		}
	}

	return map[string]any{"query": map[string]any{
		"pages": map[string]any{
			strconv.FormatUint(rev.pageID, 10): map[string]any{
				"pageid":    rev.pageID,
				"ns":        0,
				"title":     rev.title,
				"fullurl":   pageURL(rev.title),
				"revisions": []any{entry},
			},
		},
	}}
}

func (f *fakeWiki) frontierReply(form url.Values) any {
	offset, _ := strconv.Atoi(form.Get("gapcontinue"))
	n := f.perFragment
	if n == 0 {
		n = len(f.latest)
	}
	end := offset + n
	if end > len(f.latest) {
		end = len(f.latest)
	}

	pages := map[string]any{}
	for _, revID := range f.latest[offset:end] {
		rev := f.revisions[revID]
		pages[strconv.FormatUint(rev.pageID, 10)] = map[string]any{
			"pageid":    rev.pageID,
			"ns":        0,
			"title":     rev.title,
			"revisions": []any{map[string]any{"revid": revID, "parentid": rev.parentID}},
		}
	}

	reply := map[string]any{"query": map[string]any{"pages": pages}}
	if end < len(f.latest) {
		reply["query-continue"] = map[string]any{
			"allpages": map[string]any{"gapcontinue": strconv.Itoa(end)},
		}
	}
	return reply
}

// memoryObjects is an ObjectStore keeping objects in a map.
type memoryObjects struct {
	mu       sync.Mutex
	objects  map[string][]byte
	heads    int
	writes   []string
	failPut  map[string]error
	failHead map[string]error
	events   *events
}

func newMemoryObjects(ev *events) *memoryObjects {
	return &memoryObjects{
		objects:  make(map[string][]byte),
		failPut:  make(map[string]error),
		failHead: make(map[string]error),
		events:   ev,
	}
}

func (m *memoryObjects) Exists(_ context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads++
	if err, ok := m.failHead[key]; ok {
		return false, &storage.Error{Op: "head", Bucket: bucket, Key: key, Err: err}
	}
	_, ok := m.objects[bucket+"/"+key]
	return ok, nil
}

func (m *memoryObjects) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, &storage.Error{Op: "get", Bucket: bucket, Key: key, Err: fmt.Errorf("no such key")}
	}
	return body, nil
}

func (m *memoryObjects) Put(_ context.Context, bucket, key string, body []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failPut[key]; ok {
		return &storage.Error{Op: "put", Bucket: bucket, Key: key, Err: err}
	}
	m.objects[bucket+"/"+key] = append([]byte(nil), body...)
	m.writes = append(m.writes, key)
	m.events.add("put %s", key)
	return nil
}

func (m *memoryObjects) writeLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

func (m *memoryObjects) headCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heads
}

func (m *memoryObjects) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[testBucket+"/"+key]
	return ok
}

const (
	testBucket = "archive"
	testPrefix = "example/"
)

type harness struct {
	wiki       *fakeWiki
	objects    *memoryObjects
	events     *events
	cfg        *config.Wiki
	archiver   *Archiver
	enumerator *Enumerator
}

// newHarness wires a real query client and revision store to the fakes.
func newHarness(t *testing.T, revisions map[uint64]fakeRevision) *harness {
	t.Helper()
	ev := &events{}
	wiki := &fakeWiki{revisions: revisions, events: ev}
	server := httptest.NewServer(wiki)
	t.Cleanup(server.Close)

	objects := newMemoryObjects(ev)
	client := mediawiki.NewClient("admin@example.org", 10*time.Second, logger.NewNop())
	archiver := NewArchiver(client, NewRevisionStore(objects), logger.NewNop())

	return &harness{
		wiki:    wiki,
		objects: objects,
		events:  ev,
		cfg: &config.Wiki{
			API:      server.URL,
			S3Bucket: testBucket,
			S3Prefix: testPrefix,
			Sources:  []map[string]string{{"generator": "allpages"}},
		},
		archiver:   archiver,
		enumerator: NewEnumerator(client, archiver, logger.NewNop()),
	}
}

// chain returns revisions 1..n of page 7, each the parent of the next.
func chain(n uint64) map[uint64]fakeRevision {
	revs := make(map[uint64]fakeRevision)
	for i := uint64(1); i <= n; i++ {
		revs[i] = fakeRevision{
			pageID:    7,
			parentID:  i - 1,
			title:     "Main Page",
			user:      fmt.Sprintf("editor%d", i),
			timestamp: fmt.Sprintf("2024-01-0%dT12:00:00Z", i),
			comment:   fmt.Sprintf("edit %d", i),
			content:   fmt.Sprintf("'''Main Page''' version %d", i),
		}
	}
	return revs
}
