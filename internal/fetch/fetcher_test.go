package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

type memoryTokens struct {
	mu     sync.Mutex
	tokens map[string]string
	sets   int
}

func newMemoryTokens() *memoryTokens {
	return &memoryTokens{tokens: make(map[string]string)}
}

func (m *memoryTokens) FetchToken(_ context.Context, url string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.tokens[url]
	return v, ok, nil
}

func (m *memoryTokens) SetFetchToken(_ context.Context, url, etag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[url] = etag
	m.sets++
	return nil
}

type dumpServer struct {
	etag   atomic.Value
	body   []byte
	status atomic.Int32
	gets   atomic.Int32
}

func newDumpServer(t *testing.T, etag string, body []byte) (*dumpServer, *httptest.Server) {
	t.Helper()
	d := &dumpServer{body: body}
	d.etag.Store(etag)
	d.status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status := int(d.status.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("ETag", d.etag.Load().(string))
		if r.Method == http.MethodGet {
			d.gets.Add(1)
			_, _ = w.Write(d.body)
		}
	}))
	t.Cleanup(srv.Close)
	return d, srv
}

func TestFetchDownloadsThenSkipsUnchanged(t *testing.T) {
	t.Parallel()

	dump, srv := newDumpServer(t, `"v1"`, []byte("<dblp></dblp>"))
	tokens := newMemoryTokens()
	f := NewFetcher(srv.Client(), tokens, 4, zerolog.Nop())
	url := srv.URL + "/dblp.xml.gz"

	var first bytes.Buffer
	res, err := f.Fetch(context.Background(), url, &first)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.Changed || res.Token != `"v1"` || first.String() != "<dblp></dblp>" {
		t.Fatalf("first fetch = %+v body %q", res, first.String())
	}
	if tokens.tokens[url] != `"v1"` {
		t.Fatalf("token not stored: %v", tokens.tokens)
	}

	var second bytes.Buffer
	res, err = f.Fetch(context.Background(), url, &second)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Changed || second.Len() != 0 {
		t.Fatalf("unchanged fetch transferred data: %+v %q", res, second.String())
	}
	if got := dump.gets.Load(); got != 1 {
		t.Fatalf("GET count = %d, want 1", got)
	}

	dump.etag.Store(`"v2"`)
	var third bytes.Buffer
	res, err = f.Fetch(context.Background(), url, &third)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.Changed || res.Previous != `"v1"` || tokens.tokens[url] != `"v2"` {
		t.Fatalf("changed fetch = %+v tokens %v", res, tokens.tokens)
	}
}

func TestFetchDeferredStoresOnlyOnCommit(t *testing.T) {
	t.Parallel()

	_, srv := newDumpServer(t, `"v1"`, []byte("data"))
	tokens := newMemoryTokens()
	f := NewFetcher(srv.Client(), tokens, 0, zerolog.Nop())
	url := srv.URL + "/dblp.xml.gz"

	var sink bytes.Buffer
	res, err := f.FetchDeferred(context.Background(), url, &sink)
	if err != nil {
		t.Fatalf("FetchDeferred() error = %v", err)
	}
	if _, ok := tokens.tokens[url]; ok {
		t.Fatalf("token stored before commit")
	}
	if err := res.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := res.Commit(context.Background()); err != nil {
		t.Fatalf("second Commit() error = %v", err)
	}
	if tokens.tokens[url] != `"v1"` || tokens.sets != 1 {
		t.Fatalf("tokens = %v sets = %d", tokens.tokens, tokens.sets)
	}
}

func TestFetchFailureIsTransientAndKeepsToken(t *testing.T) {
	t.Parallel()

	dump, srv := newDumpServer(t, `"v2"`, []byte("data"))
	dump.status.Store(http.StatusBadGateway)
	tokens := newMemoryTokens()
	url := srv.URL + "/dblp.xml.gz"
	tokens.tokens[url] = `"v1"`

	f := NewFetcher(srv.Client(), tokens, 0, zerolog.Nop())
	_, err := f.Fetch(context.Background(), url, &bytes.Buffer{})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if tokens.tokens[url] != `"v1"` || tokens.sets != 0 {
		t.Fatalf("token changed after failure: %v", tokens.tokens)
	}
}

func TestFetchNetworkFailureIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/gone"
	srv.Close()

	f := NewFetcher(nil, newMemoryTokens(), 0, zerolog.Nop())
	if _, err := f.Probe(context.Background(), url); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestFetchWithoutETagAlwaysDownloads(t *testing.T) {
	t.Parallel()

	dump, srv := newDumpServer(t, "", []byte("data"))
	tokens := newMemoryTokens()
	f := NewFetcher(srv.Client(), tokens, 0, zerolog.Nop())
	url := srv.URL + "/dblp.dtd"

	for i := 0; i < 2; i++ {
		res, err := f.Fetch(context.Background(), url, &bytes.Buffer{})
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if !res.Changed {
			t.Fatalf("fetch %d reported unchanged", i)
		}
	}
	if dump.gets.Load() != 2 || tokens.sets != 0 {
		t.Fatalf("gets = %d sets = %d", dump.gets.Load(), tokens.sets)
	}
}

func TestRefreshIgnoresStoredToken(t *testing.T) {
	t.Parallel()

	dump, srv := newDumpServer(t, `"v1"`, []byte("<!ELEMENT dblp ANY>"))
	tokens := newMemoryTokens()
	tokens.tokens[srv.URL] = `"v1"`
	f := NewFetcher(srv.Client(), tokens, 4, zerolog.Nop())

	var buf bytes.Buffer
	res, err := f.Refresh(context.Background(), srv.URL, &buf)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !res.Changed || buf.String() != "<!ELEMENT dblp ANY>" {
		t.Fatalf("Refresh() = %+v, body %q", res, buf.String())
	}
	if got := dump.gets.Load(); got != 1 {
		t.Fatalf("GET count = %d, want 1", got)
	}
}
