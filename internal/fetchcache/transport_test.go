package fetchcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// recordingSink captures progress reports for assertions.
type recordingSink struct {
	mu        sync.Mutex
	downloads []int
	errors    []string
}

func (s *recordingSink) ReportDownload(_ uint64, percent int) {
	s.mu.Lock()
	s.downloads = append(s.downloads, percent)
	s.mu.Unlock()
}

func (s *recordingSink) ReportError(_ uint64, msg string) {
	s.mu.Lock()
	s.errors = append(s.errors, msg)
	s.mu.Unlock()
}

func (s *recordingSink) Downloads() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.downloads))
	copy(out, s.downloads)
	return out
}

func (s *recordingSink) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.errors))
	copy(out, s.errors)
	return out
}

func matchAll(*url.URL) bool { return true }

func fetchAll(t *testing.T, c *http.Client, url string) []byte {
	t.Helper()
	resp, err := c.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

func TestNonMatchingRequestsPassThrough(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("plain"))
	}))
	defer srv.Close()

	tr := New(Options{Matches: func(*url.URL) bool { return false }})
	c := tr.Client()
	fetchAll(t, c, srv.URL+"/x")
	fetchAll(t, c, srv.URL+"/x")
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("pass-through requests must not be cached, got %d calls", calls)
	}
}

func TestSecondRequestServedFromCache(t *testing.T) {
	var calls int32
	payload := bytes.Repeat([]byte{0xAB}, 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(payload)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	tr := New(Options{Matches: matchAll, Sink: sink})
	c := tr.Client()
	first := fetchAll(t, c, srv.URL+"/model.onnx")
	second := fetchAll(t, c, srv.URL+"/model.onnx")
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one upstream request, got %d", calls)
	}
	if !bytes.Equal(first, payload) || !bytes.Equal(second, payload) {
		t.Fatalf("cached content differs from upstream")
	}
	// Cache hit reports 99, never 100.
	ds := sink.Downloads()
	if len(ds) == 0 || ds[len(ds)-1] != 99 {
		t.Fatalf("expected final download report 99, got %v", ds)
	}
	for _, d := range ds {
		if d > 99 {
			t.Fatalf("download progress exceeded 99: %v", ds)
		}
	}
}

func TestConcurrentFetchesCoalesce(t *testing.T) {
	var calls int32
	payload := bytes.Repeat([]byte{0x5C}, 1<<16)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Write(payload)
	}))
	defer srv.Close()

	tr := New(Options{Matches: matchAll})
	c := tr.Client()
	const n = 10
	results := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			resp, err := c.Get(srv.URL + "/weights.bin")
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			results[i], errs[i] = io.ReadAll(resp.Body)
		}(i)
	}
	close(start)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one network request, got %d", got)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("requester %d failed: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], payload) {
			t.Fatalf("requester %d received different bytes (len %d)", i, len(results[i]))
		}
	}
}

func TestDownloadProgressFromContentLength(t *testing.T) {
	payload := make([]byte, 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		f := w.(http.Flusher)
		w.Write(payload[:250])
		f.Flush()
		w.Write(payload[250:])
	}))
	defer srv.Close()

	sink := &recordingSink{}
	tr := New(Options{Matches: matchAll, Sink: sink})
	fetchAll(t, tr.Client(), srv.URL+"/config.json")

	ds := sink.Downloads()
	if len(ds) == 0 {
		t.Fatalf("expected progress reports during streaming")
	}
	last := ds[len(ds)-1]
	if last != 99 {
		t.Fatalf("final streamed progress must cap at 99, got %d (all: %v)", last, ds)
	}
	for i := 1; i < len(ds); i++ {
		if ds[i] < ds[i-1] {
			t.Fatalf("progress regressed: %v", ds)
		}
	}
}

func TestStreamFailureClearsInFlightAndPermitsRetry(t *testing.T) {
	var calls int32
	payload := []byte("complete artifact body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			// Announce more bytes than are sent so the client sees a
			// truncated stream.
			w.Header().Set("Content-Length", "9999")
			w.Write([]byte("partial"))
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	tr := New(Options{Matches: matchAll, Sink: sink})
	c := tr.Client()

	resp, err := c.Get(srv.URL + "/model.onnx")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := io.ReadAll(resp.Body); err == nil {
		t.Fatalf("expected read failure on truncated stream")
	}
	resp.Body.Close()
	if len(sink.Errors()) == 0 {
		t.Fatalf("expected an error progress report")
	}

	got := fetchAll(t, c, srv.URL+"/model.onnx")
	if !bytes.Equal(got, payload) {
		t.Fatalf("retry after failure returned wrong bytes: %q", got)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected two upstream requests, got %d", calls)
	}
}

func TestPrefixMatcher(t *testing.T) {
	m := PrefixMatcher("https://models.example.com/rmbg/")
	u, _ := url.Parse("https://models.example.com/rmbg/model.onnx")
	if !m(u) {
		t.Fatalf("expected match for artifact URL")
	}
	u2, _ := url.Parse("https://models.example.com/other/file")
	if m(u2) {
		t.Fatalf("unexpected match for unrelated URL")
	}
	if PrefixMatcher("")(u) {
		t.Fatalf("empty prefix must match nothing")
	}
}

func TestTransferErrorHelper(t *testing.T) {
	err := ErrTransfer("http://x/y", io.ErrUnexpectedEOF)
	if !IsTransfer(err) {
		t.Fatalf("IsTransfer failed for transfer error")
	}
	if IsTransfer(io.EOF) {
		t.Fatalf("IsTransfer matched unrelated error")
	}
	if !strings.Contains(err.Error(), "http://x/y") {
		t.Fatalf("error message missing URL: %v", err)
	}
	// Transfer failures reach callers wrapped (loader wrapping, client
	// *url.Error); the helper must see through the chain.
	if !IsTransfer(fmt.Errorf("load weights: %w", err)) {
		t.Fatalf("IsTransfer missed a wrapped transfer error")
	}
	if !IsTransfer(&url.Error{Op: "Get", URL: "http://x/y", Err: err}) {
		t.Fatalf("IsTransfer missed a client-wrapped transfer error")
	}
}
