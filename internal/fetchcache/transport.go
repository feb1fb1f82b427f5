package fetchcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// ProgressSink receives download progress for the active session. The
// broadcaster in internal/progress satisfies it.
type ProgressSink interface {
	ReportDownload(sessionID uint64, percent int)
	ReportError(sessionID uint64, msg string)
}

// SessionFunc returns the currently active session id. Events reported for a
// superseded session are dropped downstream by the broadcaster.
type SessionFunc func() uint64

// MatchFunc decides whether a request URL is a model artifact this transport
// should cache. Non-matching requests pass through unmodified.
type MatchFunc func(*url.URL) bool

// PrefixMatcher matches URLs sharing the given prefix.
func PrefixMatcher(prefix string) MatchFunc {
	return func(u *url.URL) bool {
		return prefix != "" && strings.HasPrefix(u.String(), prefix)
	}
}

// Options configures a Transport. Base defaults to http.DefaultTransport;
// Session defaults to a constant zero session.
type Options struct {
	Base    http.RoundTripper
	Matches MatchFunc
	Sink    ProgressSink
	Session SessionFunc
}

// Transport is a decorator http.RoundTripper that caches model artifacts for
// the process lifetime, coalesces concurrent fetches for one URL into a
// single network request, and reports byte-accurate download progress.
//
// The cache is append-only: entries are created once and never evicted.
// Insertion races are prevented by the in-flight map, not by locking readers.
type Transport struct {
	base    http.RoundTripper
	matches MatchFunc
	sink    ProgressSink
	session SessionFunc

	mu       sync.Mutex
	cache    map[string][]byte
	inflight map[string]*flight
}

// flight is one outstanding fetch. buf and err are written only by the
// leader before done is closed; followers read them only after.
type flight struct {
	done chan struct{}
	buf  []byte
	err  error
}

func New(opts Options) *Transport {
	base := opts.Base
	if base == nil {
		base = http.DefaultTransport
	}
	sess := opts.Session
	if sess == nil {
		sess = func() uint64 { return 0 }
	}
	matches := opts.Matches
	if matches == nil {
		matches = func(*url.URL) bool { return false }
	}
	return &Transport{
		base:     base,
		matches:  matches,
		sink:     opts.Sink,
		session:  sess,
		cache:    make(map[string][]byte),
		inflight: make(map[string]*flight),
	}
}

var (
	sharedMu sync.Mutex
	shared   *Transport
)

// Shared returns the process-wide transport, constructing it on first call.
// Later calls ignore opts; the guard makes installation idempotent.
func Shared(opts Options) *Transport {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = New(opts)
	}
	return shared
}

// Client returns an http.Client routed through the transport.
func (t *Transport) Client() *http.Client { return &http.Client{Transport: t} }

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || !t.matches(req.URL) {
		return t.base.RoundTrip(req)
	}
	key := req.URL.String()

	t.mu.Lock()
	if buf, ok := t.cache[key]; ok {
		t.mu.Unlock()
		cacheHits.Inc()
		t.reportDownload(99)
		return synthesize(req, buf), nil
	}
	if fl, ok := t.inflight[key]; ok {
		t.mu.Unlock()
		coalesced.Inc()
		return followerResponse(req, fl), nil
	}
	fl := &flight{done: make(chan struct{})}
	t.inflight[key] = fl
	t.mu.Unlock()
	cacheMisses.Inc()

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		werr := ErrTransfer(key, err)
		t.fail(key, fl, werr)
		return nil, werr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Leader sees the upstream response unchanged; followers get an error.
		t.fail(key, fl, ErrTransfer(key, fmt.Errorf("unexpected status %d", resp.StatusCode)))
		return resp, nil
	}
	resp.Body = &teeBody{
		t:     t,
		key:   key,
		fl:    fl,
		rc:    resp.Body,
		total: resp.ContentLength,
	}
	return resp, nil
}

// complete stores the immutable buffer, clears the in-flight entry and wakes
// concurrent waiters.
func (t *Transport) complete(key string, fl *flight, buf []byte) {
	t.mu.Lock()
	t.cache[key] = buf
	delete(t.inflight, key)
	t.mu.Unlock()
	fl.buf = buf
	close(fl.done)
	bytesFetched.Add(float64(len(buf)))
}

// fail clears the in-flight entry (permitting retry) and propagates the
// failure to waiters and progress subscribers.
func (t *Transport) fail(key string, fl *flight, err error) {
	t.mu.Lock()
	delete(t.inflight, key)
	t.mu.Unlock()
	fl.err = err
	close(fl.done)
	if t.sink != nil {
		t.sink.ReportError(t.session(), err.Error())
	}
}

func (t *Transport) reportDownload(percent int) {
	if t.sink != nil {
		t.sink.ReportDownload(t.session(), percent)
	}
}

// teeBody forwards every chunk unmodified to the caller while accumulating
// the full buffer for the cache, reporting progress as bytes arrive.
type teeBody struct {
	t        *Transport
	key      string
	fl       *flight
	rc       io.ReadCloser
	total    int64
	acc      []byte
	received int64
	settled  bool
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.acc = append(b.acc, p[:n]...)
		b.received += int64(n)
		if b.total > 0 {
			pct := int(b.received * 100 / b.total)
			if pct > 99 {
				pct = 99 // 100 is reserved for the ready phase
			}
			b.t.reportDownload(pct)
		}
	}
	if err == io.EOF && !b.settled {
		b.settled = true
		b.t.complete(b.key, b.fl, b.acc)
	} else if err != nil && err != io.EOF && !b.settled {
		b.settled = true
		werr := ErrTransfer(b.key, err)
		b.t.fail(b.key, b.fl, werr)
		return n, werr
	}
	return n, err
}

func (b *teeBody) Close() error {
	err := b.rc.Close()
	if !b.settled {
		// Closed before EOF: waiters must not hang on a buffer that will
		// never arrive.
		b.settled = true
		b.t.fail(b.key, b.fl, ErrTransfer(b.key, io.ErrUnexpectedEOF))
	}
	return err
}

// synthesize builds an in-memory 200 response from a cached buffer. No
// network I/O occurs.
func synthesize(req *http.Request, buf []byte) *http.Response {
	h := make(http.Header)
	h.Set("Content-Length", strconv.Itoa(len(buf)))
	h.Set("Content-Type", "application/octet-stream")
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(buf)),
		ContentLength: int64(len(buf)),
		Request:       req,
	}
}

// followerResponse returns immediately; its body blocks until the shared
// in-flight fetch resolves, then streams from the shared buffer.
func followerResponse(req *http.Request, fl *flight) *http.Response {
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          &waitBody{fl: fl},
		ContentLength: -1,
		Request:       req,
	}
}

type waitBody struct {
	fl *flight
	r  *bytes.Reader
}

func (w *waitBody) Read(p []byte) (int, error) {
	if w.r == nil {
		<-w.fl.done
		if w.fl.err != nil {
			return 0, w.fl.err
		}
		w.r = bytes.NewReader(w.fl.buf)
	}
	return w.r.Read(p)
}

func (w *waitBody) Close() error { return nil }
