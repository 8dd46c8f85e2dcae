package main_test

// SPDX-License-Identifier: GPL-3.0-only

import (
	"bytes"
	main "coursegrab"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

// TestResponse represents a predefined response for a specific URI in the
// TestClient mock.
type TestResponse struct {
	data   []byte
	header http.Header
	error  error
}

// TestClient is a mock Client for use in tests.  It returns predefined
// responses for specific URIs and ErrHTTPNotFound for everything else.  It
// records every form POST.
type TestClient struct {
	uris      map[string]TestResponse
	posts     map[string]TestResponse
	redirects map[string]string
	Posts     []url.Values
}

// NewTestClient creates a new TestClient instance with an empty set of
// predefined responses.
func NewTestClient() *TestClient {
	return &TestClient{
		uris:      make(map[string]TestResponse),
		posts:     make(map[string]TestResponse),
		redirects: make(map[string]string),
	}
}

// SetResponse sets a predefined GET response for the specified URI.
//
// Parameters:
//   - uri: The URI for which to set the response
//   - response: The byte slice to return when the URI is requested
//   - err: The error to return when the URI is requested (nil for no error)
func (t *TestClient) SetResponse(uri string, response []byte, err error) {
	t.uris[uri] = TestResponse{
		data:  response,
		error: err,
	}
}

// SetFile sets a predefined GET response with a Content-Type header.
func (t *TestClient) SetFile(uri string, contentType string, response []byte) {
	t.uris[uri] = TestResponse{
		data:   response,
		header: http.Header{"Content-Type": {contentType}},
	}
}

// SetRedirect makes GET requests for uri end up at target.
func (t *TestClient) SetRedirect(uri string, target string) {
	t.redirects[uri] = target
}

// SetPostResponse sets a predefined response for a form POST to uri.
func (t *TestClient) SetPostResponse(uri string, response []byte, err error) {
	t.posts[uri] = TestResponse{
		data:  response,
		error: err,
	}
}

// Get simulates an HTTP GET request to the specified URI.
func (t *TestClient) Get(uri string) ([]byte, error) {
	if target, ok := t.redirects[uri]; ok {
		uri = target
	}
	response, ok := t.uris[uri]
	if !ok {
		return nil, fmt.Errorf("resource not found: %w", main.ErrHTTPNotFound)
	}
	return response.data, response.error
}

// Open simulates a streaming GET.  The response URL is the redirect target,
// if any.
func (t *TestClient) Open(uri string) (*main.Response, error) {
	if target, ok := t.redirects[uri]; ok {
		uri = target
	}
	data, err := t.Get(uri)
	if err != nil {
		return nil, err
	}
	header := t.uris[uri].header
	if header == nil {
		header = http.Header{}
	}
	return &main.Response{
		URL:    uri,
		Header: header,
		Body:   io.NopCloser(bytes.NewReader(data)),
	}, nil
}

// PostForm records the form and returns the predefined POST response.
func (t *TestClient) PostForm(uri string, form url.Values) ([]byte, error) {
	t.Posts = append(t.Posts, form)
	response, ok := t.posts[uri]
	if !ok {
		return nil, fmt.Errorf("resource not found: %w", main.ErrHTTPNotFound)
	}
	return response.data, response.error
}

// TestPortal is an httptest server standing in for a course portal.  Routes
// are matched on the full request URI, query included, because portal pages
// differ only by their ?id= parameter.
type TestPortal struct {
	*httptest.Server
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	hits   map[string]int
}

// NewTestPortal starts a TestPortal that is shut down with the test.
func NewTestPortal(t *testing.T) *TestPortal {
	t.Helper()
	p := &TestPortal{
		routes: make(map[string]http.HandlerFunc),
		hits:   make(map[string]int),
	}
	p.Server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.Close)
	return p
}

func (p *TestPortal) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.RequestURI()
	p.mu.Lock()
	p.hits[key]++
	handler, ok := p.routes[key]
	p.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	handler(w, r)
}

// Handle registers handler for method and request URI.
func (p *TestPortal) Handle(method string, requestURI string, handler http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[method+" "+requestURI] = handler
}

// Page serves an HTML page at requestURI.
func (p *TestPortal) Page(requestURI string, body string) {
	p.Handle(http.MethodGet, requestURI, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, body)
	})
}

// File serves a file at requestURI.  An empty disposition sends no
// Content-Disposition header.
func (p *TestPortal) File(requestURI string, contentType string, disposition string, body string) {
	p.Handle(http.MethodGet, requestURI, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		if disposition != "" {
			w.Header().Set("Content-Disposition", disposition)
		}
		_, _ = io.WriteString(w, body)
	})
}

// Hits returns how many times method and requestURI were requested.
func (p *TestPortal) Hits(method string, requestURI string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[method+" "+requestURI]
}

// NewPortalClient returns an HTTPClient suitable for talking to a TestPortal:
// no waiting between retries.
func NewPortalClient(t *testing.T) *main.HTTPClient {
	t.Helper()
	client := main.NewHTTPClient(NewTestLogger(t))
	client.SetRetryPolicy(2, 0)
	return client
}

// TestLogForwarder is an io.Writer that forwards log output to testing.T.Logf.
// This is used to capture application log output and report it in the test
// output.
type TestLogForwarder struct {
	t *testing.T
}

// Write implements the io.Writer interface for TestLogForwarder.  It forwards
// the log output to the testing.T instance.
func (t TestLogForwarder) Write(p []byte) (int, error) {
	t.t.Helper()

	// Get the caller info 5 levels up the stack to find the original log call.
	_, file, line, ok := runtime.Caller(5)
	if !ok {
		// This should never happen because we're always in test with a stack at
		// least this deep.
		panic("unable to get caller info for test logger")
	}

	filename := filepath.Base(file)

	// t.Logf tries to prepend the file and line number of the caller, but
	// because of the way we're wrapping it, it will always show "helper.go".
	// We'll prepend the correct file and line number ourselves.
	t.t.Logf("%s:%d: %s", filename, line, p)

	return len(p), nil
}

// NewTestLogger creates a new slog.Logger that writes to the provided
// testing.T instance.  This allows capturing log output in test logs.
func NewTestLogger(t *testing.T) *slog.Logger {
	t.Helper()
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	handler := slog.NewTextHandler(TestLogForwarder{t: t}, opts)
	return slog.New(handler)
}

// Course page markup in the shape Moodle produces.
const (
	testLoginPage = `<html><body><form action="/login/index.php" method="post">
<input type="hidden" name="logintoken" value="tok-123">
<input name="username"><input name="password" type="password">
</form></body></html>`

	testLoggedInPage = `<html><body><a href="/login/logout.php?sesskey=abc">Log out</a></body></html>`
)

// coursePage renders a course page with the given title and resource links.
// Each link is an href and a label; an empty label renders an anchor with no
// instancename span.
func coursePage(title string, links ...[2]string) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, `<html><body><div class="page-header-headings"><h1>%s</h1></div><ul>`, title)
	for _, link := range links {
		if link[1] == "" {
			fmt.Fprintf(&b, `<li><a href="%s">no label</a></li>`, link[0])
			continue
		}
		fmt.Fprintf(&b,
			`<li><a href="%s"><span class="instancename">%s<span class="accesshide"> File</span></span></a></li>`,
			link[0], link[1])
	}
	b.WriteString(`</ul><a href="/mod/forum/view.php?id=1">Forum</a></body></html>`)
	return b.String()
}
