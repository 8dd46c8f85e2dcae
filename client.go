package main

// SPDX-License-Identifier: GPL-3.0-only

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	// HTTP client retry constants.  One retry for transient failures only.
	defaultRetryCount    = 2
	defaultRetryInterval = 2 * time.Second

	defaultHTTPTimeout = 90 * time.Second
	defaultUserAgent   = "Mozilla/5.0 (compatible; coursegrab/1.0)"

	// Number of tab-separated fields in a Netscape/Mozilla cookies.txt file.
	cookiesTxtFieldCount = 7
)

var (
	ErrHTTPStatusNotOK = errors.New("HTTP request failed with non-200 status")
	ErrHTTPNotFound    = errors.New("HTTP 404 Not Found")
	ErrHTTPTransient   = errors.New("transient HTTP failure")
	ErrExpiredCookie   = errors.New("cookie has expired, update your cookies.txt file")
	ErrInvalidCookie   = errors.New("invalid cookie format")
)

// Client is an abstract HTTP client.  In prod, this wraps http.Client.  In
// test, it is usually an HTTPClient pointed at an httptest portal, or a
// TestClient mock.
type Client interface {
	Get(uri string) ([]byte, error)
	Open(uri string) (*Response, error)
	PostForm(uri string, form url.Values) ([]byte, error)
}

// Response is a streaming GET response.  The caller owns Body and must close
// it.
type Response struct {
	URL    string
	Header http.Header
	Body   io.ReadCloser
}

// HTTPClient is a concrete implementation of the Client interface.  It holds
// the session cookie jar, so every request made after a successful login is
// authenticated.
type HTTPClient struct {
	logger        *slog.Logger
	client        *http.Client
	tryCount      int
	retryInterval time.Duration
	timeout       time.Duration
	userAgent     string
	limiter       *rate.Limiter
}

// NewHTTPClient creates a new HTTPClient instance with default settings for
// timeouts and retries.  The defaults are appropriate for prod use, and are
// overridden for integration tests.
//
// Parameters:
//   - logger: Logger instance
//
// Returns:
//   - *HTTPClient: A new HTTPClient instance ready for use
func NewHTTPClient(logger *slog.Logger) *HTTPClient {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New never returns an error as of Go 1.23.  Fatal because
		// we have no idea what the future error conditions are.
		fatalInvariant(fmt.Errorf("failed to create cookie jar: %w", err))
	}

	return &HTTPClient{
		logger:        logger,
		client:        &http.Client{Jar: jar},
		tryCount:      defaultRetryCount,
		retryInterval: defaultRetryInterval,
		timeout:       defaultHTTPTimeout,
		userAgent:     defaultUserAgent,
		limiter:       rate.NewLimiter(rate.Inf, 1),
	}
}

// SetRetryPolicy configures the retry behavior for transient failures.  This
// method is intended for integration testing where we don't actually want to
// wait between retries.
//
// Parameters:
//   - count: Total number of attempts, including the first
//   - interval: Time to wait between attempts
func (h *HTTPClient) SetRetryPolicy(count int, interval time.Duration) {
	h.tryCount = max(count, 1)
	h.retryInterval = interval
}

// SetTimeout sets the deadline applied to each request.  A streamed body must
// be fully read before the deadline passes.
func (h *HTTPClient) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		h.timeout = timeout
	}
}

// SetUserAgent overrides the User-Agent header sent with every request.
func (h *HTTPClient) SetUserAgent(userAgent string) {
	if userAgent != "" {
		h.userAgent = userAgent
	}
}

// SetRateLimit throttles outgoing requests to perSecond.  Zero or negative
// disables throttling.
func (h *HTTPClient) SetRateLimit(perSecond float64) {
	if perSecond <= 0 {
		h.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	h.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Cookies returns the cookies the jar would send to uri.
func (h *HTTPClient) Cookies(uri string) []*http.Cookie {
	u, err := url.Parse(uri)
	if err != nil {
		return nil
	}
	return h.client.Jar.Cookies(u)
}

// LoadCookies loads cookies from a Netscape/Mozilla format cookies.txt file and
// adds them to the client's cookie jar.  This lets a user reuse a browser
// session instead of logging in.
//
// The method parses the "standard" cookies.txt format with tab-separated
// fields: domain, flag, path, secure, expiration, name, value
//
// Parameters:
//   - filename: Path to the cookies.txt file to load
//
// Returns:
//   - error: Any error encountered while reading or parsing the cookies file
func (h *HTTPClient) LoadCookies(filename string) error {
	//#nosec G304: filename is intentionally from user input
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open cookies file: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		err := h.parseCookieLine(line)
		if err != nil {
			return fmt.Errorf("failed to load cookie: %w", err)
		}
	}

	err = scanner.Err()
	if err != nil {
		return fmt.Errorf("error reading cookies file: %w", err)
	}

	h.logger.Info("Loaded cookies from file", "file", filename)
	return nil
}

// Get performs an HTTP GET request and returns the whole body.
//
// Parameters:
//   - uri: The URL to fetch
//
// Returns:
//   - []byte: The response body content
//   - error: The final error if all attempts fail, nil on success
func (h *HTTPClient) Get(uri string) ([]byte, error) {
	h.logger.Debug("HTTPClient GET", "uri", uri)
	response, err := h.do(http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	return readAndClose(response.Body)
}

// Open performs a streaming HTTP GET request.  The headers are available as
// soon as it returns; the body is read on demand.
//
// Parameters:
//   - uri: The URL to fetch
//
// Returns:
//   - *Response: The response, whose Body the caller must close
//   - error: The final error if all attempts fail, nil on success
func (h *HTTPClient) Open(uri string) (*Response, error) {
	h.logger.Debug("HTTPClient OPEN", "uri", uri)
	response, err := h.do(http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	return &Response{
		URL:    response.Request.URL.String(),
		Header: response.Header,
		Body:   response.Body,
	}, nil
}

// PostForm submits form as application/x-www-form-urlencoded and returns the
// body of the final response after redirects.  A POST is never retried: login
// forms carry a single-use token.
func (h *HTTPClient) PostForm(uri string, form url.Values) ([]byte, error) {
	h.logger.Debug("HTTPClient POST", "uri", uri)
	response, err := h.doOnce(http.MethodPost, uri, form)
	if err != nil {
		return nil, err
	}
	return readAndClose(response.Body)
}

// do runs a request, retrying transient failures up to the configured number
// of attempts.
func (h *HTTPClient) do(method string, uri string, form url.Values) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < h.tryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(h.retryInterval)
		}
		response, err := h.doOnce(method, uri, form)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !errors.Is(err, ErrHTTPTransient) {
			break
		}
		h.logger.Info("HTTPClient request failed attempt",
			"method", method, "uri", uri, "attempt", attempt, "error", err)
	}
	h.logger.Debug("HTTPClient request failed", "method", method, "uri", uri, "error", lastErr)
	return nil, lastErr
}

// doOnce performs a single request without retries.  On success the context
// stays alive until the caller closes the body.
func (h *HTTPClient) doOnce(method string, uri string, form url.Values) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)

	err := h.limiter.Wait(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("throttle wait failed: %w", err)
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	response, err := h.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s failed: %w", ErrHTTPTransient, method, err)
	}

	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()
		cancel()
		return nil, statusError(response)
	}

	response.Body = cancelOnClose{ReadCloser: response.Body, cancel: cancel}
	return response, nil
}

// statusError maps a non-200 response to an error.  429 and 5xx are
// transient; everything else is final.
func statusError(response *http.Response) error {
	switch {
	case response.StatusCode == http.StatusNotFound:
		return fmt.Errorf("resource not found: %w", ErrHTTPNotFound)
	case response.StatusCode == http.StatusTooManyRequests, response.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w: %s", ErrHTTPStatusNotOK, ErrHTTPTransient, response.Status)
	default:
		return fmt.Errorf("%w: %s", ErrHTTPStatusNotOK, response.Status)
	}
}

// cancelOnClose releases the request context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func readAndClose(body io.ReadCloser) ([]byte, error) {
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

// parseCookieLine parses a single line from a cookies.txt file and adds the
// cookie to the client's cookie jar.
//
// Parameters:
//   - line: A single line from a cookies.txt file
func (h *HTTPClient) parseCookieLine(line string) error {
	// curl marks HttpOnly cookies with this prefix.  They are still cookies.
	line = strings.TrimPrefix(line, "#HttpOnly_")

	// Skip comments and empty lines
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	// Parse cookie line format: domain	flag	path	secure	expiration	name	value
	parts := strings.Split(line, "\t")
	if len(parts) != cookiesTxtFieldCount {
		return fmt.Errorf("%w: %v", ErrInvalidCookie, line)
	}

	domain := parts[0]
	path := parts[2]
	secure := strings.ToUpper(parts[3]) == "TRUE"
	expiration := parts[4]
	name := parts[5]
	value := parts[6]

	// Portal sessions are usually browser-session cookies, exported with a
	// zero expiration.  Those are accepted; anything already expired is not,
	// because harvesting logged out silently finds nothing.
	expireTime, err := strconv.ParseInt(expiration, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiration time for cookie %s: %w", name, err)
	}
	if expireTime != 0 && time.Unix(expireTime, 0).Before(time.Now()) {
		return fmt.Errorf("%w: %s", ErrExpiredCookie, name)
	}

	scheme := "http"
	if secure {
		scheme = "https"
	}

	cookieURL, err := url.Parse(
		fmt.Sprintf("%s://%s%s", scheme, strings.TrimPrefix(domain, "."), path))
	if err != nil {
		return fmt.Errorf("invalid URL for cookie %s: %w", name, err)
	}

	cookie := &http.Cookie{
		Name:   name,
		Value:  value,
		Domain: domain,
		Path:   path,
		Secure: secure,
	}

	h.client.Jar.SetCookies(cookieURL, []*http.Cookie{cookie})
	return nil
}
