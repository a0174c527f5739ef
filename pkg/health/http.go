package health

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HTTPChecker checks a capability service's status path
type HTTPChecker struct {
	URL string

	// Accept decides whether a response code means the service is up.
	// Defaults to 2xx and 3xx.
	Accept func(code int) bool

	Client *http.Client
}

// NewHTTPChecker creates a checker for endpoint+path
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:    url,
		Accept: func(code int) bool { return code >= 200 && code < 400 },
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}

// Type returns the check type
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// Check issues a GET and folds the status code into a Result
func (h *HTTPChecker) Check(ctx context.Context) Result {
	r := newResult()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return r.fail("failed to create request: %v", err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return r.fail("request failed: %v", err)
	}
	// Drain a little so the connection can be reused by the next check
	_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
	resp.Body.Close()

	if !h.Accept(resp.StatusCode) {
		return r.fail("%s answered HTTP %d", h.URL, resp.StatusCode)
	}
	return r.ok("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
