package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/trainyard/pkg/types"
	"golang.org/x/time/rate"
)

// ErrNoJobID is returned when a submit succeeds at the HTTP level but the
// service did not hand back a job id
var ErrNoJobID = errors.New("service returned no job id")

// StatusError is a non-2xx response from a remote service
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned HTTP %d: %s", e.Code, e.Body)
}

// PollResult is one observation of a remote job
type PollResult struct {
	Terminal bool
	Success  bool
	// Progress is 0-100, or -1 when the service did not report it
	Progress int
	Detail   string
	Outputs  map[string]any
}

// Client submits, polls and cancels remote jobs
type Client interface {
	Submit(ctx context.Context, endpoint string, payload any) (string, error)
	Poll(ctx context.Context, endpoint, jobID string) (*PollResult, error)
	// Cancel reports whether the service acknowledged the cancellation
	Cancel(ctx context.Context, endpoint, jobID string) (bool, error)
}

// LossReporter is implemented by clients that expose a training loss curve
type LossReporter interface {
	Loss(ctx context.Context, endpoint, jobID string) ([]types.LossPoint, error)
}

// Options configures timeouts and rate limiting for a client
type Options struct {
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
	CancelTimeout time.Duration
	// RateLimit is requests per second across all assets; 0 disables limiting
	RateLimit float64
	Burst     int
	HTTP      *http.Client
}

// DefaultOptions returns the default remote call settings
func DefaultOptions() Options {
	return Options{
		SubmitTimeout: 60 * time.Second,
		PollTimeout:   15 * time.Second,
		CancelTimeout: 15 * time.Second,
		RateLimit:     20,
		Burst:         10,
	}
}

type httpClient struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
}

func newHTTPClient(opts Options) *httpClient {
	d := DefaultOptions()
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = d.SubmitTimeout
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = d.PollTimeout
	}
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = d.CancelTimeout
	}

	c := &httpClient{opts: opts, http: opts.HTTP}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// do sends a JSON request and decodes a JSON response into out (if non-nil)
func (c *httpClient) do(ctx context.Context, timeout time.Duration, method, url string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func joinURL(endpoint, path string) string {
	return strings.TrimRight(endpoint, "/") + path
}
