package comfyui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelchain/internal/services"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultTransferTimeout = 120 * time.Second
	defaultMaxFailures     = 5
	component              = "render client"
	userAgent              = "reelchain/1.0"
	errorBodyLimit         = 512
)

// Client talks to a ComfyUI server over its REST API.
type Client struct {
	baseURL         *url.URL
	httpClient      *http.Client
	clientID        string
	requestTimeout  time.Duration
	transferTimeout time.Duration
	maxFailures     int

	mu       sync.Mutex
	failures map[string]int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRequestTimeout bounds submit, history, queue, and model listing calls.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithTransferTimeout bounds artifact downloads and image uploads.
func WithTransferTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.transferTimeout = d
		}
	}
}

// WithMaxConsecutiveFailures sets how many transient poll failures are
// tolerated for one handle before Poll reports it failed.
func WithMaxConsecutiveFailures(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxFailures = n
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("render service url required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse render service url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("render service url %q must include scheme and host", baseURL)
	}
	client := &Client{
		baseURL:         parsed,
		httpClient:      &http.Client{},
		clientID:        uuid.NewString(),
		requestTimeout:  defaultRequestTimeout,
		transferTimeout: defaultTransferTimeout,
		maxFailures:     defaultMaxFailures,
		failures:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// BaseURL returns the server address the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do executes req and returns the response when the server answered with a
// 2xx status. Non-2xx responses are closed and converted into taxonomy errors.
func (c *Client) do(ctx context.Context, req *http.Request, operation string) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, transportError(ctx, operation, latency, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return nil, statusError(operation, resp.StatusCode, strings.TrimSpace(string(body)))
}

func transportError(ctx context.Context, operation string, latency time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return services.Wrap(services.ErrCancelled, component, operation, "request cancelled", err)
	}
	msg := fmt.Sprintf("request failed (latency=%v)", latency.Round(time.Millisecond))
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("request timed out (latency=%v)", latency.Round(time.Millisecond))
	}
	return services.Wrap(services.ErrServiceUnreachable, component, operation, msg, err)
}

func statusError(operation string, status int, body string) error {
	msg := fmt.Sprintf("server returned %d", status)
	if body != "" {
		msg += ": " + body
	}
	switch {
	case status == http.StatusNotFound && operation == "fetch":
		return services.Wrap(services.ErrArtifactMissing, component, operation, msg, nil)
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return services.Wrap(services.ErrServiceUnreachable, component, operation, msg, nil)
	default:
		return services.Wrap(services.ErrServiceRejected, component, operation, msg, nil)
	}
}
