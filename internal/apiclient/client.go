// Package apiclient talks to a running reelchain daemon over its HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"reelchain/internal/api"
	"reelchain/internal/events"
)

// ErrAPIUnavailable reports that no daemon API is configured or reachable.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
	Kind    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// Client is a daemon API client.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New builds a client for the daemon bound at bind (host:port or URL).
func New(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Status fetches the daemon status summary.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// ListJobs returns job summaries, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses ...string) ([]api.JobSummary, error) {
	values := url.Values{}
	for _, status := range statuses {
		if trimmed := strings.TrimSpace(status); trimmed != "" {
			values.Add("status", trimmed)
		}
	}
	var out api.JobListResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs", values, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// GetJob returns the full job detail.
func (c *Client) GetJob(ctx context.Context, id string) (api.Job, error) {
	return c.jobCall(ctx, http.MethodGet, jobPath(id, ""), nil)
}

// CreateJob submits a new job.
func (c *Client) CreateJob(ctx context.Context, req api.CreateJobRequest) (api.Job, error) {
	return c.jobCall(ctx, http.MethodPost, "/api/jobs", req)
}

// Decide applies a review decision to the job's latest attempt.
func (c *Client) Decide(ctx context.Context, id string, req api.DecisionRequest) (api.Job, error) {
	return c.jobCall(ctx, http.MethodPost, jobPath(id, "decision"), req)
}

// Cancel stops the job's in-flight stage and fails the job.
func (c *Client) Cancel(ctx context.Context, id string) (api.Job, error) {
	return c.jobCall(ctx, http.MethodPost, jobPath(id, "cancel"), nil)
}

// Assemble retries assembly for a completed job whose assembly failed.
func (c *Client) Assemble(ctx context.Context, id string) (api.Job, error) {
	return c.jobCall(ctx, http.MethodPost, jobPath(id, "assemble"), nil)
}

// LoRAs lists the LoRA files known to the render service.
func (c *Client) LoRAs(ctx context.Context) ([]string, error) {
	var out api.LoRAListResponse
	if err := c.do(ctx, http.MethodGet, "/api/loras", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.LoRAs, nil
}

// Plan returns the segment plan for a target duration in seconds.
func (c *Client) Plan(ctx context.Context, seconds int) (api.PlanResponse, error) {
	var out api.PlanResponse
	values := url.Values{"duration": []string{strconv.Itoa(seconds)}}
	err := c.do(ctx, http.MethodGet, "/api/plan", values, nil, &out)
	return out, err
}

// Watch streams job events until ctx is cancelled, the daemon closes the
// stream or fn returns an error. An empty jobID watches every job.
func (c *Client) Watch(ctx context.Context, jobID string, since uint64, fn func(events.Event) error) error {
	endpoint := *c.base
	switch endpoint.Scheme {
	case "https":
		endpoint.Scheme = "wss"
	default:
		endpoint.Scheme = "ws"
	}
	endpoint.Path = "/api/events"
	values := url.Values{}
	if jobID != "" {
		values.Set("job_id", jobID)
	}
	if since > 0 {
		values.Set("since", strconv.FormatUint(since, 10))
	}
	endpoint.RawQuery = values.Encode()

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var evt events.Event
		if err := conn.ReadJSON(&evt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

func (c *Client) jobCall(ctx context.Context, method, path string, body any) (api.Job, error) {
	var out api.JobResponse
	if err := c.do(ctx, method, path, nil, body, &out); err != nil {
		return api.Job{}, err
	}
	return out.Job, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var payload api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Kind = payload.Kind
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

func jobPath(id, action string) string {
	path := "/api/jobs/" + url.PathEscape(strings.TrimSpace(id))
	if action != "" {
		path += "/" + action
	}
	return path
}

// IsAPIUnavailable reports whether err means the daemon could not be reached.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}

// IsKind reports whether err is an APIError of the given error kind.
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
