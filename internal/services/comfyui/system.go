package comfyui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"reelchain/internal/services"
)

// QueueStatus reports the render server's queue depth.
type QueueStatus struct {
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// ListLoRAs returns the LoRA files installed on the render server, sorted.
func (c *Client) ListLoRAs(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, "/models/loras", "list loras", &names); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// QueueStatus returns the number of running and pending prompts.
func (c *Client) QueueStatus(ctx context.Context) (QueueStatus, error) {
	var payload struct {
		Running []json.RawMessage `json:"queue_running"`
		Pending []json.RawMessage `json:"queue_pending"`
	}
	if err := c.getJSON(ctx, "/queue", "queue status", &payload); err != nil {
		return QueueStatus{}, err
	}
	return QueueStatus{Running: len(payload.Running), Pending: len(payload.Pending)}, nil
}

// HealthCheck verifies the server answers its system stats endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.endpoint("/system_stats", nil), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.do(ctx, req, "health check")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) getJSON(ctx context.Context, path, operation string, dst any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.endpoint(path, nil), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.do(ctx, req, operation)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return services.Wrap(services.ErrServiceRejected, component, operation, "decode response", err)
	}
	return nil
}
