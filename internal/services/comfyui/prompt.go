package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"reelchain/internal/descriptor"
	"reelchain/internal/services"
)

type promptRequest struct {
	Prompt   descriptor.Descriptor `json:"prompt"`
	ClientID string                `json:"client_id,omitempty"`
}

type promptResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors"`
}

// Submit queues a workflow and returns the render job handle.
func (c *Client) Submit(ctx context.Context, d descriptor.Descriptor) (string, error) {
	if len(d) == 0 {
		return "", services.Wrap(services.ErrValidation, component, "submit", "descriptor is empty", nil)
	}
	body, err := json.Marshal(promptRequest{Prompt: d, ClientID: c.clientID})
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, "submit", "encode descriptor", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint("/prompt", nil), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req, "submit")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload promptResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", services.Wrap(services.ErrServiceRejected, component, "submit", "decode response", err)
	}
	if len(payload.NodeErrors) > 0 {
		nodes := make([]string, 0, len(payload.NodeErrors))
		for id := range payload.NodeErrors {
			nodes = append(nodes, id)
		}
		return "", services.Wrap(services.ErrServiceRejected, component, "submit", "node errors in "+strings.Join(nodes, ","), nil)
	}
	handle := strings.TrimSpace(payload.PromptID)
	if handle == "" {
		return "", services.Wrap(services.ErrServiceRejected, component, "submit", "response missing prompt_id", nil)
	}
	c.resetFailures(handle)
	return handle, nil
}
