package comfyui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"reelchain/internal/services"
)

// PollState is the coarse render status reported by Poll.
type PollState string

const (
	StatePending   PollState = "pending"
	StateSucceeded PollState = "succeeded"
	StateFailed    PollState = "failed"
)

// ArtifactRef locates an output file on the render server.
type ArtifactRef struct {
	NodeID    string `json:"node_id,omitempty"`
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// PollResult is the outcome of a single history lookup.
type PollResult struct {
	State     PollState
	Artifacts []ArtifactRef
	// Err is set when State is StateFailed and describes the failure.
	Err error
	// Transient holds the error swallowed while reporting StatePending.
	Transient error
	// ConsecutiveFailures is the handle's current transient failure count.
	ConsecutiveFailures int
}

// Artifact returns the first video artifact, if any.
func (r PollResult) Artifact() (ArtifactRef, bool) {
	if len(r.Artifacts) == 0 {
		return ArtifactRef{}, false
	}
	return r.Artifacts[0], true
}

type historyEntry struct {
	Outputs map[string]nodeOutput `json:"outputs"`
	Status  *historyStatus        `json:"status"`
}

type nodeOutput struct {
	Videos []ArtifactRef `json:"videos"`
	Gifs   []ArtifactRef `json:"gifs"`
	Images []ArtifactRef `json:"images"`
}

type historyStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages"`
}

var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".webm": {},
	".mov":  {},
	".mkv":  {},
	".gif":  {},
}

// Poll performs one history lookup for handle. Transport problems and server
// errors are reported as pending until the consecutive failure bound is
// exceeded. The returned error is only non-nil for invalid input or caller
// cancellation.
func (c *Client) Poll(ctx context.Context, handle string) (PollResult, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return PollResult{}, services.Wrap(services.ErrValidation, component, "poll", "handle is empty", nil)
	}

	entry, found, err := c.history(ctx, handle)
	if err != nil {
		if errors.Is(err, services.ErrCancelled) {
			return PollResult{}, err
		}
		if errors.Is(err, services.ErrServiceRejected) {
			c.resetFailures(handle)
			return PollResult{State: StateFailed, Err: err}, nil
		}
		count := c.recordFailure(handle)
		if count > c.maxFailures {
			c.resetFailures(handle)
			return PollResult{
				State:               StateFailed,
				ConsecutiveFailures: count,
				Err: services.Wrap(services.ErrServiceUnreachable, component, "poll",
					fmt.Sprintf("%d consecutive poll failures", count), err),
			}, nil
		}
		return PollResult{State: StatePending, Transient: err, ConsecutiveFailures: count}, nil
	}
	c.resetFailures(handle)

	if !found {
		return PollResult{State: StatePending}, nil
	}
	return interpret(entry), nil
}

// Forget drops any failure bookkeeping kept for handle.
func (c *Client) Forget(handle string) {
	c.resetFailures(handle)
}

func (c *Client) history(ctx context.Context, handle string) (historyEntry, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.endpoint("/history/"+url.PathEscape(handle), nil), nil)
	if err != nil {
		return historyEntry{}, false, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.do(ctx, req, "poll")
	if err != nil {
		return historyEntry{}, false, err
	}
	defer resp.Body.Close()

	var payload map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return historyEntry{}, false, services.Wrap(services.ErrServiceUnreachable, component, "poll", "decode history", err)
	}
	entry, ok := payload[handle]
	return entry, ok, nil
}

func interpret(entry historyEntry) PollResult {
	if entry.Status != nil && strings.EqualFold(entry.Status.StatusStr, "error") {
		msg := summarizeMessages(entry.Status.Messages)
		return PollResult{State: StateFailed, Err: services.Wrap(services.ErrServiceRejected, component, "poll", msg, nil)}
	}
	artifacts := collectArtifacts(entry.Outputs)
	if len(artifacts) > 0 {
		return PollResult{State: StateSucceeded, Artifacts: artifacts}
	}
	if entry.Status != nil && entry.Status.Completed {
		return PollResult{State: StateFailed, Err: services.Wrap(services.ErrArtifactMissing, component, "poll", "render completed without a video output", nil)}
	}
	return PollResult{State: StatePending}
}

// collectArtifacts returns every video file across all output nodes, ordered
// by node id so selection is stable.
func collectArtifacts(outputs map[string]nodeOutput) []ArtifactRef {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var refs []ArtifactRef
	for _, id := range ids {
		out := outputs[id]
		for _, group := range [][]ArtifactRef{out.Videos, out.Gifs, out.Images} {
			for _, ref := range group {
				if _, ok := videoExtensions[strings.ToLower(path.Ext(ref.Filename))]; !ok {
					continue
				}
				ref.NodeID = id
				if ref.Type == "" {
					ref.Type = "output"
				}
				refs = append(refs, ref)
			}
		}
	}
	return refs
}

// summarizeMessages extracts the execution_error detail from history status
// messages, which arrive as [event, payload] pairs.
func summarizeMessages(raw []json.RawMessage) string {
	for _, item := range raw {
		var pair []json.RawMessage
		if err := json.Unmarshal(item, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var event string
		if err := json.Unmarshal(pair[0], &event); err != nil || event != "execution_error" {
			continue
		}
		var detail struct {
			NodeID           string `json:"node_id"`
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &detail); err != nil {
			continue
		}
		msg := strings.TrimSpace(detail.ExceptionMessage)
		if detail.NodeType != "" {
			msg = fmt.Sprintf("%s (node %s %s)", msg, detail.NodeID, detail.NodeType)
		}
		if msg != "" {
			return "render failed: " + msg
		}
	}
	return "render failed"
}

func (c *Client) recordFailure(handle string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[handle]++
	return c.failures[handle]
}

func (c *Client) resetFailures(handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, handle)
}
