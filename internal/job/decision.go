package job

import (
	"fmt"
	"strings"

	"reelchain/internal/services"
)

// Action is a human review decision.
type Action string

const (
	ActionContinue   Action = "continue"
	ActionRegenerate Action = "regenerate"
	ActionAbandon    Action = "abandon"
)

// Decision is the reviewer's verdict on the latest terminal attempt.
// Prompt is the next stage prompt for continue and an optional replacement
// for regenerate. StartImage may only replace the start image of stage 0.
type Decision struct {
	Action     Action `json:"action"`
	Prompt     string `json:"prompt,omitempty"`
	StartImage string `json:"start_image,omitempty"`
}

// ParseAction validates a decision action name.
func ParseAction(raw string) (Action, error) {
	switch action := Action(strings.ToLower(strings.TrimSpace(raw))); action {
	case ActionContinue, ActionRegenerate, ActionAbandon:
		return action, nil
	default:
		return "", services.Wrap(services.ErrValidation, "job", "decision", fmt.Sprintf("unknown action %q", raw), nil)
	}
}

// Allowed reports whether the decision may be applied to an attempt in
// status s.
func (d Decision) Allowed(s StageStatus) bool {
	switch s {
	case StageSucceeded:
		return true
	case StageFailed:
		return d.Action == ActionRegenerate || d.Action == ActionAbandon
	default:
		return false
	}
}
