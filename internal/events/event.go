package events

import "time"

// Type names a lifecycle transition.
type Type string

const (
	JobCreated        Type = "job_created"
	StageSubmitted    Type = "stage_submitted"
	StagePolling      Type = "stage_polling"
	StageSucceeded    Type = "stage_succeeded"
	StageFailed       Type = "stage_failed"
	StageSuperseded   Type = "stage_superseded"
	JobAwaitingReview Type = "job_awaiting_review"
	JobCompleted      Type = "job_completed"
	JobFailed         Type = "job_failed"
	AssemblyStarted   Type = "assembly_started"
	AssemblyFallback  Type = "assembly_fallback"
	AssemblyFailed    Type = "assembly_failed"
	OutputPublished   Type = "output_published"
)

// Event is one published transition.
type Event struct {
	Sequence    uint64    `json:"seq"`
	Timestamp   time.Time `json:"ts"`
	Type        Type      `json:"type"`
	JobID       string    `json:"job_id"`
	JobName     string    `json:"job_name,omitempty"`
	Phase       string    `json:"phase,omitempty"`
	StageIndex  *int      `json:"stage_index,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	StageStatus string    `json:"stage_status,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Sink receives every published event.
type Sink interface {
	Append(Event)
}

// Publisher is the producer side used by the orchestrator.
type Publisher interface {
	Publish(Event)
}
