package api

import "reelchain/internal/job"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrorInfo is a classified failure.
type ErrorInfo struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	At        string `json:"at,omitempty"`
}

// Stage is one attempt in a job's attempt log.
type Stage struct {
	Index         int        `json:"index"`
	Number        int        `json:"number"`
	Attempt       int        `json:"attempt"`
	Status        string     `json:"status"`
	Prompt        string     `json:"prompt"`
	Seed          int64      `json:"seed"`
	StartImage    string     `json:"start_image"`
	RenderHandle  string     `json:"render_handle,omitempty"`
	SegmentPath   string     `json:"segment_path,omitempty"`
	LastFramePath string     `json:"last_frame_path,omitempty"`
	PollAttempts  int        `json:"poll_attempts,omitempty"`
	Error         *ErrorInfo `json:"error,omitempty"`
	CreatedAt     string     `json:"created_at,omitempty"`
	SubmittedAt   string     `json:"submitted_at,omitempty"`
	CompletedAt   string     `json:"completed_at,omitempty"`
}

// AssemblyInfo describes how the final video was produced.
type AssemblyInfo struct {
	Strategy        string  `json:"strategy"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	FellBack        bool    `json:"fell_back"`
	At              string  `json:"at,omitempty"`
}

// Job is the detailed view of one job.
type Job struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Status          string        `json:"status"`
	Phase           string        `json:"phase"`
	NextAction      string        `json:"next_action"`
	Dir             string        `json:"dir"`
	PlannedStages   int           `json:"planned_stages"`
	AcceptedStages  int           `json:"accepted_stages"`
	Settings        job.Settings  `json:"settings"`
	Stages          []Stage       `json:"stages"`
	FinalOutputPath string        `json:"final_output_path,omitempty"`
	PublishedURL    string        `json:"published_url,omitempty"`
	Assembly        *AssemblyInfo `json:"assembly,omitempty"`
	AssemblyError   *ErrorInfo    `json:"assembly_error,omitempty"`
	Failure         *ErrorInfo    `json:"failure,omitempty"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
}

// JobSummary is one row of the job index.
type JobSummary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	Phase           string `json:"phase"`
	PlannedStages   int    `json:"planned_stages"`
	AcceptedStages  int    `json:"accepted_stages"`
	Attempts        int    `json:"attempts"`
	CurrentStage    int    `json:"current_stage,omitempty"`
	CurrentStatus   string `json:"current_status,omitempty"`
	FinalOutputPath string `json:"final_output_path,omitempty"`
	PublishedURL    string `json:"published_url,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// JobListResponse wraps a collection of job summaries.
type JobListResponse struct {
	Jobs []JobSummary `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	Name             string `json:"name"`
	Prompt           string `json:"prompt"`
	StartImage       string `json:"start_image"`
	Stages           int    `json:"stages,omitempty"`
	DurationSeconds  int    `json:"duration_seconds,omitempty"`
	Seed             int64  `json:"seed,omitempty"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	FramesPerSegment int    `json:"frames_per_segment,omitempty"`
	NegativePrompt   string `json:"negative_prompt,omitempty"`
	HighNoiseLoRA    string `json:"high_noise_lora,omitempty"`
	LowNoiseLoRA     string `json:"low_noise_lora,omitempty"`
}

// DecisionRequest is the body of POST /api/jobs/{id}/decision.
type DecisionRequest struct {
	Action     string `json:"action"`
	Prompt     string `json:"prompt,omitempty"`
	StartImage string `json:"start_image,omitempty"`
}

// PlanStage is one planned segment.
type PlanStage struct {
	Stage   int `json:"stage"`
	Seconds int `json:"seconds"`
	Frames  int `json:"frames"`
}

// PlanResponse is the segment plan for a target duration.
type PlanResponse struct {
	DurationSeconds  int         `json:"duration_seconds"`
	Stages           []PlanStage `json:"stages"`
	SegmentSeconds   int         `json:"segment_seconds"`
	FramesPerSegment int         `json:"frames_per_segment"`
	TotalSeconds     int         `json:"total_seconds"`
	Estimate         string      `json:"estimate"`
}

// LoRAListResponse lists LoRA files known to the render service.
type LoRAListResponse struct {
	LoRAs []string `json:"loras"`
}

// DependencyStatus captures availability of an external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// CheckResult is one preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// SchedulerStatus mirrors the task scheduler counters.
type SchedulerStatus struct {
	Running   bool   `json:"running"`
	Workers   int    `json:"workers"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Completed uint64 `json:"completed"`
	Panics    uint64 `json:"panics"`
}

// RenderStatus reports render service reachability and queue depth.
type RenderStatus struct {
	URL       string `json:"url"`
	Reachable bool   `json:"reachable"`
	Running   int    `json:"running"`
	Pending   int    `json:"pending"`
	Detail    string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StartedAt    string             `json:"started_at,omitempty"`
	OutputDir    string             `json:"output_dir"`
	IndexPath    string             `json:"index_path"`
	LockFilePath string             `json:"lock_file_path"`
	Jobs         map[string]int     `json:"jobs"`
	Scheduler    SchedulerStatus    `json:"scheduler"`
	Render       RenderStatus       `json:"render"`
	EventClients int                `json:"event_clients"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Checks       []CheckResult      `json:"checks"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
