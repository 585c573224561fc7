package job

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"reelchain/internal/config"
	"reelchain/internal/services"
)

// SnapshotVersion is the current job_state.json format version.
const SnapshotVersion = 1

// Status is the lifecycle state of a job.
type Status string

const (
	StatusCreated        Status = "created"
	StatusRunning        Status = "running"
	StatusAwaitingReview Status = "awaiting_review"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

const (
	// PhaseCompletedWithAssemblyError is reported by Phase for completed jobs
	// whose final assembly failed.
	PhaseCompletedWithAssemblyError = "completed_with_assembly_error"
	// PhaseAssembling is reported while the assembler runs.
	PhaseAssembling = "assembling"
)

// Finished reports whether the job accepts no further decisions.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Settings is the generation configuration captured when a job is created.
type Settings struct {
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	FPS              int    `json:"fps"`
	FramesPerSegment int    `json:"frames_per_segment"`
	NegativePrompt   string `json:"negative_prompt"`
	OutputPrefix     string `json:"output_prefix"`
	CLIPModel        string `json:"clip_model"`
	VAEModel         string `json:"vae_model"`
	HighNoiseModel   string `json:"high_noise_model"`
	LowNoiseModel    string `json:"low_noise_model"`
	HighNoiseLoRA    string `json:"high_noise_lora,omitempty"`
	LowNoiseLoRA     string `json:"low_noise_lora,omitempty"`
}

// SettingsFromConfig snapshots the generation section of cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	g := cfg.Generation
	return Settings{
		Width:            g.Width,
		Height:           g.Height,
		FPS:              g.FPS,
		FramesPerSegment: g.FramesPerSegment,
		NegativePrompt:   g.NegativePrompt,
		OutputPrefix:     g.OutputPrefix,
		CLIPModel:        g.CLIPModel,
		VAEModel:         g.VAEModel,
		HighNoiseModel:   g.HighNoiseModel,
		LowNoiseModel:    g.LowNoiseModel,
		HighNoiseLoRA:    g.HighNoiseLoRA,
		LowNoiseLoRA:     g.LowNoiseLoRA,
	}
}

// Validate reports unusable settings.
func (s Settings) Validate() error {
	switch {
	case s.Width <= 0 || s.Height <= 0:
		return services.Wrap(services.ErrValidation, "job", "settings", "width and height must be positive", nil)
	case s.FPS <= 0:
		return services.Wrap(services.ErrValidation, "job", "settings", "fps must be positive", nil)
	case s.FramesPerSegment <= 0:
		return services.Wrap(services.ErrValidation, "job", "settings", "frames per segment must be positive", nil)
	}
	return nil
}

// AssemblyInfo describes the last successful assembly run.
type AssemblyInfo struct {
	Strategy        string    `json:"strategy"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	FellBack        bool      `json:"fell_back"`
	At              time.Time `json:"at"`
}

// Job is a multi-stage chained video job together with its attempt log.
type Job struct {
	Version         int           `json:"version"`
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Dir             string        `json:"dir"`
	Settings        Settings      `json:"config"`
	PlannedStages   int           `json:"planned_stages"`
	Stages          []Stage       `json:"stages"`
	Status          Status        `json:"status"`
	FinalOutputPath string        `json:"final_output_path,omitempty"`
	Assembling      bool          `json:"assembling,omitempty"`
	Assembly        *AssemblyInfo `json:"assembly,omitempty"`
	AssemblyError   *ErrorDetail  `json:"assembly_error,omitempty"`
	Failure         *ErrorDetail  `json:"failure,omitempty"`
	PublishedURL    string        `json:"published_url,omitempty"`
}

// Phase returns the status for display, distinguishing completed jobs whose
// assembly failed.
func (j *Job) Phase() string {
	if j.Assembling {
		return PhaseAssembling
	}
	if j.Status == StatusCompleted && j.AssemblyError != nil {
		return PhaseCompletedWithAssemblyError
	}
	return string(j.Status)
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Stages = append([]Stage(nil), j.Stages...)
	return &out
}

// Touch sets UpdatedAt.
func (j *Job) Touch(now time.Time) {
	j.UpdatedAt = now.UTC()
}

// Latest returns the newest attempt, or nil when the log is empty.
func (j *Job) Latest() *Stage {
	if len(j.Stages) == 0 {
		return nil
	}
	return &j.Stages[len(j.Stages)-1]
}

// ActiveStage returns the attempt that is pending, submitted or polling.
func (j *Job) ActiveStage() *Stage {
	for i := range j.Stages {
		if j.Stages[i].Status.Active() {
			return &j.Stages[i]
		}
	}
	return nil
}

// Current returns the non-superseded attempt for index, or nil.
func (j *Job) Current(index int) *Stage {
	for i := len(j.Stages) - 1; i >= 0; i-- {
		stage := &j.Stages[i]
		if stage.Index == index && stage.Status != StageSuperseded {
			return stage
		}
	}
	return nil
}

// Accepted returns the succeeded, non-superseded attempts ordered by index.
func (j *Job) Accepted() []Stage {
	var accepted []Stage
	for _, stage := range j.Stages {
		if stage.Status == StageSucceeded {
			accepted = append(accepted, stage)
		}
	}
	sort.Slice(accepted, func(a, b int) bool { return accepted[a].Index < accepted[b].Index })
	return accepted
}

// SegmentPaths lists accepted segment files in stage order.
func (j *Job) SegmentPaths() []string {
	accepted := j.Accepted()
	paths := make([]string, 0, len(accepted))
	for _, stage := range accepted {
		paths = append(paths, stage.SegmentPath)
	}
	return paths
}

// AllStagesAccepted reports whether every planned index has a succeeded attempt.
func (j *Job) AllStagesAccepted() bool {
	for index := 0; index < j.PlannedStages; index++ {
		stage := j.Current(index)
		if stage == nil || stage.Status != StageSucceeded {
			return false
		}
	}
	return true
}

// NewAttempt appends a pending attempt for index. The retry count follows
// the highest existing attempt at that index.
func (j *Job) NewAttempt(index int, prompt, startImage string, seed int64, now time.Time) (*Stage, error) {
	if index < 0 || index >= j.PlannedStages {
		return nil, fmt.Errorf("%w: stage index %d outside planned range [0,%d)", services.ErrValidation, index, j.PlannedStages)
	}
	if active := j.ActiveStage(); active != nil {
		return nil, fmt.Errorf("%w: stage %d attempt %d is still %s", services.ErrConflict, active.Index, active.RetryCount, active.Status)
	}
	retry := 0
	for _, stage := range j.Stages {
		if stage.Index == index && stage.RetryCount >= retry {
			retry = stage.RetryCount + 1
		}
	}
	j.Stages = append(j.Stages, Stage{
		Index:      index,
		RetryCount: retry,
		Prompt:     prompt,
		StartImage: startImage,
		Seed:       seed,
		Status:     StagePending,
		CreatedAt:  now.UTC(),
	})
	return &j.Stages[len(j.Stages)-1], nil
}

// Validate checks the structural invariants of the attempt log.
func (j *Job) Validate() error {
	if j.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", j.Version)
	}
	if j.ID == "" {
		return errors.New("job id is empty")
	}
	if j.PlannedStages < 1 {
		return errors.New("planned_stages must be at least 1")
	}
	active := 0
	current := make(map[int]int)
	for i, stage := range j.Stages {
		if stage.Index < 0 || stage.Index >= j.PlannedStages {
			return fmt.Errorf("stage %d index %d outside planned range", i, stage.Index)
		}
		if stage.Status == StageSubmitted || stage.Status == StagePolling {
			active++
			if stage.Handle == "" {
				return fmt.Errorf("stage %d attempt %d is %s without a render handle", stage.Index, stage.RetryCount, stage.Status)
			}
		}
		if stage.Status == StageSucceeded && (stage.SegmentPath == "" || stage.LastFramePath == "") {
			return fmt.Errorf("stage %d attempt %d succeeded without artifacts", stage.Index, stage.RetryCount)
		}
		if stage.Status != StageSuperseded {
			current[stage.Index]++
			if current[stage.Index] > 1 {
				return fmt.Errorf("stage %d has more than one non-superseded attempt", stage.Index)
			}
		}
	}
	if active > 1 {
		return fmt.Errorf("%d attempts are in flight; at most one is allowed", active)
	}
	accepted := j.Accepted()
	for i := 1; i < len(accepted); i++ {
		prev, next := accepted[i-1], accepted[i]
		if next.Index == prev.Index+1 && next.StartImage != prev.LastFramePath {
			return fmt.Errorf("stage %d start image %q does not match stage %d last frame %q", next.Index, next.StartImage, prev.Index, prev.LastFramePath)
		}
	}
	if j.Status == StatusCompleted && !j.AllStagesAccepted() {
		return errors.New("completed job is missing accepted stages")
	}
	return nil
}
