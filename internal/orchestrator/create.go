package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"reelchain/internal/events"
	"reelchain/internal/fileutil"
	"reelchain/internal/job"
	"reelchain/internal/logging"
	"reelchain/internal/services"
)

// CreateRequest describes a new job. Either Stages or DurationSeconds sets
// the planned stage count; a duration also picks the frames per segment.
// Zero-valued overrides fall back to the configured generation settings.
type CreateRequest struct {
	Name            string `json:"name"`
	Prompt          string `json:"prompt"`
	StartImage      string `json:"start_image"`
	Stages          int    `json:"stages,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Seed            int64  `json:"seed,omitempty"`

	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	FramesPerSegment int    `json:"frames_per_segment,omitempty"`
	NegativePrompt   string `json:"negative_prompt,omitempty"`
	HighNoiseLoRA    string `json:"high_noise_lora,omitempty"`
	LowNoiseLoRA     string `json:"low_noise_lora,omitempty"`
}

func (r CreateRequest) validate() error {
	invalid := func(msg string) error {
		return services.Wrap(services.ErrValidation, component, "create", msg, nil)
	}
	switch {
	case strings.TrimSpace(r.Name) == "":
		return invalid("job name is required")
	case strings.TrimSpace(r.Prompt) == "":
		return invalid("prompt is required")
	case strings.TrimSpace(r.StartImage) == "":
		return invalid("start image is required")
	case r.Stages < 0 || r.DurationSeconds < 0:
		return invalid("stages and duration must not be negative")
	case r.Width < 0 || r.Height < 0 || r.FramesPerSegment < 0:
		return invalid("width, height and frames_per_segment must not be negative")
	case r.Stages == 0 && r.DurationSeconds == 0:
		return invalid("either stages or duration_seconds is required")
	}
	info, err := os.Stat(r.StartImage)
	if err != nil {
		return services.Wrap(services.ErrValidation, component, "create", fmt.Sprintf("start image %q", r.StartImage), err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return invalid(fmt.Sprintf("start image %q is not a non-empty file", r.StartImage))
	}
	return nil
}

func (o *Orchestrator) settingsFor(req CreateRequest) (job.Settings, int) {
	settings := job.SettingsFromConfig(o.cfg)
	stages := req.Stages
	if req.DurationSeconds > 0 {
		plan := job.PlanSegments(req.DurationSeconds)
		if stages == 0 {
			stages = len(plan)
		}
		settings.FramesPerSegment = plan[0].Frames
	}
	if req.Width > 0 {
		settings.Width = req.Width
	}
	if req.Height > 0 {
		settings.Height = req.Height
	}
	if req.FramesPerSegment > 0 {
		settings.FramesPerSegment = req.FramesPerSegment
	}
	if negative := strings.TrimSpace(req.NegativePrompt); negative != "" {
		settings.NegativePrompt = negative
	}
	if lora := strings.TrimSpace(req.HighNoiseLoRA); lora != "" {
		settings.HighNoiseLoRA = lora
	}
	if lora := strings.TrimSpace(req.LowNoiseLoRA); lora != "" {
		settings.LowNoiseLoRA = lora
	}
	return settings, stages
}

// CreateJob validates the request, copies the start image into a fresh job
// directory, records attempt 0 and schedules its submission.
func (o *Orchestrator) CreateJob(ctx context.Context, req CreateRequest) (*job.Job, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	settings, stages := o.settingsFor(req)
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	now := o.clock()
	j := &job.Job{
		Version:       job.SnapshotVersion,
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(req.Name),
		CreatedAt:     now,
		Settings:      settings,
		PlannedStages: stages,
		Status:        job.StatusCreated,
	}
	j.Dir = filepath.Join(o.store.Root, job.DirName(j.Name, now))
	if _, err := os.Stat(j.Dir); err == nil {
		j.Dir += "_" + j.ID[:8]
	}
	if err := o.store.Prepare(j); err != nil {
		return nil, err
	}
	if err := fileutil.CopyFileVerified(req.StartImage, j.StartImagePath()); err != nil {
		return nil, services.Wrap(services.ErrValidation, component, "create", "copy start image", err)
	}

	seed := req.Seed
	if seed <= 0 {
		seed = o.newSeed()
	}
	if _, err := j.NewAttempt(0, strings.TrimSpace(req.Prompt), j.StartImagePath(), seed, now); err != nil {
		return nil, err
	}

	entry := o.register(j)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := o.persist(ctx, j, events.Event{Type: events.JobCreated, Message: fmt.Sprintf("%d stages planned", stages)}); err != nil {
		o.forget(j.ID)
		return nil, err
	}
	_, logger := o.jobLogger(ctx, j, nil)
	logger.Info("job created",
		logging.String(logging.FieldEventType, "job_created"),
		logging.String("job_name", j.Name),
		logging.Int("planned_stages", stages),
		logging.Int("frames_per_segment", settings.FramesPerSegment),
		logging.String("job_dir", j.Dir),
	)
	o.schedule(ctx, j, 0, o.submitTask)
	return j.Clone(), nil
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	delete(o.jobs, id)
	o.mu.Unlock()
}
