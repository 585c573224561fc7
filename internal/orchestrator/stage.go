package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"reelchain/internal/descriptor"
	"reelchain/internal/events"
	"reelchain/internal/job"
	"reelchain/internal/logging"
	"reelchain/internal/notifications"
	"reelchain/internal/services"
	"reelchain/internal/services/comfyui"
	"reelchain/internal/textutil"
)

// inFlight locates the job's active attempt and returns its position in the
// attempt log together with a copy.
func inFlight(j *job.Job) (int, job.Stage, bool) {
	for i := len(j.Stages) - 1; i >= 0; i-- {
		if j.Stages[i].Status.Active() {
			return i, j.Stages[i], true
		}
	}
	return -1, job.Stage{}, false
}

// reacquire returns the attempt at pos if it is still the one a task
// started with, in the same status.
func reacquire(j *job.Job, pos int, want job.Stage) *job.Stage {
	if pos < 0 || pos >= len(j.Stages) {
		return nil
	}
	stage := &j.Stages[pos]
	if stage.Index != want.Index || stage.RetryCount != want.RetryCount || stage.Status != want.Status {
		return nil
	}
	return stage
}

func descriptorParams(j *job.Job, stage *job.Stage, uploadedImage string) descriptor.Params {
	s := j.Settings
	return descriptor.Params{
		PositivePrompt: stage.Prompt,
		NegativePrompt: s.NegativePrompt,
		StartImage:     uploadedImage,
		Width:          s.Width,
		Height:         s.Height,
		Frames:         s.FramesPerSegment,
		FPS:            s.FPS,
		OutputPrefix:   j.OutputPrefix(stage),
		Seed:           stage.Seed,
		Models: descriptor.Models{
			TextEncoder: s.CLIPModel,
			VAE:         s.VAEModel,
			HighNoise:   s.HighNoiseModel,
			LowNoise:    s.LowNoiseModel,
		},
		HighNoiseLoRA: s.HighNoiseLoRA,
		LowNoiseLoRA:  s.LowNoiseLoRA,
	}
}

// submitTask uploads the start image of the pending attempt, builds its
// descriptor and submits it, then hands the attempt over to polling.
func (o *Orchestrator) submitTask(ctx context.Context, id string) {
	entry, err := o.lookup(id)
	if err != nil {
		return
	}
	entry.mu.Lock()
	j := entry.job
	pos, attempt, ok := inFlight(j)
	if !ok || attempt.Status != job.StagePending {
		entry.mu.Unlock()
		return
	}
	probe := j.Clone()
	entry.mu.Unlock()

	ctx, logger := o.jobLogger(ctx, probe, &attempt)
	uploaded, handle, err := o.submit(ctx, probe, &attempt)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	stage := reacquire(j, pos, attempt)
	if stage == nil {
		if handle != "" {
			o.renderer.Forget(handle)
		}
		logger.Debug("attempt changed during submission; discarding result")
		return
	}
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("submission interrupted by shutdown; attempt stays pending")
			return
		}
		o.failStage(ctx, logger, j, stage, err)
		return
	}

	now := o.clock()
	if err := stage.MarkSubmitted(handle, uploaded, now); err != nil {
		o.failStage(ctx, logger, j, stage, err)
		return
	}
	j.Status = job.StatusRunning
	_ = o.persist(ctx, j, stageEvent(events.StageSubmitted, stage, "render handle "+handle))
	logger.Info("stage submitted",
		logging.String(logging.FieldEventType, "stage_submitted"),
		logging.String("render_handle", handle),
		logging.Int64("seed", stage.Seed),
		logging.String("prompt", textutil.Excerpt(stage.Prompt, 80)),
		logging.String("uploaded_image", uploaded),
	)

	if err := stage.MarkPolling(now); err != nil {
		o.failStage(ctx, logger, j, stage, err)
		return
	}
	_ = o.persist(ctx, j, stageEvent(events.StagePolling, stage, ""))
	logger.Debug("stage polling", logging.String(logging.FieldEventType, "stage_polling"))
	o.schedule(ctx, j, o.pollInterval, o.pollTask)
}

func (o *Orchestrator) submit(ctx context.Context, j *job.Job, stage *job.Stage) (string, string, error) {
	uploaded, err := o.renderer.UploadImage(ctx, stage.StartImage, j.UploadName(stage), o.uploadSubfolder)
	if err != nil {
		return "", "", err
	}
	d, err := descriptor.Build(descriptorParams(j, stage, uploaded))
	if err != nil {
		return uploaded, "", err
	}
	handle, err := o.renderer.Submit(ctx, d)
	if err != nil {
		return uploaded, "", err
	}
	return uploaded, handle, nil
}

// pollTask checks the render once. A finished render is fetched and its
// last frame extracted before the attempt is marked succeeded; a pending one
// is rescheduled until the poll window closes.
func (o *Orchestrator) pollTask(ctx context.Context, id string) {
	entry, err := o.lookup(id)
	if err != nil {
		return
	}
	entry.mu.Lock()
	j := entry.job
	pos, attempt, ok := inFlight(j)
	if !ok || attempt.Status != job.StagePolling {
		entry.mu.Unlock()
		return
	}
	probe := j.Clone()
	segmentPath := j.SegmentPath(&attempt)
	framePath := j.FramePath(&attempt)
	entry.mu.Unlock()

	ctx, logger := o.jobLogger(ctx, probe, &attempt)
	result, err := o.renderer.Poll(ctx, attempt.Handle)
	var collectErr error
	if err == nil && result.State == comfyui.StateSucceeded {
		collectErr = o.collect(ctx, result, segmentPath, framePath)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	stage := reacquire(j, pos, attempt)
	if stage == nil {
		logger.Debug("attempt changed during poll; discarding result")
		return
	}
	if ctx.Err() != nil {
		logger.Info("poll interrupted by shutdown; attempt resumes on restart")
		return
	}
	if err != nil {
		o.failStage(ctx, logger, j, stage, err)
		return
	}

	now := o.clock()
	switch result.State {
	case comfyui.StateSucceeded:
		if collectErr != nil {
			o.failStage(ctx, logger, j, stage, collectErr)
			return
		}
		o.succeedStage(ctx, logger, j, stage, segmentPath, framePath, now)
	case comfyui.StateFailed:
		failure := result.Err
		if failure == nil {
			failure = services.Wrap(services.ErrServiceRejected, component, "poll", "render reported failure", nil)
		}
		o.failStage(ctx, logger, j, stage, failure)
	default:
		if stage.PollDeadlineExceeded(now, o.maxWait) {
			o.failStage(ctx, logger, j, stage, services.Wrap(services.ErrTimeout, component, "poll",
				fmt.Sprintf("render not finished after %s", o.maxWait), nil))
			return
		}
		if err := stage.RecordPoll(now, result.ConsecutiveFailures); err != nil {
			o.failStage(ctx, logger, j, stage, err)
			return
		}
		_ = o.persist(ctx, j)
		if result.Transient != nil {
			logging.WarnWithContext(logger, "render status check failed", "poll_transient_failure",
				logging.Error(result.Transient),
				logging.Int("consecutive_failures", result.ConsecutiveFailures),
				logging.String(logging.FieldErrorHint, "check that the render service is reachable"),
				logging.String(logging.FieldImpact, "polling continues until the failure limit"),
			)
		} else {
			logger.Debug("render pending", logging.Int("poll_attempts", stage.PollAttempts))
		}
		o.schedule(ctx, j, o.pollInterval, o.pollTask)
	}
}

func (o *Orchestrator) collect(ctx context.Context, result comfyui.PollResult, segmentPath, framePath string) error {
	ref, ok := result.Artifact()
	if !ok {
		return services.Wrap(services.ErrArtifactMissing, component, "collect", "render finished without a video output", nil)
	}
	if err := o.renderer.Fetch(ctx, ref, segmentPath); err != nil {
		return err
	}
	return o.frames.ExtractLastFrame(ctx, segmentPath, framePath)
}

func (o *Orchestrator) succeedStage(ctx context.Context, logger *slog.Logger, j *job.Job, stage *job.Stage, segmentPath, framePath string, now time.Time) {
	if err := stage.MarkSucceeded(segmentPath, framePath, now); err != nil {
		o.failStage(ctx, logger, j, stage, err)
		return
	}
	o.renderer.Forget(stage.Handle)
	j.Status = job.StatusAwaitingReview
	_ = o.persist(ctx, j,
		stageEvent(events.StageSucceeded, stage, segmentPath),
		events.Event{Type: events.JobAwaitingReview},
	)
	logger.Info("stage succeeded",
		logging.String(logging.FieldEventType, "stage_succeeded"),
		logging.String("segment_path", segmentPath),
		logging.String("last_frame_path", framePath),
		logging.Int("poll_attempts", stage.PollAttempts),
	)
	o.notify(ctx, notifications.EventStageReady, notifications.Payload{
		"jobName": j.Name,
		"stage":   strconv.Itoa(stage.Number()),
		"planned": strconv.Itoa(j.PlannedStages),
	})
}

// failStage records a failed attempt. The job keeps running and waits for
// a regenerate or abandon decision.
func (o *Orchestrator) failStage(ctx context.Context, logger *slog.Logger, j *job.Job, stage *job.Stage, cause error) {
	if err := stage.MarkFailed(cause, o.clock()); err != nil {
		logging.ErrorWithContext(logger, "could not record stage failure", "stage_transition_failed",
			logging.Error(err),
			logging.String("cause", cause.Error()),
		)
		return
	}
	if stage.Handle != "" {
		o.renderer.Forget(stage.Handle)
	}
	if j.Status == job.StatusCreated {
		j.Status = job.StatusRunning
	}
	_ = o.persist(ctx, j, stageEvent(events.StageFailed, stage, cause.Error()))

	kind := services.KindOf(cause)
	logging.ErrorWithContext(logger, "stage failed", "stage_failed",
		logging.Error(cause),
		logging.String("error_kind", string(kind)),
		logging.Bool("retryable", services.Retryable(cause)),
		logging.String(logging.FieldErrorHint, failureHint(kind)),
		logging.Alert("stage_failure"),
	)
	o.notify(ctx, notifications.EventStageFailed, notifications.Payload{
		"jobName": j.Name,
		"stage":   strconv.Itoa(stage.Number()),
		"planned": strconv.Itoa(j.PlannedStages),
		"error":   cause.Error(),
	})
}

func failureHint(kind services.Kind) string {
	switch kind {
	case services.KindServiceUnreachable:
		return "check that the render service is running and reachable, then regenerate"
	case services.KindTimeout:
		return "the render exceeded render.max_wait_seconds; check the render queue, then regenerate"
	case services.KindServiceRejected:
		return "the render service rejected the workflow; check model and LoRA names in the config"
	case services.KindArtifactMissing:
		return "the render finished without a retrievable video; regenerate the stage"
	case services.KindDecode:
		return "the fetched segment could not be decoded; regenerate the stage"
	case services.KindCancelled:
		return "the stage was cancelled"
	default:
		return "inspect the job log and regenerate or abandon the stage"
	}
}
