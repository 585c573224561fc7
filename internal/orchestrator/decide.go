package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"reelchain/internal/events"
	"reelchain/internal/fileutil"
	"reelchain/internal/job"
	"reelchain/internal/logging"
	"reelchain/internal/notifications"
	"reelchain/internal/services"
)

// Decide applies a reviewer decision to the job's newest attempt.
func (o *Orchestrator) Decide(ctx context.Context, jobID string, d job.Decision) (*job.Job, error) {
	action, err := job.ParseAction(string(d.Action))
	if err != nil {
		return nil, err
	}
	d.Action = action

	entry, err := o.lookup(jobID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	j := entry.job

	switch {
	case j.Status.Finished():
		return nil, conflict("decide", "job is %s", j.Phase())
	case j.Assembling:
		return nil, conflict("decide", "job is assembling")
	}
	if active := j.ActiveStage(); active != nil {
		return nil, conflict("decide", "stage %d attempt %d is still %s", active.Number(), active.RetryCount, active.Status)
	}
	latest := j.Latest()
	if latest == nil {
		return nil, services.Wrap(services.ErrConflict, component, "decide", "job has no attempts", nil)
	}
	if !d.Allowed(latest.Status) {
		return nil, conflict("decide", "%s is not allowed on a %s stage", d.Action, latest.Status)
	}

	ctx, logger := o.jobLogger(ctx, j, latest)
	logger.Info("review decision received",
		logging.String(logging.FieldEventType, "decision_received"),
		logging.String("action", string(d.Action)),
		logging.Int("stage", latest.Number()),
	)

	switch d.Action {
	case job.ActionContinue:
		err = o.continueJob(ctx, j, latest, d)
	case job.ActionRegenerate:
		err = o.regenerate(ctx, j, latest, d)
	case job.ActionAbandon:
		o.abandon(ctx, j, latest)
	}
	if err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

func (o *Orchestrator) continueJob(ctx context.Context, j *job.Job, latest *job.Stage, d job.Decision) error {
	next := latest.Index + 1
	if next >= j.PlannedStages {
		if !j.AllStagesAccepted() {
			return conflict("continue", "not every planned stage has an accepted segment")
		}
		j.Assembling = true
		_ = o.persist(ctx, j, events.Event{Type: events.AssemblyStarted, Message: fmt.Sprintf("%d segments", j.PlannedStages)})
		o.schedule(ctx, j, 0, o.assembleTask)
		return nil
	}

	prompt := strings.TrimSpace(d.Prompt)
	if prompt == "" {
		prompt = latest.Prompt
	}
	if _, err := j.NewAttempt(next, prompt, latest.LastFramePath, o.newSeed(), o.clock()); err != nil {
		return err
	}
	j.Status = job.StatusRunning
	_ = o.persist(ctx, j)
	o.schedule(ctx, j, 0, o.submitTask)
	return nil
}

// regenerate supersedes the latest attempt and appends a fresh one at the
// same index. Only the first stage may receive a new start image; later
// stages stay chained to the accepted frame before them.
func (o *Orchestrator) regenerate(ctx context.Context, j *job.Job, latest *job.Stage, d job.Decision) error {
	startImage := latest.StartImage
	if path := strings.TrimSpace(d.StartImage); path != "" {
		if latest.Index != 0 {
			return services.Wrap(services.ErrValidation, component, "regenerate",
				"a new start image is only accepted for stage 1", nil)
		}
		dest := filepath.Join(j.Dir, fmt.Sprintf("start_image_r%d.png", latest.RetryCount+1))
		if err := fileutil.CopyFileVerified(path, dest); err != nil {
			return services.Wrap(services.ErrValidation, component, "regenerate", "copy start image", err)
		}
		startImage = dest
	}
	prompt := strings.TrimSpace(d.Prompt)
	if prompt == "" {
		prompt = latest.Prompt
	}

	if err := latest.MarkSuperseded(); err != nil {
		return err
	}
	// NewAttempt may reallocate the attempt log; keep a copy for the event.
	superseded := *latest
	stage, err := j.NewAttempt(superseded.Index, prompt, startImage, o.newSeed(), o.clock())
	if err != nil {
		return err
	}
	j.Status = job.StatusRunning
	_ = o.persist(ctx, j, stageEvent(events.StageSuperseded, &superseded, fmt.Sprintf("replaced by attempt %d", stage.RetryCount)))
	o.schedule(ctx, j, 0, o.submitTask)
	return nil
}

func (o *Orchestrator) abandon(ctx context.Context, j *job.Job, latest *job.Stage) {
	cause := services.Wrap(services.ErrCancelled, component, "abandon", "abandoned by reviewer", nil)
	o.failJob(ctx, j, cause, fmt.Sprintf("abandoned at stage %d", latest.Number()))
}

// Cancel stops polling the in-flight attempt and fails the job. The remote
// render keeps running.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*job.Job, error) {
	entry, err := o.lookup(jobID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	j := entry.job
	stage := j.ActiveStage()
	if stage == nil {
		return nil, conflict("cancel", "job %s has no stage in progress", j.ID)
	}
	o.scheduler.Cancel(j.ID)

	ctx, logger := o.jobLogger(ctx, j, stage)
	cause := services.Wrap(services.ErrCancelled, component, "cancel", "cancelled by user", nil)
	if err := stage.MarkFailed(cause, o.clock()); err != nil {
		return nil, err
	}
	if stage.Handle != "" {
		o.renderer.Forget(stage.Handle)
	}
	logger.Info("stage cancelled",
		logging.String(logging.FieldEventType, "stage_cancelled"),
		logging.String("render_handle", stage.Handle),
	)
	o.failJob(ctx, j, cause, fmt.Sprintf("cancelled during stage %d", stage.Number()),
		stageEvent(events.StageFailed, stage, cause.Error()))
	return j.Clone(), nil
}

func (o *Orchestrator) failJob(ctx context.Context, j *job.Job, cause error, reason string, extra ...events.Event) {
	j.Status = job.StatusFailed
	j.Failure = job.NewErrorDetail(cause, o.clock())
	evts := append(extra, events.Event{Type: events.JobFailed, Message: reason})
	_ = o.persist(ctx, j, evts...)
	_, logger := o.jobLogger(ctx, j, nil)
	logger.Info("job failed",
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String("reason", reason),
		logging.Int("accepted_stages", len(j.Accepted())),
	)
	o.notify(ctx, notifications.EventJobFailed, notifications.Payload{
		"jobName": j.Name,
		"reason":  reason,
		"planned": strconv.Itoa(j.PlannedStages),
	})
}
