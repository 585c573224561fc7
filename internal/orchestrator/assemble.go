package orchestrator

import (
	"context"

	"reelchain/internal/events"
	"reelchain/internal/job"
	"reelchain/internal/logging"
	"reelchain/internal/notifications"
)

// assembleTask joins the accepted segments. The job is completed either way;
// a failed run is recorded as an assembly error and leaves every segment in
// place for RetryAssembly.
func (o *Orchestrator) assembleTask(ctx context.Context, id string) {
	entry, err := o.lookup(id)
	if err != nil {
		return
	}
	entry.mu.Lock()
	j := entry.job
	if !j.Assembling {
		entry.mu.Unlock()
		return
	}
	segments := j.SegmentPaths()
	output := j.FinalOutputTarget()
	probe := j.Clone()
	entry.mu.Unlock()

	ctx, logger := o.jobLogger(ctx, probe, nil)
	logger.Info("assembly started",
		logging.String(logging.FieldEventType, "assembly_started"),
		logging.Int("segments", len(segments)),
		logging.String("output", output),
	)
	result, assembleErr := o.assembler.Assemble(ctx, segments, output)

	entry.mu.Lock()
	if ctx.Err() != nil {
		entry.mu.Unlock()
		logger.Info("assembly interrupted by shutdown; resumes on restart")
		return
	}
	now := o.clock()
	j.Assembling = false
	j.Status = job.StatusCompleted
	if assembleErr != nil {
		j.AssemblyError = job.NewErrorDetail(assembleErr, now)
		j.FinalOutputPath = ""
		_ = o.persist(ctx, j, events.Event{Type: events.AssemblyFailed, Message: assembleErr.Error()})
		entry.mu.Unlock()
		logging.ErrorWithContext(logger, "assembly failed", "assembly_failed",
			logging.Error(assembleErr),
			logging.String(logging.FieldErrorHint, "segments are kept; fix ffmpeg and run job assemble to retry"),
			logging.Alert("assembly_failure"),
		)
		o.notify(ctx, notifications.EventAssemblyFailed, notifications.Payload{
			"jobName": probe.Name,
			"error":   assembleErr.Error(),
		})
		return
	}

	j.AssemblyError = nil
	j.FinalOutputPath = result.Path
	j.Assembly = &job.AssemblyInfo{
		Strategy:        string(result.Strategy),
		DurationSeconds: result.DurationSeconds,
		FellBack:        result.FellBack(),
		At:              now,
	}
	var evts []events.Event
	if result.FellBack() {
		evts = append(evts, events.Event{Type: events.AssemblyFallback, Message: result.CopyError})
	}
	evts = append(evts, events.Event{Type: events.JobCompleted, Message: result.Path})
	_ = o.persist(ctx, j, evts...)
	entry.mu.Unlock()

	if result.FellBack() {
		logging.WarnWithContext(logger, "stream copy failed; segments were re-encoded", "assembly_fallback",
			logging.String("copy_error", result.CopyError),
			logging.String(logging.FieldErrorHint, "segments differ in codec or resolution, or concat copy failed"),
			logging.String(logging.FieldImpact, "final video was re-encoded"),
		)
	}
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.String("output", result.Path),
		logging.String("strategy", string(result.Strategy)),
		logging.Float64("duration_seconds", result.DurationSeconds),
		logging.Duration("elapsed", result.Elapsed),
	)

	link := o.publish(ctx, entry, result.Path)
	o.notify(ctx, notifications.EventJobCompleted, notifications.Payload{
		"jobName": probe.Name,
		"output":  result.Path,
		"url":     link,
	})
}

// publish uploads the final video when a publisher is configured. Failures
// only produce a warning.
func (o *Orchestrator) publish(ctx context.Context, entry *jobEntry, path string) string {
	if o.publisher == nil {
		return ""
	}
	entry.mu.Lock()
	id := entry.job.ID
	probe := entry.job.Clone()
	entry.mu.Unlock()

	_, logger := o.jobLogger(ctx, probe, nil)
	link, err := o.publisher.Publish(ctx, id, path)
	if err != nil {
		logging.WarnWithContext(logger, "publishing final video failed", "publish_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the [publish] endpoint, bucket and credentials"),
			logging.String(logging.FieldImpact, "the video is only available locally"),
		)
		return ""
	}

	entry.mu.Lock()
	entry.job.PublishedURL = link
	_ = o.persist(ctx, entry.job, events.Event{Type: events.OutputPublished, Message: link})
	entry.mu.Unlock()
	logger.Info("final video published",
		logging.String(logging.FieldEventType, "output_published"),
		logging.String("object", path),
	)
	return link
}

// RetryAssembly re-runs the assembler for a job whose assembly failed.
func (o *Orchestrator) RetryAssembly(ctx context.Context, jobID string) (*job.Job, error) {
	entry, err := o.lookup(jobID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	j := entry.job
	switch {
	case j.Assembling:
		return nil, conflict("assemble", "assembly already running")
	case j.Status != job.StatusCompleted || j.AssemblyError == nil:
		return nil, conflict("assemble", "job is %s; only jobs whose assembly failed can be reassembled", j.Phase())
	}
	j.Assembling = true
	_ = o.persist(ctx, j, events.Event{Type: events.AssemblyStarted, Message: "retry"})
	o.schedule(ctx, j, 0, o.assembleTask)
	return j.Clone(), nil
}
