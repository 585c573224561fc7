package orchestrator

import (
	"context"

	"reelchain/internal/job"
	"reelchain/internal/logging"
)

// ResumeSummary reports what Resume found on disk.
type ResumeSummary struct {
	Loaded      int
	Resubmitted int
	Repolled    int
	Reassembled int
	Failed      []job.LoadError
}

// Resume loads every job snapshot, rebuilds the index and reschedules work
// that was in flight. Submitted or polling attempts are re-polled with their
// persisted handle and never submitted twice.
func (o *Orchestrator) Resume(ctx context.Context) (ResumeSummary, error) {
	jobs, failures, err := o.store.LoadAll()
	if err != nil {
		return ResumeSummary{}, err
	}
	summary := ResumeSummary{Loaded: len(jobs), Failed: failures}
	for _, failure := range failures {
		logging.WarnWithContext(o.logger, "skipping unreadable job snapshot", "snapshot_load_failed",
			logging.String("job_dir", failure.Dir),
			logging.Error(failure.Err),
			logging.String(logging.FieldErrorHint, "inspect or move job_state.json in that directory"),
			logging.String(logging.FieldImpact, "job is not resumed"),
		)
	}

	for _, j := range jobs {
		o.register(j)
	}
	if o.index != nil {
		if err := o.index.Rebuild(ctx, jobs); err != nil {
			logging.WarnWithContext(o.logger, "job index rebuild failed", "index_rebuild_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "job listing may be incomplete"),
			)
		}
	}

	for _, j := range jobs {
		switch o.resumeJob(ctx, j) {
		case resumeSubmit:
			summary.Resubmitted++
		case resumePoll:
			summary.Repolled++
		case resumeAssemble:
			summary.Reassembled++
		}
	}
	o.logger.Info("jobs resumed",
		logging.String(logging.FieldEventType, "jobs_resumed"),
		logging.Int("loaded", summary.Loaded),
		logging.Int("resubmitted", summary.Resubmitted),
		logging.Int("repolled", summary.Repolled),
		logging.Int("reassembled", summary.Reassembled),
		logging.Int("unreadable", len(summary.Failed)),
	)
	return summary, nil
}

type resumeAction int

const (
	resumeNone resumeAction = iota
	resumeSubmit
	resumePoll
	resumeAssemble
)

func (o *Orchestrator) resumeJob(ctx context.Context, j *job.Job) resumeAction {
	entry, err := o.lookup(j.ID)
	if err != nil {
		return resumeNone
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if j.Assembling {
		o.schedule(ctx, j, 0, o.assembleTask)
		return resumeAssemble
	}
	if j.Status.Finished() {
		return resumeNone
	}
	_, attempt, ok := inFlight(j)
	if !ok {
		return resumeNone
	}
	stageCtx, logger := o.jobLogger(ctx, j, &attempt)
	switch attempt.Status {
	case job.StagePending:
		logger.Info("resubmitting pending stage", logging.Int64("seed", attempt.Seed))
		o.schedule(stageCtx, j, 0, o.submitTask)
		return resumeSubmit
	case job.StageSubmitted:
		stage := j.ActiveStage()
		if err := stage.MarkPolling(o.clock()); err != nil {
			logging.WarnWithContext(logger, "could not resume submitted stage", "resume_failed", logging.Error(err))
			return resumeNone
		}
		_ = o.persist(stageCtx, j)
		fallthrough
	default:
		logger.Info("re-polling stage", logging.String("render_handle", attempt.Handle))
		o.schedule(stageCtx, j, 0, o.pollTask)
		return resumePoll
	}
}
