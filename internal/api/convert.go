package api

import (
	"fmt"
	"time"

	"reelchain/internal/job"
	"reelchain/internal/queue"
)

// FromJob converts a job into its detailed transport form.
func FromJob(j *job.Job) Job {
	if j == nil {
		return Job{}
	}
	out := Job{
		ID:              j.ID,
		Name:            j.Name,
		Status:          string(j.Status),
		Phase:           j.Phase(),
		NextAction:      NextAction(j),
		Dir:             j.Dir,
		PlannedStages:   j.PlannedStages,
		AcceptedStages:  len(j.Accepted()),
		Settings:        j.Settings,
		Stages:          make([]Stage, 0, len(j.Stages)),
		FinalOutputPath: j.FinalOutputPath,
		PublishedURL:    j.PublishedURL,
		AssemblyError:   fromErrorDetail(j.AssemblyError),
		Failure:         fromErrorDetail(j.Failure),
		CreatedAt:       FormatTime(j.CreatedAt),
		UpdatedAt:       FormatTime(j.UpdatedAt),
	}
	for i := range j.Stages {
		out.Stages = append(out.Stages, FromStage(&j.Stages[i]))
	}
	if a := j.Assembly; a != nil {
		out.Assembly = &AssemblyInfo{
			Strategy:        a.Strategy,
			DurationSeconds: a.DurationSeconds,
			FellBack:        a.FellBack,
			At:              FormatTime(a.At),
		}
	}
	return out
}

// FromStage converts one attempt.
func FromStage(s *job.Stage) Stage {
	return Stage{
		Index:         s.Index,
		Number:        s.Number(),
		Attempt:       s.RetryCount,
		Status:        string(s.Status),
		Prompt:        s.Prompt,
		Seed:          s.Seed,
		StartImage:    s.StartImage,
		RenderHandle:  s.Handle,
		SegmentPath:   s.SegmentPath,
		LastFramePath: s.LastFramePath,
		PollAttempts:  s.PollAttempts,
		Error:         fromErrorDetail(s.Error),
		CreatedAt:     FormatTime(s.CreatedAt),
		SubmittedAt:   formatTimePtr(s.SubmittedAt),
		CompletedAt:   formatTimePtr(s.CompletedAt),
	}
}

// FromEntry converts an index row.
func FromEntry(e *queue.Entry) JobSummary {
	if e == nil {
		return JobSummary{}
	}
	out := JobSummary{
		ID:              e.ID,
		Name:            e.Name,
		Status:          e.Status,
		Phase:           e.Phase,
		PlannedStages:   e.PlannedStages,
		AcceptedStages:  e.AcceptedStages,
		Attempts:        e.Attempts,
		CurrentStatus:   e.CurrentStatus,
		FinalOutputPath: e.FinalOutputPath,
		PublishedURL:    e.PublishedURL,
		LastError:       e.LastError,
		CreatedAt:       FormatTime(e.CreatedAt),
		UpdatedAt:       FormatTime(e.UpdatedAt),
	}
	if e.CurrentIndex != nil {
		out.CurrentStage = *e.CurrentIndex + 1
	}
	return out
}

// FromEntries converts a list of index rows, preserving order.
func FromEntries(entries []*queue.Entry) []JobSummary {
	out := make([]JobSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, FromEntry(e))
	}
	return out
}

// FromPlan builds the plan payload for a target duration.
func FromPlan(durationSeconds int) PlanResponse {
	plan := job.PlanSegments(durationSeconds)
	out := PlanResponse{
		DurationSeconds: durationSeconds,
		Stages:          make([]PlanStage, 0, len(plan)),
	}
	for _, stage := range plan {
		out.Stages = append(out.Stages, PlanStage{Stage: stage.StageNumber, Seconds: stage.Seconds, Frames: stage.Frames})
		out.TotalSeconds += stage.Seconds
	}
	if len(plan) > 0 {
		out.SegmentSeconds = plan[0].Seconds
		out.FramesPerSegment = plan[0].Frames
		out.Estimate = job.EstimateGeneration(plan[0].Frames, len(plan))
	}
	return out
}

// NextAction describes what the job is waiting for.
func NextAction(j *job.Job) string {
	switch {
	case j.Assembling:
		return "assembling final video"
	case j.Status == job.StatusCompleted && j.AssemblyError != nil:
		return "assembly failed: retry assembly"
	case j.Status == job.StatusCompleted:
		return "done"
	case j.Status == job.StatusFailed:
		return "none"
	}
	if active := j.ActiveStage(); active != nil {
		return fmt.Sprintf("waiting for render of stage %d", active.Number())
	}
	latest := j.Latest()
	if latest == nil {
		return "none"
	}
	switch latest.Status {
	case job.StageSucceeded:
		if latest.Index+1 >= j.PlannedStages {
			return fmt.Sprintf("review stage %d: continue to assemble, regenerate or abandon", latest.Number())
		}
		return fmt.Sprintf("review stage %d: continue, regenerate or abandon", latest.Number())
	case job.StageFailed:
		return fmt.Sprintf("stage %d failed: regenerate or abandon", latest.Number())
	default:
		return "none"
	}
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}

func fromErrorDetail(e *job.ErrorDetail) *ErrorInfo {
	if e == nil {
		return nil
	}
	return &ErrorInfo{
		Kind:      string(e.Kind),
		Message:   e.Message,
		Retryable: e.Retryable,
		At:        FormatTime(e.At),
	}
}
