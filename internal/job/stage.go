package job

import (
	"errors"
	"fmt"
	"time"
)

// StageStatus is the state of one stage attempt.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageSubmitted  StageStatus = "submitted"
	StagePolling    StageStatus = "polling"
	StageSucceeded  StageStatus = "succeeded"
	StageFailed     StageStatus = "failed"
	StageSuperseded StageStatus = "superseded"
)

// ErrInvalidTransition is returned when a stage attempt is moved along an
// edge the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid stage transition")

var stageTransitions = map[StageStatus]map[StageStatus]struct{}{
	StagePending:   {StageSubmitted: {}, StageFailed: {}},
	StageSubmitted: {StagePolling: {}, StageFailed: {}},
	StagePolling:   {StagePolling: {}, StageSucceeded: {}, StageFailed: {}},
	StageSucceeded: {StageSuperseded: {}},
	StageFailed:    {StageSuperseded: {}},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to StageStatus) bool {
	_, ok := stageTransitions[from][to]
	return ok
}

// Active reports whether the attempt still needs the orchestrator's attention.
func (s StageStatus) Active() bool {
	return s == StagePending || s == StageSubmitted || s == StagePolling
}

// Terminal reports whether a review decision can be taken on the attempt.
func (s StageStatus) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// Stage is one attempt at rendering the segment for a stage index.
type Stage struct {
	Index                   int          `json:"index"`
	RetryCount              int          `json:"retry_count"`
	Prompt                  string       `json:"prompt"`
	StartImage              string       `json:"start_image_ref"`
	UploadedImage           string       `json:"uploaded_image,omitempty"`
	Seed                    int64        `json:"seed"`
	Status                  StageStatus  `json:"status"`
	Handle                  string       `json:"render_job_handle,omitempty"`
	SegmentPath             string       `json:"segment_output_path,omitempty"`
	LastFramePath           string       `json:"last_frame_path,omitempty"`
	Error                   *ErrorDetail `json:"error,omitempty"`
	CreatedAt               time.Time    `json:"created_at"`
	SubmittedAt             *time.Time   `json:"submitted_at,omitempty"`
	PollingSince            *time.Time   `json:"polling_since,omitempty"`
	LastPolledAt            *time.Time   `json:"last_polled_at,omitempty"`
	PollAttempts            int          `json:"poll_attempts"`
	ConsecutivePollFailures int          `json:"consecutive_poll_failures"`
	CompletedAt             *time.Time   `json:"completed_at,omitempty"`
}

// Number is the 1-based stage number used in file names and messages.
func (s *Stage) Number() int {
	return s.Index + 1
}

func (s *Stage) transition(to StageStatus) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: stage %d attempt %d: %s -> %s", ErrInvalidTransition, s.Index, s.RetryCount, s.Status, to)
	}
	s.Status = to
	return nil
}

// MarkSubmitted records the render handle returned by the service.
func (s *Stage) MarkSubmitted(handle, uploadedImage string, now time.Time) error {
	if handle == "" {
		return errors.New("submitted stage requires a render handle")
	}
	if err := s.transition(StageSubmitted); err != nil {
		return err
	}
	s.Handle = handle
	s.UploadedImage = uploadedImage
	s.SubmittedAt = timePtr(now)
	return nil
}

// MarkPolling starts (or continues) the polling window.
func (s *Stage) MarkPolling(now time.Time) error {
	if err := s.transition(StagePolling); err != nil {
		return err
	}
	if s.PollingSince == nil {
		s.PollingSince = timePtr(now)
	}
	return nil
}

// RecordPoll notes a pending poll outcome without changing state.
func (s *Stage) RecordPoll(now time.Time, consecutiveFailures int) error {
	if s.Status != StagePolling {
		return fmt.Errorf("%w: stage %d attempt %d is %s, not polling", ErrInvalidTransition, s.Index, s.RetryCount, s.Status)
	}
	s.PollAttempts++
	s.ConsecutivePollFailures = consecutiveFailures
	s.LastPolledAt = timePtr(now)
	return nil
}

// PollDeadlineExceeded reports whether the polling window is exhausted.
func (s *Stage) PollDeadlineExceeded(now time.Time, maxWait time.Duration) bool {
	if s.PollingSince == nil || maxWait <= 0 {
		return false
	}
	return now.Sub(*s.PollingSince) >= maxWait
}

// MarkSucceeded records the fetched segment and its extracted last frame.
func (s *Stage) MarkSucceeded(segmentPath, lastFramePath string, now time.Time) error {
	if segmentPath == "" || lastFramePath == "" {
		return errors.New("succeeded stage requires segment and last frame paths")
	}
	if err := s.transition(StageSucceeded); err != nil {
		return err
	}
	s.SegmentPath = segmentPath
	s.LastFramePath = lastFramePath
	s.Error = nil
	s.CompletedAt = timePtr(now)
	return nil
}

// MarkFailed records the failure that ended the attempt.
func (s *Stage) MarkFailed(err error, now time.Time) error {
	if transitionErr := s.transition(StageFailed); transitionErr != nil {
		return transitionErr
	}
	s.Error = NewErrorDetail(err, now)
	s.CompletedAt = timePtr(now)
	return nil
}

// MarkSuperseded retires the attempt in favour of a regenerated one.
func (s *Stage) MarkSuperseded() error {
	return s.transition(StageSuperseded)
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
