package job

import (
	"errors"
	"testing"
	"time"

	"reelchain/internal/services"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCanTransitionTable(t *testing.T) {
	allowed := []struct{ from, to StageStatus }{
		{StagePending, StageSubmitted},
		{StagePending, StageFailed},
		{StageSubmitted, StagePolling},
		{StageSubmitted, StageFailed},
		{StagePolling, StagePolling},
		{StagePolling, StageSucceeded},
		{StagePolling, StageFailed},
		{StageSucceeded, StageSuperseded},
		{StageFailed, StageSuperseded},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to StageStatus }{
		{StagePending, StageSucceeded},
		{StagePending, StagePolling},
		{StageSubmitted, StageSucceeded},
		{StageSucceeded, StageFailed},
		{StageFailed, StagePending},
		{StageSuperseded, StagePending},
		{StageSuperseded, StageSucceeded},
		{StagePending, StageSuperseded},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestStageHappyTransitions(t *testing.T) {
	s := &Stage{Index: 1, Status: StagePending}
	if err := s.MarkSubmitted("prompt-1", "reelchain/start.png", testNow); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.Handle != "prompt-1" || s.SubmittedAt == nil {
		t.Fatalf("submit did not record handle: %+v", s)
	}
	if err := s.MarkPolling(testNow); err != nil {
		t.Fatalf("polling: %v", err)
	}
	since := *s.PollingSince
	if err := s.MarkPolling(testNow.Add(time.Minute)); err != nil {
		t.Fatalf("polling again: %v", err)
	}
	if !s.PollingSince.Equal(since) {
		t.Fatal("polling window start moved")
	}
	if err := s.RecordPoll(testNow.Add(time.Minute), 2); err != nil {
		t.Fatalf("record poll: %v", err)
	}
	if s.PollAttempts != 1 || s.ConsecutivePollFailures != 2 {
		t.Fatalf("poll counters = %d/%d", s.PollAttempts, s.ConsecutivePollFailures)
	}
	if err := s.MarkSucceeded("/seg.mp4", "/frame.png", testNow); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if s.Number() != 2 {
		t.Fatalf("Number() = %d", s.Number())
	}
	if err := s.MarkSuperseded(); err != nil {
		t.Fatalf("supersede: %v", err)
	}
}

func TestStageInvalidTransitions(t *testing.T) {
	s := &Stage{Status: StagePending}
	if err := s.MarkSucceeded("/seg.mp4", "/frame.png", testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := s.MarkSuperseded(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := s.RecordPoll(testNow, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := s.MarkSubmitted("", "", testNow); err == nil {
		t.Fatal("expected error for empty handle")
	}
	if s.Status != StagePending {
		t.Fatalf("status changed to %s after rejected transitions", s.Status)
	}
}

func TestStageMarkFailedRecordsDetail(t *testing.T) {
	s := &Stage{Status: StagePolling, Handle: "h"}
	cause := services.Wrap(services.ErrTimeout, "orchestrator", "poll", "render exceeded max wait", nil)
	if err := s.MarkFailed(cause, testNow); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if s.Error == nil || s.Error.Kind != services.KindTimeout || !s.Error.Retryable {
		t.Fatalf("unexpected error detail: %+v", s.Error)
	}
	if s.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
}

func TestPollDeadlineExceeded(t *testing.T) {
	s := &Stage{Status: StagePending}
	if s.PollDeadlineExceeded(testNow, time.Second) {
		t.Fatal("deadline exceeded before polling started")
	}
	_ = s.MarkSubmitted("h", "", testNow)
	_ = s.MarkPolling(testNow)
	if s.PollDeadlineExceeded(testNow.Add(59*time.Second), time.Minute) {
		t.Fatal("deadline exceeded too early")
	}
	if !s.PollDeadlineExceeded(testNow.Add(time.Minute), time.Minute) {
		t.Fatal("deadline not exceeded at max wait")
	}
}
