package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"reelchain/internal/config"
	"reelchain/internal/job"
	"reelchain/internal/orchestrator"
	"reelchain/internal/queue"
	"reelchain/internal/scheduler"
	"reelchain/internal/services"
	"reelchain/internal/services/comfyui"
	"reelchain/internal/testsupport"
)

type jobServiceStub struct {
	mu        sync.Mutex
	jobs      map[string]*job.Job
	created   []orchestrator.CreateRequest
	decisions []job.Decision
	resumed   int
	decideErr error
}

func newJobServiceStub() *jobServiceStub {
	return &jobServiceStub{jobs: make(map[string]*job.Job)}
}

func (s *jobServiceStub) add(j *job.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

func (s *jobServiceStub) CreateJob(_ context.Context, req orchestrator.CreateRequest) (*job.Job, error) {
	if req.Name == "" {
		return nil, services.Wrap(services.ErrValidation, "stub", "create", "name is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, req)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := &job.Job{ID: "job-1", Name: req.Name, Status: job.StatusRunning, PlannedStages: req.Stages, CreatedAt: now, UpdatedAt: now}
	if _, err := j.NewAttempt(0, req.Prompt, req.StartImage, 7, now); err != nil {
		return nil, err
	}
	s.jobs[j.ID] = j
	return j, nil
}

func (s *jobServiceStub) Decide(_ context.Context, id string, d job.Decision) (*job.Job, error) {
	j, err := s.Get(context.Background(), id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	if s.decideErr != nil {
		return nil, s.decideErr
	}
	return j, nil
}

func (s *jobServiceStub) Cancel(ctx context.Context, id string) (*job.Job, error) {
	return s.Get(ctx, id)
}

func (s *jobServiceStub) RetryAssembly(ctx context.Context, id string) (*job.Job, error) {
	return s.Get(ctx, id)
}

func (s *jobServiceStub) Get(_ context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "stub", "get", "job "+id+" not found", nil)
	}
	return j.Clone(), nil
}

func (s *jobServiceStub) List(context.Context, ...job.Status) ([]*queue.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*queue.Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		entry := queue.EntryFromJob(j)
		out = append(out, &entry)
	}
	return out, nil
}

func (s *jobServiceStub) Resume(context.Context) (orchestrator.ResumeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed++
	return orchestrator.ResumeSummary{Loaded: len(s.jobs)}, nil
}

type renderStub struct {
	loras     []string
	healthErr error
}

func (r renderStub) HealthCheck(context.Context) error { return r.healthErr }

func (r renderStub) QueueStatus(context.Context) (comfyui.QueueStatus, error) {
	return comfyui.QueueStatus{Running: 1}, nil
}

func (r renderStub) ListLoRAs(context.Context) ([]string, error) {
	if r.healthErr != nil {
		return nil, services.Wrap(services.ErrServiceUnreachable, "stub", "loras", "render service down", r.healthErr)
	}
	return r.loras, nil
}

func testConfig(t *testing.T, opts ...testsupport.ConfigOption) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Paths.APIBind = "127.0.0.1:0"
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config, jobs JobService, render RenderService) *Daemon {
	t.Helper()
	d, err := New(cfg, Dependencies{
		Jobs:      jobs,
		Scheduler: scheduler.New(1, nil),
		Render:    render,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func createRequest(name string) orchestrator.CreateRequest {
	return orchestrator.CreateRequest{Name: name, Prompt: "a cat", StartImage: "/tmp/cat.png", Stages: 2}
}

func schedulerForTest() *scheduler.Scheduler {
	return scheduler.New(1, nil)
}

func (s *jobServiceStub) setDecideErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decideErr = err
}

func (s *jobServiceStub) createdRequests() []orchestrator.CreateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orchestrator.CreateRequest(nil), s.created...)
}

func (s *jobServiceStub) receivedDecisions() []job.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]job.Decision(nil), s.decisions...)
}

func (s *jobServiceStub) resumeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumed
}
