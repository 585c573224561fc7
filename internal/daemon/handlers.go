package daemon

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reelchain/internal/api"
	"reelchain/internal/deps"
	"reelchain/internal/job"
	"reelchain/internal/logging"
	"reelchain/internal/orchestrator"
	"reelchain/internal/services"
)

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	writeJSON(w, http.StatusOK, toDaemonStatus(status))
}

func toDaemonStatus(status Status) api.DaemonStatus {
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		StartedAt:    api.FormatTime(status.StartedAt),
		OutputDir:    status.OutputDir,
		IndexPath:    status.IndexPath,
		LockFilePath: status.LockFilePath,
		Jobs:         status.Jobs,
		Scheduler: api.SchedulerStatus{
			Running:   status.Scheduler.Running,
			Workers:   status.Scheduler.Workers,
			Pending:   status.Scheduler.Pending,
			Active:    status.Scheduler.Active,
			Completed: status.Scheduler.Completed,
			Panics:    status.Scheduler.Panics,
		},
		Render: api.RenderStatus{
			URL:       status.Render.URL,
			Reachable: status.Render.Reachable,
			Running:   status.Render.Running,
			Pending:   status.Render.Pending,
			Detail:    status.Render.Detail,
		},
		EventClients: status.EventClients,
		Dependencies: fromDeps(status.Dependencies),
		Checks:       make([]api.CheckResult, 0, len(status.Checks)),
	}
	for _, check := range status.Checks {
		payload.Checks = append(payload.Checks, api.CheckResult{Name: check.Name, Passed: check.Passed, Detail: check.Detail})
	}
	return payload
}

func fromDeps(statuses []deps.Status) []api.DependencyStatus {
	out := make([]api.DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Version:     dep.Version,
			Detail:      dep.Detail,
		}
	}
	return out
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []job.Status
	for _, value := range r.URL.Query()["status"] {
		for part := range strings.SplitSeq(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				statuses = append(statuses, job.Status(strings.ToLower(trimmed)))
			}
		}
	}
	entries, err := s.daemon.jobs.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromEntries(entries)})
}

func (s *apiServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.daemon.jobs.CreateJob(r.Context(), orchestrator.CreateRequest{
		Name:             req.Name,
		Prompt:           req.Prompt,
		StartImage:       req.StartImage,
		Stages:           req.Stages,
		DurationSeconds:  req.DurationSeconds,
		Seed:             req.Seed,
		Width:            req.Width,
		Height:           req.Height,
		FramesPerSegment: req.FramesPerSegment,
		NegativePrompt:   req.NegativePrompt,
		HighNoiseLoRA:    req.HighNoiseLoRA,
		LowNoiseLoRA:     req.LowNoiseLoRA,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.JobResponse{Job: api.FromJob(created)})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.daemon.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(j)})
}

func (s *apiServer) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req api.DecisionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	j, err := s.daemon.jobs.Decide(r.Context(), r.PathValue("id"), job.Decision{
		Action:     job.Action(req.Action),
		Prompt:     req.Prompt,
		StartImage: req.StartImage,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(j)})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	j, err := s.daemon.jobs.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(j)})
}

func (s *apiServer) handleAssemble(w http.ResponseWriter, r *http.Request) {
	j, err := s.daemon.jobs.RetryAssembly(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(j)})
}

func (s *apiServer) handleLoRAs(w http.ResponseWriter, r *http.Request) {
	if s.daemon.render == nil {
		s.writeError(w, r, services.Wrap(services.ErrServiceUnreachable, "api", "loras", "render service not configured", nil))
		return
	}
	loras, err := s.daemon.render.ListLoRAs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if loras == nil {
		loras = []string{}
	}
	writeJSON(w, http.StatusOK, api.LoRAListResponse{LoRAs: loras})
}

func (s *apiServer) handlePlan(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("duration"))
	duration, err := strconv.Atoi(raw)
	if err != nil || duration <= 0 {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "plan", "duration must be a positive number of seconds", nil))
		return
	}
	writeJSON(w, http.StatusOK, api.FromPlan(duration))
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.daemon.hub == nil {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "events", "event stream disabled", nil))
		return
	}
	// The stream outlives the server write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.log().Debug("clear write deadline failed", logging.Error(err))
	}
	s.daemon.hub.ServeHTTP(w, r)
}
