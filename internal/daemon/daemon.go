package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"reelchain/internal/config"
	"reelchain/internal/deps"
	"reelchain/internal/events"
	"reelchain/internal/job"
	"reelchain/internal/logging"
	"reelchain/internal/orchestrator"
	"reelchain/internal/preflight"
	"reelchain/internal/queue"
	"reelchain/internal/scheduler"
)

// JobService is the job workflow the API drives.
type JobService interface {
	CreateJob(ctx context.Context, req orchestrator.CreateRequest) (*job.Job, error)
	Decide(ctx context.Context, jobID string, d job.Decision) (*job.Job, error)
	Cancel(ctx context.Context, jobID string) (*job.Job, error)
	RetryAssembly(ctx context.Context, jobID string) (*job.Job, error)
	Get(ctx context.Context, jobID string) (*job.Job, error)
	List(ctx context.Context, statuses ...job.Status) ([]*queue.Entry, error)
	Resume(ctx context.Context) (orchestrator.ResumeSummary, error)
}

// RenderService is the subset of the render client exposed through the API.
type RenderService interface {
	preflight.RenderProbe
	ListLoRAs(ctx context.Context) ([]string, error)
}

// JobStats reports job counts per status.
type JobStats interface {
	Stats(ctx context.Context) (map[string]int, error)
}

// Dependencies groups the collaborators the daemon runs.
type Dependencies struct {
	Jobs      JobService
	Scheduler *scheduler.Scheduler
	Render    RenderService
	Stats     JobStats
	Hub       *events.Hub
	Logger    *slog.Logger
}

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	jobs      JobService
	scheduler *scheduler.Scheduler
	render    RenderService
	stats     JobStats
	hub       *events.Hub
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	mu        sync.Mutex
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	OutputDir    string
	IndexPath    string
	LockFilePath string
	Jobs         map[string]int
	Scheduler    scheduler.Stats
	Render       preflight.RenderResult
	EventClients int
	Dependencies []deps.Status
	Checks       []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, d Dependencies) (*Daemon, error) {
	if cfg == nil || d.Jobs == nil || d.Scheduler == nil {
		return nil, errors.New("daemon requires config, job service, and scheduler")
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	daemon := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		jobs:      d.Jobs,
		scheduler: d.Scheduler,
		render:    d.Render,
		stats:     d.Stats,
		hub:       d.Hub,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	daemon.api = newAPIServer(cfg, daemon, logger)
	return daemon, nil
}

// Start acquires the daemon lock, starts the scheduler, resumes persisted
// jobs and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another reelchain daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.scheduler.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}

	summary, err := d.jobs.Resume(runCtx)
	if err != nil {
		d.scheduler.Stop()
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("resume jobs: %w", err)
	}

	if err := d.api.start(runCtx); err != nil {
		d.scheduler.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	d.ctx, d.cancel = runCtx, cancel
	d.startedAt = time.Now().UTC()
	d.mu.Unlock()
	d.running.Store(true)
	d.logger.Info("reelchain daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api_bind", d.api.address()),
		logging.Int("jobs_loaded", summary.Loaded),
		logging.Int("jobs_repolled", summary.Repolled),
		logging.Int("jobs_resubmitted", summary.Resubmitted),
	)
	return nil
}

// Stop shuts down the API, waits for in-flight tasks and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Swap(false) {
		return
	}

	d.api.stop(d.cfg.ShutdownGrace())
	if d.hub != nil {
		d.hub.Close()
	}
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.ctx = nil
	d.mu.Unlock()
	d.scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file manually if the next start fails"),
		)
	}
	d.logger.Info("reelchain daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Addr returns the address the API listens on, or the configured bind when
// the daemon is not running.
func (d *Daemon) Addr() string {
	return d.api.address()
}

// Status returns the current daemon status, including live preflight results.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()

	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    startedAt,
		OutputDir:    d.cfg.Paths.OutputDir,
		IndexPath:    d.cfg.IndexPath(),
		LockFilePath: d.lockPath,
		Scheduler:    d.scheduler.Stats(),
	}
	if d.stats != nil {
		counts, err := d.stats.Stats(ctx)
		if err != nil {
			d.logger.Warn("job stats unavailable",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_stats_failed"),
			)
		}
		status.Jobs = counts
	}
	if d.hub != nil {
		status.EventClients = d.hub.ConnectionCount()
	}

	var probe preflight.RenderProbe
	if d.render != nil {
		probe = d.render
	}
	report := preflight.RunAll(ctx, d.cfg, probe)
	status.Checks = report.Checks
	status.Dependencies = report.Dependencies
	status.Render = report.Render
	return status
}
