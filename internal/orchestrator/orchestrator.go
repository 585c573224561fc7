package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reelchain/internal/assembler"
	"reelchain/internal/config"
	"reelchain/internal/descriptor"
	"reelchain/internal/events"
	"reelchain/internal/job"
	"reelchain/internal/logging"
	"reelchain/internal/notifications"
	"reelchain/internal/queue"
	"reelchain/internal/scheduler"
	"reelchain/internal/services"
	"reelchain/internal/services/comfyui"
)

const component = "orchestrator"

// Renderer is the subset of the render client used by the orchestrator.
type Renderer interface {
	UploadImage(ctx context.Context, imagePath, remoteName, subfolder string) (string, error)
	Submit(ctx context.Context, d descriptor.Descriptor) (string, error)
	Poll(ctx context.Context, handle string) (comfyui.PollResult, error)
	Fetch(ctx context.Context, ref comfyui.ArtifactRef, dest string) error
	Forget(handle string)
}

// FrameExtractor pulls the last frame out of a fetched segment.
type FrameExtractor interface {
	ExtractLastFrame(ctx context.Context, segmentPath, imagePath string) error
}

// Assembler joins accepted segments into the final video.
type Assembler interface {
	Assemble(ctx context.Context, segments []string, output string) (assembler.Result, error)
}

// Index is the derived job listing.
type Index interface {
	Upsert(ctx context.Context, j *job.Job) error
	Rebuild(ctx context.Context, jobs []*job.Job) error
	List(ctx context.Context, statuses ...job.Status) ([]*queue.Entry, error)
}

// Publisher uploads a finished video and returns a shareable URL.
type Publisher interface {
	Publish(ctx context.Context, jobID, localPath string) (string, error)
}

// Dependencies wires the orchestrator to its collaborators. Index, Events,
// Notifier and Publisher are optional.
type Dependencies struct {
	Store     *job.SnapshotStore
	Index     Index
	Renderer  Renderer
	Frames    FrameExtractor
	Assembler Assembler
	Scheduler *scheduler.Scheduler
	Events    events.Publisher
	Notifier  notifications.Service
	Publisher Publisher
	Logger    *slog.Logger
}

// Option adjusts orchestrator timing and sources of randomness.
type Option func(*Orchestrator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSeedSource overrides descriptor.NewSeed.
func WithSeedSource(seed func() int64) Option {
	return func(o *Orchestrator) { o.newSeed = seed }
}

// WithPollInterval overrides render.poll_interval_seconds.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithMaxWait overrides render.max_wait_seconds.
func WithMaxWait(d time.Duration) Option {
	return func(o *Orchestrator) { o.maxWait = d }
}

type jobEntry struct {
	mu  sync.Mutex
	job *job.Job
}

// Orchestrator owns the in-memory set of jobs and advances them.
type Orchestrator struct {
	cfg       *config.Config
	store     *job.SnapshotStore
	index     Index
	renderer  Renderer
	frames    FrameExtractor
	assembler Assembler
	scheduler *scheduler.Scheduler
	events    events.Publisher
	notifier  notifications.Service
	publisher Publisher
	logger    *slog.Logger

	now             func() time.Time
	newSeed         func() int64
	pollInterval    time.Duration
	maxWait         time.Duration
	uploadSubfolder string

	mu   sync.RWMutex
	jobs map[string]*jobEntry
}

// New constructs an orchestrator.
func New(cfg *config.Config, deps Dependencies, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("orchestrator: config is required")
	}
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator: snapshot store is required")
	case deps.Renderer == nil:
		return nil, errors.New("orchestrator: renderer is required")
	case deps.Frames == nil:
		return nil, errors.New("orchestrator: frame extractor is required")
	case deps.Assembler == nil:
		return nil, errors.New("orchestrator: assembler is required")
	case deps.Scheduler == nil:
		return nil, errors.New("orchestrator: scheduler is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(&config.Config{})
	}
	o := &Orchestrator{
		cfg:             cfg,
		store:           deps.Store,
		index:           deps.Index,
		renderer:        deps.Renderer,
		frames:          deps.Frames,
		assembler:       deps.Assembler,
		scheduler:       deps.Scheduler,
		events:          deps.Events,
		notifier:        notifier,
		publisher:       deps.Publisher,
		logger:          logging.NewComponentLogger(logger, component),
		now:             time.Now,
		newSeed:         descriptor.NewSeed,
		pollInterval:    cfg.PollInterval(),
		maxWait:         cfg.MaxWait(),
		uploadSubfolder: cfg.Render.UploadSubfolder,
		jobs:            make(map[string]*jobEntry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) clock() time.Time {
	return o.now().UTC()
}

func (o *Orchestrator) register(j *job.Job) *jobEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := &jobEntry{job: j}
	o.jobs[j.ID] = entry
	return entry
}

func (o *Orchestrator) lookup(id string) (*jobEntry, error) {
	o.mu.RLock()
	entry, ok := o.jobs[id]
	o.mu.RUnlock()
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, component, "lookup", fmt.Sprintf("job %q not found", id), nil)
	}
	return entry, nil
}

func (o *Orchestrator) jobLogger(ctx context.Context, j *job.Job, stage *job.Stage) (context.Context, *slog.Logger) {
	ctx = services.WithJobID(ctx, j.ID)
	if stage != nil {
		ctx = services.WithStageIndex(ctx, stage.Index, stage.RetryCount)
	}
	return ctx, logging.WithContext(ctx, o.logger)
}

// persist writes the snapshot, refreshes the index and emits events. The
// snapshot write ignores caller cancellation so a transition is never lost
// during shutdown.
func (o *Orchestrator) persist(ctx context.Context, j *job.Job, evts ...events.Event) error {
	j.Touch(o.clock())
	writeCtx := context.WithoutCancel(ctx)
	if err := o.store.Save(writeCtx, j); err != nil {
		_, logger := o.jobLogger(ctx, j, nil)
		logging.ErrorWithContext(logger, "job snapshot write failed", "snapshot_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the output directory"),
		)
		return err
	}
	if o.index != nil {
		if err := o.index.Upsert(writeCtx, j); err != nil {
			_, logger := o.jobLogger(ctx, j, nil)
			logging.WarnWithContext(logger, "job index update failed", "index_update_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the index is rebuilt from snapshots on restart"),
				logging.String(logging.FieldImpact, "job listing may be stale"),
			)
		}
	}
	if o.events != nil {
		for _, evt := range evts {
			evt.JobID = j.ID
			evt.JobName = j.Name
			evt.Phase = j.Phase()
			o.events.Publish(evt)
		}
	}
	return nil
}

func stageEvent(t events.Type, s *job.Stage, message string) events.Event {
	index := s.Index
	return events.Event{
		Type:        t,
		StageIndex:  &index,
		Attempt:     s.RetryCount,
		StageStatus: string(s.Status),
		Message:     message,
	}
}

func (o *Orchestrator) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := o.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logger := logging.WithContext(ctx, o.logger)
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not send notification")
			return
		}
		logger.Debug("notification failed", logging.String("notification", string(event)), logging.Error(err))
	}
}

func (o *Orchestrator) schedule(ctx context.Context, j *job.Job, delay time.Duration, task func(context.Context, string)) {
	id := j.ID
	if err := o.scheduler.Schedule(id, delay, func(taskCtx context.Context) { task(taskCtx, id) }); err != nil {
		_, logger := o.jobLogger(ctx, j, nil)
		logging.WarnWithContext(logger, "could not schedule job task", "schedule_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the task resumes when the daemon restarts"),
			logging.String(logging.FieldImpact, "job waits until restart"),
		)
	}
}

func conflict(op, format string, args ...any) error {
	return services.Wrap(services.ErrConflict, component, op, fmt.Sprintf(format, args...), nil)
}
