package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"reelchain/internal/logging"
)

// ErrStopped is returned when scheduling on a scheduler that is not running.
var ErrStopped = errors.New("scheduler not running")

// Task is a unit of work. ctx is cancelled when the scheduler stops.
type Task func(ctx context.Context)

type pending struct {
	seq   uint64
	timer *time.Timer
}

type dispatch struct {
	key string
	fn  Task
}

// Stats summarises scheduler activity.
type Stats struct {
	Running   bool   `json:"running"`
	Workers   int    `json:"workers"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Completed uint64 `json:"completed"`
	Panics    uint64 `json:"panics"`
}

// Scheduler dispatches delayed keyed tasks to a fixed set of workers.
type Scheduler struct {
	workers int
	logger  *slog.Logger

	mu        sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	ready     chan dispatch
	pending   map[string]pending
	seq       uint64
	active    int
	completed uint64
	panics    uint64
}

// New constructs a scheduler with the given worker count.
func New(workers int, logger *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		workers: workers,
		logger:  logger.With(logging.String(logging.FieldComponent, "scheduler")),
		pending: make(map[string]pending),
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.ready = make(chan dispatch)
	s.running = true
	s.wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go s.worker(s.ctx, s.ready)
	}
	return nil
}

// Stop drops pending tasks, cancels running ones and waits for workers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	for key, entry := range s.pending {
		entry.timer.Stop()
		delete(s.pending, key)
	}
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Schedule runs fn after delay under key, replacing any pending task for key.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn Task) error {
	if fn == nil {
		return fmt.Errorf("schedule %s: nil task", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrStopped
	}
	if existing, ok := s.pending[key]; ok {
		existing.timer.Stop()
	}
	s.seq++
	seq := s.seq
	ctx, ready := s.ctx, s.ready
	timer := time.AfterFunc(max(delay, 0), func() {
		s.fire(ctx, ready, key, seq, fn)
	})
	s.pending[key] = pending{seq: seq, timer: timer}
	return nil
}

// Cancel drops the pending task for key. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.pending, key)
	return true
}

// Pending reports whether a task is waiting for key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:   s.running,
		Workers:   s.workers,
		Pending:   len(s.pending),
		Active:    s.active,
		Completed: s.completed,
		Panics:    s.panics,
	}
}

func (s *Scheduler) fire(ctx context.Context, ready chan<- dispatch, key string, seq uint64, fn Task) {
	s.mu.Lock()
	entry, ok := s.pending[key]
	if !ok || entry.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()

	select {
	case ready <- dispatch{key: key, fn: fn}:
	case <-ctx.Done():
	}
}

func (s *Scheduler) worker(ctx context.Context, ready <-chan dispatch) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-ready:
			s.run(ctx, task)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, task dispatch) {
	s.mu.Lock()
	s.active++
	s.mu.Unlock()

	defer func() {
		recovered := recover()
		s.mu.Lock()
		s.active--
		s.completed++
		if recovered != nil {
			s.panics++
		}
		s.mu.Unlock()
		if recovered != nil {
			s.logger.Error("scheduled task panicked",
				logging.String("task_key", task.key),
				logging.Any("panic", recovered),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "task_panic"),
				logging.String(logging.FieldErrorHint, "inspect the stack trace; the job may need a manual decision"),
			)
		}
	}()

	task.fn(ctx)
}
