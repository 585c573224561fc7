package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reelchain/internal/logging"
)

func startScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	s := New(workers, logging.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduleRunsTask(t *testing.T) {
	s := startScheduler(t, 2)
	done := make(chan struct{})
	if err := s.Schedule("job-1", 10*time.Millisecond, func(context.Context) { close(done) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	waitFor(t, func() bool { return s.Stats().Completed == 1 })
}

func TestScheduleReplacesPendingTask(t *testing.T) {
	s := startScheduler(t, 1)
	var first, second atomic.Int32
	_ = s.Schedule("job-1", 200*time.Millisecond, func(context.Context) { first.Add(1) })
	_ = s.Schedule("job-1", 10*time.Millisecond, func(context.Context) { second.Add(1) })

	waitFor(t, func() bool { return second.Load() == 1 })
	time.Sleep(300 * time.Millisecond)
	if first.Load() != 0 {
		t.Fatal("replaced task still ran")
	}
}

func TestCancelDropsPendingTask(t *testing.T) {
	s := startScheduler(t, 1)
	var ran atomic.Bool
	_ = s.Schedule("job-1", 100*time.Millisecond, func(context.Context) { ran.Store(true) })
	if !s.Pending("job-1") {
		t.Fatal("task should be pending")
	}
	if !s.Cancel("job-1") {
		t.Fatal("cancel reported nothing pending")
	}
	if s.Cancel("job-1") {
		t.Fatal("second cancel should report nothing pending")
	}
	time.Sleep(200 * time.Millisecond)
	if ran.Load() {
		t.Fatal("cancelled task ran")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	s := startScheduler(t, 1)
	_ = s.Schedule("bad", 0, func(context.Context) { panic("boom") })
	waitFor(t, func() bool { return s.Stats().Panics == 1 })

	done := make(chan struct{})
	_ = s.Schedule("good", 0, func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestWorkersBoundConcurrency(t *testing.T) {
	s := startScheduler(t, 2)
	var current, peak atomic.Int32
	var wg sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < 5; i++ {
		wg.Add(1)
		key := string(rune('a' + i))
		_ = s.Schedule(key, 0, func(context.Context) {
			defer wg.Done()
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			current.Add(-1)
		})
	}
	waitFor(t, func() bool { return s.Stats().Active == 2 })
	close(release)
	wg.Wait()
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds workers", peak.Load())
	}
}

func TestStopCancelsRunningTaskAndRejectsNewWork(t *testing.T) {
	s := New(1, logging.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	started := make(chan struct{})
	cancelled := make(chan struct{})
	_ = s.Schedule("long", 0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	_ = s.Schedule("later", time.Hour, func(context.Context) {})
	<-started
	s.Stop()

	select {
	case <-cancelled:
	default:
		t.Fatal("running task context not cancelled by Stop")
	}
	if s.Stats().Pending != 0 {
		t.Fatal("pending tasks survived Stop")
	}
	if err := s.Schedule("x", 0, func(context.Context) {}); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}
