package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reelchain/internal/assembler"
	"reelchain/internal/config"
	"reelchain/internal/descriptor"
	"reelchain/internal/events"
	"reelchain/internal/job"
	"reelchain/internal/notifications"
	"reelchain/internal/queue"
	"reelchain/internal/scheduler"
	"reelchain/internal/services/comfyui"
	"reelchain/internal/testsupport"
)

type fakeRenderer struct {
	mu         sync.Mutex
	nextHandle int
	uploads    []string
	submitted  []descriptor.Descriptor
	polls      map[string]int
	forgotten  []string
	submitErr  error
	pollFn     func(handle string, n int) comfyui.PollResult
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{polls: make(map[string]int)}
}

func succeeded(handle string) comfyui.PollResult {
	return comfyui.PollResult{
		State:     comfyui.StateSucceeded,
		Artifacts: []comfyui.ArtifactRef{{NodeID: "15", Filename: handle + ".mp4", Subfolder: "video", Type: "output"}},
	}
}

func pendingForever(string, int) comfyui.PollResult {
	return comfyui.PollResult{State: comfyui.StatePending}
}

func (r *fakeRenderer) UploadImage(_ context.Context, imagePath, remoteName, subfolder string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, imagePath)
	if subfolder != "" {
		return subfolder + "/" + remoteName, nil
	}
	return remoteName, nil
}

func (r *fakeRenderer) Submit(_ context.Context, d descriptor.Descriptor) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitErr != nil {
		return "", r.submitErr
	}
	r.nextHandle++
	r.submitted = append(r.submitted, d)
	return fmt.Sprintf("render-%d", r.nextHandle), nil
}

func (r *fakeRenderer) Poll(_ context.Context, handle string) (comfyui.PollResult, error) {
	r.mu.Lock()
	r.polls[handle]++
	n := r.polls[handle]
	fn := r.pollFn
	r.mu.Unlock()
	if fn == nil {
		return succeeded(handle), nil
	}
	return fn(handle, n), nil
}

func (r *fakeRenderer) Fetch(_ context.Context, ref comfyui.ArtifactRef, dest string) error {
	return os.WriteFile(dest, []byte("video "+ref.Filename), 0o644)
}

func (r *fakeRenderer) Forget(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgotten = append(r.forgotten, handle)
}

func (r *fakeRenderer) setPoll(fn func(string, int) comfyui.PollResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollFn = fn
}

func (r *fakeRenderer) setSubmitErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitErr = err
}

func (r *fakeRenderer) submissions() []descriptor.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]descriptor.Descriptor(nil), r.submitted...)
}

func (r *fakeRenderer) uploaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.uploads...)
}

func (r *fakeRenderer) pollCount(handle string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls[handle]
}

func (r *fakeRenderer) wasForgotten(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.forgotten {
		if h == handle {
			return true
		}
	}
	return false
}

type fakeFrames struct {
	err atomic.Value
}

func (f *fakeFrames) ExtractLastFrame(_ context.Context, segmentPath, imagePath string) error {
	if err, ok := f.err.Load().(error); ok && err != nil {
		return err
	}
	return os.WriteFile(imagePath, []byte("frame of "+filepath.Base(segmentPath)), 0o644)
}

type fakeAssembler struct {
	mu    sync.Mutex
	calls [][]string
	fn    func(segments []string, output string) (assembler.Result, error)
}

func (a *fakeAssembler) Assemble(_ context.Context, segments []string, output string) (assembler.Result, error) {
	a.mu.Lock()
	a.calls = append(a.calls, append([]string(nil), segments...))
	fn := a.fn
	a.mu.Unlock()
	if fn != nil {
		return fn(segments, output)
	}
	if err := os.WriteFile(output, []byte("final"), 0o644); err != nil {
		return assembler.Result{}, err
	}
	return assembler.Result{Path: output, Strategy: assembler.StrategyCopy, Segments: len(segments), DurationSeconds: 5}, nil
}

func (a *fakeAssembler) setFn(fn func([]string, string) (assembler.Result, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fn = fn
}

func (a *fakeAssembler) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e == event {
			total++
		}
	}
	return total
}

type fakePublisher struct {
	err error
}

func (p fakePublisher) Publish(_ context.Context, jobID, localPath string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "https://media.example/jobs/" + jobID + "/" + filepath.Base(localPath), nil
}

type harness struct {
	cfg       *config.Config
	orch      *Orchestrator
	store     *job.SnapshotStore
	index     *queue.Store
	sched     *scheduler.Scheduler
	bus       *events.Bus
	renderer  *fakeRenderer
	frames    *fakeFrames
	assembler *fakeAssembler
	notifier  *recordingNotifier
}

type harnessOption func(*Dependencies, *[]Option)

func withPublisher(p Publisher) harnessOption {
	return func(d *Dependencies, _ *[]Option) { d.Publisher = p }
}

func withAssembler(a Assembler) harnessOption {
	return func(d *Dependencies, _ *[]Option) { d.Assembler = a }
}

func withMaxWait(d time.Duration) harnessOption {
	return func(_ *Dependencies, opts *[]Option) { *opts = append(*opts, WithMaxWait(d)) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	return newHarnessWithConfig(t, testsupport.NewConfig(t), opts...)
}

func newHarnessWithConfig(t *testing.T, cfg *config.Config, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		cfg:       cfg,
		store:     job.NewSnapshotStore(cfg.Paths.OutputDir),
		index:     testsupport.MustOpenStore(t, cfg),
		sched:     scheduler.New(2, nil),
		bus:       events.NewBus(512),
		renderer:  newFakeRenderer(),
		frames:    &fakeFrames{},
		assembler: &fakeAssembler{},
		notifier:  &recordingNotifier{},
	}
	if err := h.sched.Start(context.Background()); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	t.Cleanup(h.sched.Stop)

	deps := Dependencies{
		Store:     h.store,
		Index:     h.index,
		Renderer:  h.renderer,
		Frames:    h.frames,
		Assembler: h.assembler,
		Scheduler: h.sched,
		Events:    h.bus,
		Notifier:  h.notifier,
	}
	var seed atomic.Int64
	orchOpts := []Option{
		WithPollInterval(5 * time.Millisecond),
		WithMaxWait(time.Minute),
		WithSeedSource(func() int64 { return seed.Add(1) }),
	}
	for _, opt := range opts {
		opt(&deps, &orchOpts)
	}
	orch, err := New(cfg, deps, orchOpts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) create(t *testing.T, stages int) *job.Job {
	t.Helper()
	start := filepath.Join(t.TempDir(), "start.png")
	testsupport.WritePNG(t, start)
	j, err := h.orch.CreateJob(context.Background(), CreateRequest{
		Name:       "Sunset Walk",
		Prompt:     "a woman walks along the beach at sunset",
		StartImage: start,
		Stages:     stages,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func (h *harness) waitFor(t *testing.T, id, desc string, cond func(*job.Job) bool) *job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		j, err := h.orch.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if cond(j) {
			return j
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; phase=%s stages=%+v", desc, j.Phase(), j.Stages)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) waitReview(t *testing.T, id string, index, retry int) *job.Job {
	t.Helper()
	return h.waitFor(t, id, fmt.Sprintf("stage %d attempt %d ready", index, retry), func(j *job.Job) bool {
		latest := j.Latest()
		return j.Status == job.StatusAwaitingReview && latest != nil &&
			latest.Index == index && latest.RetryCount == retry && latest.Status == job.StageSucceeded
	})
}

func (h *harness) waitStage(t *testing.T, id string, status job.StageStatus) *job.Job {
	t.Helper()
	return h.waitFor(t, id, "latest stage "+string(status), func(j *job.Job) bool {
		latest := j.Latest()
		return latest != nil && latest.Status == status
	})
}

func (h *harness) eventTypes(jobID string) []events.Type {
	var out []events.Type
	for _, evt := range h.bus.Tail(jobID, 0) {
		out = append(out, evt.Type)
	}
	return out
}

func hasEvent(types []events.Type, want events.Type) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func seedOf(t *testing.T, d descriptor.Descriptor) int64 {
	t.Helper()
	seed, ok := d[descriptor.NodeFirstPass].Inputs["noise_seed"].(int64)
	if !ok {
		t.Fatalf("descriptor has no int64 noise_seed: %#v", d[descriptor.NodeFirstPass].Inputs)
	}
	return seed
}

var errBoom = errors.New("boom")
