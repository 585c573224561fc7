package orchestrator

import (
	"context"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"

	"reelchain/internal/assembler"
	"reelchain/internal/job"
	"reelchain/internal/media/ffprobe"
)

// frameStubs stands in for ffmpeg and ffprobe. Rendered segments hold
// framesPerSegment frames; a concatenated file records the sum of its inputs
// as "frames:<n>".
type frameStubs struct {
	framesPerSegment int
	fps              int
}

func (s frameStubs) frames(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if n, ok := strings.CutPrefix(string(data), "frames:"); ok {
		return strconv.Atoi(n)
	}
	return s.framesPerSegment, nil
}

func (s frameStubs) probe(_ context.Context, _, path string) (ffprobe.Result, error) {
	n, err := s.frames(path)
	if err != nil {
		return ffprobe.Result{}, err
	}
	return ffprobe.Result{
		Streams: []ffprobe.Stream{{CodecType: "video", CodecName: "h264", Width: 640, Height: 640, PixFmt: "yuv420p"}},
		Format:  ffprobe.Format{Duration: strconv.FormatFloat(float64(n)/float64(s.fps), 'f', 6, 64)},
	}, nil
}

func (s frameStubs) run(_ context.Context, _ string, args ...string) error {
	if !slices.Contains(args, "concat") {
		return fmt.Errorf("unexpected ffmpeg invocation %v", args)
	}
	list, err := os.ReadFile(args[slices.Index(args, "-i")+1])
	if err != nil {
		return err
	}
	total := 0
	for _, line := range strings.Split(strings.TrimSpace(string(list)), "\n") {
		path := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		n, err := s.frames(path)
		if err != nil {
			return err
		}
		total += n
	}
	return os.WriteFile(args[len(args)-1], []byte("frames:"+strconv.Itoa(total)), 0o644)
}

func TestThreeSegmentsAssembleToFifteenSeconds(t *testing.T) {
	stubs := frameStubs{framesPerSegment: 81, fps: 16}
	concat := assembler.New(assembler.Options{FPS: stubs.fps},
		assembler.WithCommandRunner(stubs.run), assembler.WithProbe(stubs.probe))
	h := newHarness(t, withAssembler(concat))
	ctx := context.Background()

	created := h.create(t, 3)
	for index := range 3 {
		h.waitReview(t, created.ID, index, 0)
		if _, err := h.orch.Decide(ctx, created.ID, job.Decision{Action: job.ActionContinue}); err != nil {
			t.Fatalf("continue stage %d: %v", index+1, err)
		}
	}
	done := h.waitFor(t, created.ID, "completed", func(j *job.Job) bool {
		return j.Status == job.StatusCompleted && j.Assembly != nil
	})

	if got := len(done.Accepted()); got != 3 {
		t.Fatalf("expected 3 accepted stages, got %d", got)
	}
	if done.AssemblyError != nil || done.Assembly.Strategy != string(assembler.StrategyCopy) {
		t.Fatalf("unexpected assembly outcome: %+v err=%+v", done.Assembly, done.AssemblyError)
	}
	want := 3 * 81.0 / 16
	if diff := math.Abs(done.Assembly.DurationSeconds - want); diff > 1.0/16 {
		t.Fatalf("final duration %.4fs, want %.4fs within one frame", done.Assembly.DurationSeconds, want)
	}
	if _, err := os.Stat(done.FinalOutputPath); err != nil {
		t.Fatalf("final output missing: %v", err)
	}
}
