package frames

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"reelchain/internal/media/ffprobe"
	"reelchain/internal/services"
)

const component = "frame extractor"

// seekFromEnd is how far before the end decoding starts. Every decoded frame
// overwrites the output image, so the last one written is the final frame.
const seekFromEnd = "-3"

// defaultTimeout bounds each ffprobe and ffmpeg invocation.
const defaultTimeout = 2 * time.Minute

type commandRunner func(ctx context.Context, name string, args ...string) error

type frameCounter func(ctx context.Context, binary, path string) (int, error)

// Extractor writes the last frame of a video file as a PNG image.
type Extractor struct {
	ffmpeg  string
	ffprobe string
	run     commandRunner
	count   frameCounter
	timeout time.Duration
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCommandRunner replaces ffmpeg execution, primarily for tests.
func WithCommandRunner(run func(ctx context.Context, name string, args ...string) error) Option {
	return func(e *Extractor) {
		if run != nil {
			e.run = run
		}
	}
}

// WithFrameCounter replaces the ffprobe frame count, primarily for tests.
func WithFrameCounter(count func(ctx context.Context, binary, path string) (int, error)) Option {
	return func(e *Extractor) {
		if count != nil {
			e.count = count
		}
	}
}

// WithTimeout bounds the frame count and the ffmpeg extraction separately.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New builds an Extractor using the given ffmpeg and ffprobe binaries.
func New(ffmpegBinary, ffprobeBinary string, opts ...Option) *Extractor {
	e := &Extractor{
		ffmpeg:  strings.TrimSpace(ffmpegBinary),
		ffprobe: strings.TrimSpace(ffprobeBinary),
		run:     runCommand,
		count:   ffprobe.CountFrames,
		timeout: defaultTimeout,
	}
	if e.ffmpeg == "" {
		e.ffmpeg = "ffmpeg"
	}
	if e.ffprobe == "" {
		e.ffprobe = "ffprobe"
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractLastFrame writes the final decodable frame of segmentPath to
// imagePath. Unreadable input or a video with zero frames fails with
// services.ErrDecode; imagePath is only created on success.
func (e *Extractor) ExtractLastFrame(ctx context.Context, segmentPath, imagePath string) error {
	info, err := os.Stat(segmentPath)
	if err != nil {
		return services.Wrap(services.ErrDecode, component, "stat segment", segmentPath, err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrDecode, component, "stat segment", "segment is empty", nil)
	}

	countCtx, cancelCount := context.WithTimeout(ctx, e.timeout)
	frames, err := e.count(countCtx, e.ffprobe, segmentPath)
	timedOut := errors.Is(countCtx.Err(), context.DeadlineExceeded)
	cancelCount()
	if err != nil {
		return e.failure("count frames", segmentPath, timedOut, err)
	}
	if frames <= 0 {
		return services.Wrap(services.ErrDecode, component, "count frames", "video has no decodable frames", nil)
	}

	dir := filepath.Dir(imagePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create frame directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".frame-*.png")
	if err != nil {
		return fmt.Errorf("create temp frame: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-sseof", seekFromEnd,
		"-i", segmentPath,
		"-an",
		"-update", "1",
		"-q:v", "1",
		tmpPath,
	}
	runCtx, cancelRun := context.WithTimeout(ctx, e.timeout)
	err = e.run(runCtx, e.ffmpeg, args...)
	timedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancelRun()
	if err != nil {
		return e.failure("extract frame", segmentPath, timedOut, err)
	}

	written, err := os.Stat(tmpPath)
	if err != nil || written.Size() == 0 {
		return services.Wrap(services.ErrDecode, component, "extract frame", "no frame written", err)
	}
	if err := os.Rename(tmpPath, imagePath); err != nil {
		return fmt.Errorf("finalize frame: %w", err)
	}
	return nil
}

func (e *Extractor) failure(operation, segmentPath string, timedOut bool, err error) error {
	if timedOut {
		return services.Wrap(services.ErrTimeout, component, operation,
			fmt.Sprintf("%s: no result after %s", segmentPath, e.timeout), err)
	}
	return services.Wrap(services.ErrDecode, component, operation, segmentPath, err)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
