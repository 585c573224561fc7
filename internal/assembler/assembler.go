package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"reelchain/internal/logging"
	"reelchain/internal/media/ffprobe"
	"reelchain/internal/services"
)

const component = "assembler"

// Strategy names how the final file was produced.
type Strategy string

const (
	StrategyCopy     Strategy = "copy"
	StrategyReencode Strategy = "reencode"
)

// Result describes a successful assembly.
type Result struct {
	Path            string        `json:"path"`
	Strategy        Strategy      `json:"strategy"`
	Segments        int           `json:"segments"`
	DurationSeconds float64       `json:"duration_seconds"`
	CopyError       string        `json:"copy_error,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
}

// FellBack reports whether the re-encode path produced the output.
func (r Result) FellBack() bool {
	return r.Strategy == StrategyReencode
}

// Options configures encoder settings and timeouts.
type Options struct {
	FFmpegBinary    string
	FFprobeBinary   string
	FPS             int
	CRF             int
	Preset          string
	CopyTimeout     time.Duration
	ReencodeTimeout time.Duration
	ProbeTimeout    time.Duration
}

type commandRunner func(ctx context.Context, name string, args ...string) error

type probeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Assembler concatenates segment files with ffmpeg.
type Assembler struct {
	opts   Options
	run    commandRunner
	probe  probeFunc
	logger *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithCommandRunner replaces ffmpeg execution, primarily for tests.
func WithCommandRunner(run func(ctx context.Context, name string, args ...string) error) Option {
	return func(a *Assembler) {
		if run != nil {
			a.run = run
		}
	}
}

// WithProbe replaces ffprobe inspection, primarily for tests.
func WithProbe(probe func(ctx context.Context, binary, path string) (ffprobe.Result, error)) Option {
	return func(a *Assembler) {
		if probe != nil {
			a.probe = probe
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		a.logger = logging.NewComponentLogger(logger, component)
	}
}

// New builds an Assembler, filling unset options with defaults.
func New(opts Options, options ...Option) *Assembler {
	if strings.TrimSpace(opts.FFmpegBinary) == "" {
		opts.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(opts.FFprobeBinary) == "" {
		opts.FFprobeBinary = "ffprobe"
	}
	if opts.FPS <= 0 {
		opts.FPS = 16
	}
	if opts.CRF <= 0 {
		opts.CRF = 18
	}
	if strings.TrimSpace(opts.Preset) == "" {
		opts.Preset = "medium"
	}
	if opts.CopyTimeout <= 0 {
		opts.CopyTimeout = 300 * time.Second
	}
	if opts.ReencodeTimeout <= 0 {
		opts.ReencodeTimeout = 600 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 60 * time.Second
	}
	a := &Assembler{
		opts:   opts,
		run:    runCommand,
		probe:  ffprobe.Inspect,
		logger: logging.NewComponentLogger(nil, component),
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// Assemble concatenates segments, in order, into output. Failures of both the
// copy and re-encode paths are reported as services.ErrAssembly.
func (a *Assembler) Assemble(ctx context.Context, segments []string, output string) (Result, error) {
	start := time.Now()
	if len(segments) == 0 {
		return Result{}, services.Wrap(services.ErrAssembly, component, "validate", "no segments to assemble", nil)
	}
	abs := make([]string, 0, len(segments))
	for _, segment := range segments {
		path, err := filepath.Abs(segment)
		if err != nil {
			return Result{}, services.Wrap(services.ErrAssembly, component, "validate", segment, err)
		}
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			return Result{}, services.Wrap(services.ErrAssembly, component, "validate", "segment missing or empty: "+path, err)
		}
		abs = append(abs, path)
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrAssembly, component, "prepare", "create output directory", err)
	}

	copyErr := a.copyConcat(ctx, abs, output)
	if copyErr == nil {
		duration, err := a.validateOutput(ctx, output)
		if err == nil {
			return Result{Path: output, Strategy: StrategyCopy, Segments: len(abs), DurationSeconds: duration, Elapsed: time.Since(start)}, nil
		}
		copyErr = err
	}
	if ctx.Err() != nil {
		return Result{}, services.Wrap(services.ErrAssembly, component, "concat", "cancelled", ctx.Err())
	}

	logging.WarnWithContext(a.logger, "stream copy concat failed; re-encoding segments",
		"assembly_fallback",
		logging.Int("segments", len(abs)),
		logging.Error(copyErr),
		logging.String(logging.FieldErrorHint, "segments differ in codec or geometry, or ffmpeg rejected the copy"),
		logging.String(logging.FieldImpact, "assembly takes longer while segments are re-encoded"),
	)

	duration, err := a.reencodeConcat(ctx, abs, output)
	if err != nil {
		return Result{}, services.Wrap(services.ErrAssembly, component, "reencode concat",
			"copy failed ("+copyErr.Error()+") and re-encode failed", err)
	}
	return Result{
		Path:            output,
		Strategy:        StrategyReencode,
		Segments:        len(abs),
		DurationSeconds: duration,
		CopyError:       copyErr.Error(),
		Elapsed:         time.Since(start),
	}, nil
}

func (a *Assembler) copyConcat(ctx context.Context, segments []string, output string) error {
	if err := a.checkUniform(ctx, segments); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, a.opts.CopyTimeout)
	defer cancel()
	return a.concat(callCtx, segments, output)
}

// inspect runs ffprobe bounded by ProbeTimeout.
func (a *Assembler) inspect(ctx context.Context, path string) (ffprobe.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.opts.ProbeTimeout)
	defer cancel()
	result, err := a.probe(callCtx, a.opts.FFprobeBinary, path)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("ffprobe timed out after %s: %w", a.opts.ProbeTimeout, err)
	}
	return result, err
}

// checkUniform rejects segment sets that cannot be stream-copied together.
func (a *Assembler) checkUniform(ctx context.Context, segments []string) error {
	var first ffprobe.Signature
	for i, segment := range segments {
		result, err := a.inspect(ctx, segment)
		if err != nil {
			return fmt.Errorf("probe %s: %w", filepath.Base(segment), err)
		}
		sig, ok := result.VideoSignature()
		if !ok {
			return fmt.Errorf("segment %s has no video stream", filepath.Base(segment))
		}
		if i == 0 {
			first = sig
			continue
		}
		if sig != first {
			return fmt.Errorf("segment %s is %s, expected %s", filepath.Base(segment), sig, first)
		}
	}
	return nil
}

func (a *Assembler) reencodeConcat(ctx context.Context, segments []string, output string) (float64, error) {
	workDir, err := os.MkdirTemp(filepath.Dir(output), ".reencode-*")
	if err != nil {
		return 0, fmt.Errorf("create re-encode directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	normalized := make([]string, 0, len(segments))
	for i, segment := range segments {
		target := filepath.Join(workDir, fmt.Sprintf("norm_%03d.mp4", i+1))
		if err := a.reencode(ctx, segment, target); err != nil {
			return 0, fmt.Errorf("re-encode %s: %w", filepath.Base(segment), err)
		}
		normalized = append(normalized, target)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.opts.ReencodeTimeout)
	defer cancel()
	if err := a.concat(callCtx, normalized, output); err != nil {
		return 0, err
	}
	return a.validateOutput(ctx, output)
}

func (a *Assembler) reencode(ctx context.Context, input, output string) error {
	callCtx, cancel := context.WithTimeout(ctx, a.opts.ReencodeTimeout)
	defer cancel()
	return a.run(callCtx, a.opts.FFmpegBinary,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-an",
		"-r", strconv.Itoa(a.opts.FPS),
		"-c:v", "libx264",
		"-preset", a.opts.Preset,
		"-crf", strconv.Itoa(a.opts.CRF),
		"-pix_fmt", "yuv420p",
		output,
	)
}

// concat runs the concat demuxer with stream copy, writing beside output and
// renaming into place.
func (a *Assembler) concat(ctx context.Context, segments []string, output string) error {
	listPath, err := writeConcatList(filepath.Dir(output), segments)
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	partial := partialPath(output)
	defer os.Remove(partial)
	if err := a.run(ctx, a.opts.FFmpegBinary,
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		partial,
	); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ffmpeg concat timed out: %w", err)
		}
		return fmt.Errorf("ffmpeg concat: %w", err)
	}
	if err := os.Rename(partial, output); err != nil {
		return fmt.Errorf("finalize output: %w", err)
	}
	return nil
}

// validateOutput checks the assembled file exists, is non-empty, and probes
// with a positive duration.
func (a *Assembler) validateOutput(ctx context.Context, output string) (float64, error) {
	info, err := os.Stat(output)
	if err != nil {
		return 0, fmt.Errorf("output missing: %w", err)
	}
	if info.Size() == 0 {
		return 0, errors.New("output is empty")
	}
	result, err := a.inspect(ctx, output)
	if err != nil {
		return 0, fmt.Errorf("probe output: %w", err)
	}
	duration := result.DurationSeconds()
	if !(duration > 0) {
		return 0, fmt.Errorf("output duration %v is not positive", duration)
	}
	if result.VideoStreamCount() == 0 {
		return 0, errors.New("output has no video stream")
	}
	return duration, nil
}

// writeConcatList writes the concat demuxer input file using ConcatLine entries.
func writeConcatList(dir string, segments []string) (string, error) {
	file, err := os.CreateTemp(dir, ".concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	var b strings.Builder
	for _, segment := range segments {
		b.WriteString(ConcatLine(segment))
		b.WriteByte('\n')
	}
	if _, err := file.WriteString(b.String()); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", fmt.Errorf("write concat list: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("close concat list: %w", err)
	}
	return file.Name(), nil
}

// ConcatLine formats one concat demuxer entry.
func ConcatLine(path string) string {
	return "file '" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

func partialPath(output string) string {
	ext := filepath.Ext(output)
	base := strings.TrimSuffix(filepath.Base(output), ext)
	return filepath.Join(filepath.Dir(output), "."+base+".partial"+ext)
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
