// Package daemonrun assembles the reelchain daemon from configuration and
// runs it until the process receives SIGINT or SIGTERM.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"reelchain/internal/assembler"
	"reelchain/internal/config"
	"reelchain/internal/daemon"
	"reelchain/internal/events"
	"reelchain/internal/job"
	"reelchain/internal/logging"
	"reelchain/internal/media/frames"
	"reelchain/internal/notifications"
	"reelchain/internal/orchestrator"
	"reelchain/internal/publish"
	"reelchain/internal/queue"
	"reelchain/internal/scheduler"
	"reelchain/internal/services/comfyui"
)

const eventBufferSize = 4096

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the reelchain daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if opts.Development {
		logger = logger.With(logging.Bool("development", true))
	}

	logDependencySnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.StateDir, "reelchaind.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	stack, err := Build(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("daemon assembly failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_build_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and state directory access"),
		)
		return err
	}
	defer stack.Close()

	if err := stack.Daemon.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check that no other reelchaind is running and api_bind is free"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("reelchain daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// Stack is a fully wired daemon and the resources it owns.
type Stack struct {
	Daemon       *daemon.Daemon
	Orchestrator *orchestrator.Orchestrator
	Bus          *events.Bus
	Index        *queue.Store

	redis *events.RedisPublisher
}

// Close stops the daemon and releases its resources.
func (s *Stack) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.Daemon != nil {
		errs = append(errs, s.Daemon.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.Index != nil {
		errs = append(errs, s.Index.Close())
	}
	return errors.Join(errs...)
}

// Build wires the job index, render client, media tools, event sinks,
// notifier and publisher into an orchestrator and daemon.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	index, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job index: %w", err)
	}
	stack := &Stack{Index: index}

	render, err := comfyui.New(cfg.Render.URL,
		comfyui.WithRequestTimeout(cfg.RenderRequestTimeout()),
		comfyui.WithTransferTimeout(cfg.RenderTransferTimeout()),
		comfyui.WithMaxConsecutiveFailures(cfg.Render.MaxConsecutiveFailures),
	)
	if err != nil {
		_ = stack.Close()
		return nil, fmt.Errorf("render client: %w", err)
	}

	stack.Bus = events.NewBus(eventBufferSize)
	hub := events.NewHub(stack.Bus, logger)
	redisSink, err := events.NewRedisPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Warn("redis event publisher disabled",
			logging.Error(err),
			logging.String(logging.FieldEventType, "event_publisher_unavailable"),
			logging.String(logging.FieldErrorHint, "check events.redis_addr or unset it"),
			logging.String(logging.FieldImpact, "events are only streamed over the daemon websocket"),
		)
	} else if redisSink != nil {
		stack.Bus.AddSink(redisSink)
		stack.redis = redisSink
	}

	sched := scheduler.New(cfg.Workflow.SchedulerWorkers, logger)
	deps := orchestrator.Dependencies{
		Store:    job.NewSnapshotStore(cfg.Paths.OutputDir),
		Index:    index,
		Renderer: render,
		Frames:   frames.New(cfg.FFmpegBinary(), cfg.FFprobeBinary(), frames.WithTimeout(cfg.FrameTimeout())),
		Assembler: assembler.New(assembler.Options{
			FFmpegBinary:    cfg.FFmpegBinary(),
			FFprobeBinary:   cfg.FFprobeBinary(),
			FPS:             cfg.Generation.FPS,
			CRF:             cfg.Assembly.CRF,
			Preset:          cfg.Assembly.Preset,
			CopyTimeout:     cfg.CopyTimeout(),
			ReencodeTimeout: cfg.ReencodeTimeout(),
			ProbeTimeout:    cfg.ProbeTimeout(),
		}, assembler.WithLogger(logger)),
		Scheduler: sched,
		Events:    stack.Bus,
		Notifier:  notifications.NewService(cfg),
		Logger:    logger,
	}
	uploader, err := publish.New(cfg)
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	if uploader != nil {
		deps.Publisher = uploader
	}

	orch, err := orchestrator.New(cfg, deps)
	if err != nil {
		_ = stack.Close()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	stack.Orchestrator = orch

	d, err := daemon.New(cfg, daemon.Dependencies{
		Jobs:      orch,
		Scheduler: sched,
		Render:    render,
		Stats:     index,
		Hub:       hub,
		Logger:    logger,
	})
	if err != nil {
		_ = stack.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	stack.Daemon = d
	return stack, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	ffmpeg := cfg.FFmpegBinary()
	ffprobe := cfg.FFprobeBinary()
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("render_url", cfg.Render.URL),
		logging.Bool("ffmpeg_available", binaryAvailable(ffmpeg)),
		logging.String("ffmpeg_binary", ffmpeg),
		logging.Bool("ffprobe_available", binaryAvailable(ffprobe)),
		logging.String("ffprobe_binary", ffprobe),
		logging.Bool("ntfy_enabled", cfg.Notifications.NtfyTopic != ""),
		logging.Bool("redis_events_enabled", cfg.Events.RedisAddr != ""),
		logging.Bool("publish_enabled", cfg.Publish.Enabled),
		logging.Bool("api_token_set", cfg.Paths.APIToken != ""),
	)
}

func binaryAvailable(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
