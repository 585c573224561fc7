package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"reelchain/internal/config"
	"reelchain/internal/deps"
	"reelchain/internal/services/comfyui"
)

const renderCheckTimeout = 5 * time.Second

// RenderProbe is the subset of the render client used for health checks.
type RenderProbe interface {
	HealthCheck(ctx context.Context) error
	QueueStatus(ctx context.Context) (comfyui.QueueStatus, error)
}

// RenderResult describes render service reachability and queue depth.
type RenderResult struct {
	URL       string
	Reachable bool
	Running   int
	Pending   int
	Detail    string
}

// Result folds the render check into a generic preflight result.
func (r RenderResult) Result() Result {
	return Result{Name: "Render service", Passed: r.Reachable, Detail: r.Detail}
}

// CheckRenderService verifies that the render service answers and reports
// its queue depth. A single attempt is made with a short timeout.
func CheckRenderService(ctx context.Context, url string, probe RenderProbe) RenderResult {
	result := RenderResult{URL: url}
	checkCtx, cancel := context.WithTimeout(ctx, renderCheckTimeout)
	defer cancel()

	if err := probe.HealthCheck(checkCtx); err != nil {
		result.Detail = summarizeRenderError(url, err)
		return result
	}
	result.Reachable = true
	queue, err := probe.QueueStatus(checkCtx)
	if err != nil {
		result.Detail = fmt.Sprintf("%s (reachable; queue unavailable: %v)", url, err)
		return result
	}
	result.Running = queue.Running
	result.Pending = queue.Pending
	result.Detail = fmt.Sprintf("%s (running %d, pending %d)", url, queue.Running, queue.Pending)
	return result
}

func summarizeRenderError(url string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s (health check timed out)", url)
	}
	return fmt.Sprintf("%s (unreachable: %v)", url, err)
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the binaries needed for frame extraction and
// assembly. Both the daemon and the CLI status command use this.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(ctx, []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Required for frame extraction and assembly",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Required for segment inspection",
		},
	})
}
