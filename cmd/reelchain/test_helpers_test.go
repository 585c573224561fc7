package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelchain/internal/config"
	"reelchain/internal/daemonrun"
	"reelchain/internal/logging"
	"reelchain/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	stack      *daemonrun.Stack
	configPath string
	baseDir    string
	uploads    chan struct{}
}

// newRenderStub answers the ComfyUI endpoints the daemon probes and rejects
// image uploads so submitted stages fail fast.
func newRenderStub(t *testing.T, uploads chan<- struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/system_stats":
			_, _ = w.Write([]byte(`{"system":{}}`))
		case "/queue":
			_, _ = w.Write([]byte(`{"queue_running":[],"queue_pending":[[1]]}`))
		case "/models/loras":
			_, _ = w.Write([]byte(`["wan_motion_low.safetensors","wan_motion_high.safetensors"]`))
		case "/upload/image":
			select {
			case uploads <- struct{}{}:
			default:
			}
			http.Error(w, "invalid image", http.StatusBadRequest)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	uploads := make(chan struct{}, 16)
	render := newRenderStub(t, uploads)
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries(), testsupport.WithRenderURL(render.URL))

	stack, err := daemonrun.Build(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemonrun.Build: %v", err)
	}
	t.Cleanup(func() { _ = stack.Close() })
	if err := stack.Daemon.Start(context.Background()); err != nil {
		t.Fatalf("daemon start: %v", err)
	}

	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg, stack.Daemon.Addr())

	return &cliTestEnv{
		cfg:        cfg,
		stack:      stack,
		configPath: configPath,
		baseDir:    base,
		uploads:    uploads,
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func runCLIJSON(t *testing.T, args []string, configPath string, out any) {
	t.Helper()
	stdout, _, err := runCLI(t, append(args, "--json"), configPath)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	if err := json.Unmarshal([]byte(stdout), out); err != nil {
		t.Fatalf("decode %v output: %v\n%s", args, err, stdout)
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config, apiBind string) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\noutput_dir = %q\nstate_dir = %q\napi_bind = %q\n\n[render]\nurl = %q\n",
		cfg.Paths.OutputDir,
		cfg.Paths.StateDir,
		apiBind,
		cfg.Render.URL,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// closedAddress returns a loopback address nothing listens on.
func closedAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()
	return addr
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
