package main

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"reelchain/internal/api"
	"reelchain/internal/events"
	"reelchain/internal/testsupport"
)

var createdPattern = regexp.MustCompile(`Created job (\S+)`)

func TestConfigInitAndValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected existing config error, got %v", err)
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestPlanWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg, closedAddress(t))

	out, _, err := runCLI(t, []string{"plan", "15"}, configPath)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	requireContains(t, out, "Estimated render time")
	requireContains(t, out, "Target 15s")

	if _, _, err := runCLI(t, []string{"plan", "zero"}, configPath); err == nil {
		t.Fatal("expected error for non-numeric duration")
	}
}

func TestJobCommandsRequireDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg, closedAddress(t))

	_, _, err := runCLI(t, []string{"job", "list"}, configPath)
	if err == nil || !strings.Contains(err.Error(), "reelchain daemon") {
		t.Fatalf("expected daemon hint, got %v", err)
	}
}

func TestJobLifecycleCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	image := filepath.Join(env.baseDir, "start.png")
	testsupport.WritePNG(t, image)

	out, _, err := runCLI(t, []string{"job", "create", "--name", "beach", "--prompt", "waves roll in", "--image", image, "--stages", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("job create: %v", err)
	}
	match := createdPattern.FindStringSubmatch(out)
	if match == nil {
		t.Fatalf("no job id in output: %q", out)
	}
	id := match[1]
	requireContains(t, out, "Planned stages: 2")

	out, _, err = runCLI(t, []string{"job", "watch", id, "--until-review"}, env.configPath)
	if err != nil {
		t.Fatalf("job watch: %v", err)
	}
	requireContains(t, out, "Job Created")
	requireContains(t, out, "Stage Failed")

	out, _, err = runCLI(t, []string{"job", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("job list: %v", err)
	}
	requireContains(t, out, "beach")
	requireContains(t, out, id[:8])

	out, _, err = runCLI(t, []string{"job", "show", id}, env.configPath)
	if err != nil {
		t.Fatalf("job show: %v", err)
	}
	requireContains(t, out, "Job beach")
	requireContains(t, out, "service_rejected")

	out, _, err = runCLI(t, []string{"job", "regenerate", id, "--prompt", "waves crash"}, env.configPath)
	if err != nil {
		t.Fatalf("job regenerate: %v", err)
	}
	requireContains(t, out, "Next:")

	waitFor(t, 5*time.Second, func() bool {
		var j api.Job
		runCLIJSON(t, []string{"job", "show", id}, env.configPath, &j)
		return len(j.Stages) == 2 && j.Stages[1].Status == "failed"
	})

	var shown api.Job
	runCLIJSON(t, []string{"job", "show", id}, env.configPath, &shown)
	if shown.Stages[0].Status != "superseded" || shown.Stages[1].Prompt != "waves crash" {
		t.Fatalf("unexpected attempt log: %+v", shown.Stages)
	}

	_, _, err = runCLI(t, []string{"job", "continue", id}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "conflict") {
		t.Fatalf("expected conflict continuing a failed stage, got %v", err)
	}

	out, _, err = runCLI(t, []string{"job", "abandon", id}, env.configPath)
	if err != nil {
		t.Fatalf("job abandon: %v", err)
	}
	requireContains(t, out, "Failed")

	var failed []api.JobSummary
	runCLIJSON(t, []string{"job", "list", "--status", "failed"}, env.configPath, &failed)
	if len(failed) != 1 || failed[0].ID != id {
		t.Fatalf("expected failed job in filtered list, got %+v", failed)
	}

	_, _, err = runCLI(t, []string{"job", "show", "missing"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "not_found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoRAsAndStatusCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"loras"}, env.configPath)
	if err != nil {
		t.Fatalf("loras: %v", err)
	}
	high := strings.Index(out, "wan_motion_high")
	low := strings.Index(out, "wan_motion_low")
	if high < 0 || low < 0 || high > low {
		t.Fatalf("expected sorted lora list, got %q", out)
	}

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "PID")
	requireContains(t, out, "pending 1")
	requireContains(t, out, "FFmpeg")

	var status api.DaemonStatus
	runCLIJSON(t, []string{"status"}, env.configPath, &status)
	if !status.Running || !status.Render.Reachable || status.Render.Pending != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestWatchFinished(t *testing.T) {
	cases := []struct {
		typ         events.Type
		untilReview bool
		want        bool
	}{
		{events.JobCompleted, false, true},
		{events.JobFailed, false, true},
		{events.AssemblyFailed, false, true},
		{events.JobAwaitingReview, false, false},
		{events.JobAwaitingReview, true, true},
		{events.StageFailed, true, true},
		{events.StageSubmitted, true, false},
	}
	for _, tc := range cases {
		if got := watchFinished(events.Event{Type: tc.typ}, tc.untilReview); got != tc.want {
			t.Errorf("watchFinished(%s, %v) = %v, want %v", tc.typ, tc.untilReview, got, tc.want)
		}
	}
}

func TestHumanLabel(t *testing.T) {
	if got := humanLabel("awaiting_review"); got != "Awaiting Review" {
		t.Fatalf("humanLabel = %q", got)
	}
	if got := humanLabel(""); got != "-" {
		t.Fatalf("humanLabel empty = %q", got)
	}
}
