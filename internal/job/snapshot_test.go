package job

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"reelchain/internal/services"
)

func TestSnapshotRoundTrip(t *testing.T) {
	store := NewSnapshotStore(t.TempDir())
	j := newTestJob(2)
	j.Dir = ""
	if err := store.Prepare(j); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	s0, _ := j.NewAttempt(0, "a woman walks", j.StartImagePath(), 42, testNow)
	succeed(t, j, s0)
	s1, _ := j.NewAttempt(1, "she turns", j.Stages[0].LastFramePath, 43, testNow)
	if err := s1.MarkSubmitted("prompt-xyz", "reelchain/frame_001.png", testNow); err != nil {
		t.Fatal(err)
	}
	if err := s1.MarkPolling(testNow); err != nil {
		t.Fatal(err)
	}
	j.Status = StatusRunning

	if err := store.Save(context.Background(), j); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(j.Dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(j, loaded) {
		t.Fatalf("round trip mismatch\nsaved:  %+v\nloaded: %+v", j, loaded)
	}
	if active := loaded.ActiveStage(); active == nil || active.Handle != "prompt-xyz" {
		t.Fatalf("active stage after reload = %+v", active)
	}
}

func TestSnapshotUsesDocumentedKeys(t *testing.T) {
	store := NewSnapshotStore(t.TempDir())
	j := newTestJob(1)
	j.Dir = ""
	if err := store.Prepare(j); err != nil {
		t.Fatal(err)
	}
	_, _ = j.NewAttempt(0, "a", j.StartImagePath(), 1, testNow)
	if err := store.Save(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(j.SnapshotPath())
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["version"] != float64(1) {
		t.Fatalf("version = %v", doc["version"])
	}
	stages := doc["stages"].([]any)
	stage := stages[0].(map[string]any)
	for _, key := range []string{"index", "prompt", "start_image_ref", "status", "retry_count"} {
		if _, ok := stage[key]; !ok {
			t.Errorf("stage snapshot missing %q", key)
		}
	}
	if _, ok := stage["render_job_handle"]; ok {
		t.Error("pending stage should not carry a render handle")
	}
}

func TestLoadAllSkipsAndReportsBadSnapshots(t *testing.T) {
	root := t.TempDir()
	store := NewSnapshotStore(root)

	good := newTestJob(1)
	good.Dir = ""
	if err := store.Prepare(good); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(context.Background(), good); err != nil {
		t.Fatal(err)
	}

	bad := filepath.Join(root, "broken_20260101_000000")
	if err := os.MkdirAll(bad, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bad, SnapshotFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "stray"), 0o755); err != nil {
		t.Fatal(err)
	}

	jobs, failures, err := store.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != good.ID {
		t.Fatalf("jobs = %+v", jobs)
	}
	if len(failures) != 1 || failures[0].Dir != bad || !errors.Is(failures[0].Err, services.ErrDecode) {
		t.Fatalf("failures = %+v", failures)
	}
}

func TestLoadMissing(t *testing.T) {
	store := NewSnapshotStore(t.TempDir())
	if _, err := store.Load(filepath.Join(store.Root, "nope")); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	jobs, failures, err := NewSnapshotStore(filepath.Join(store.Root, "absent")).LoadAll()
	if err != nil || jobs != nil || failures != nil {
		t.Fatalf("LoadAll on missing root = %v %v %v", jobs, failures, err)
	}
}
