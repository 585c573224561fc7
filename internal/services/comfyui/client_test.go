package comfyui_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"reelchain/internal/descriptor"
	"reelchain/internal/services"
	"reelchain/internal/services/comfyui"
)

func newClient(t *testing.T, handler http.Handler, opts ...comfyui.Option) *comfyui.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := comfyui.New(server.URL, opts...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return client
}

func sampleDescriptor(t *testing.T) descriptor.Descriptor {
	t.Helper()
	d, err := descriptor.Build(descriptor.Params{
		PositivePrompt: "a fox running",
		NegativePrompt: "blurry",
		StartImage:     "start.png",
		Width:          640,
		Height:         640,
		Frames:         81,
		FPS:            16,
		OutputPrefix:   "video/wan_segment_001",
		Seed:           7,
	})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	return d
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := comfyui.New(""); err == nil {
		t.Fatal("expected error when url missing")
	}
	if _, err := comfyui.New("localhost"); err == nil {
		t.Fatal("expected error when scheme missing")
	}
}

func TestSubmitReturnsHandle(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/prompt" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if _, ok := body["prompt"]; !ok {
			t.Fatalf("expected prompt field, got %v", body)
		}
		_, _ = w.Write([]byte(`{"prompt_id":"abc-123","number":1,"node_errors":{}}`))
	}))

	handle, err := client.Submit(context.Background(), sampleDescriptor(t))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if handle != "abc-123" {
		t.Fatalf("unexpected handle %q", handle)
	}
}

func TestSubmitClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"bad request", http.StatusBadRequest, `{"error":{"message":"invalid prompt"}}`, services.ErrServiceRejected},
		{"server error", http.StatusInternalServerError, `boom`, services.ErrServiceUnreachable},
		{"missing id", http.StatusOK, `{}`, services.ErrServiceRejected},
		{"node errors", http.StatusOK, `{"prompt_id":"x","node_errors":{"9":{"errors":[]}}}`, services.ErrServiceRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			_, err := client.Submit(context.Background(), sampleDescriptor(t))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSubmitUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	client, err := comfyui.New(addr)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := client.Submit(context.Background(), sampleDescriptor(t)); !errors.Is(err, services.ErrServiceUnreachable) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}

func TestPollStates(t *testing.T) {
	cases := []struct {
		name string
		body string
		want comfyui.PollState
		kind services.Kind
	}{
		{"absent", `{}`, comfyui.StatePending, ""},
		{"running", `{"h":{"outputs":{},"status":{"status_str":"running","completed":false}}}`, comfyui.StatePending, ""},
		{"success", `{"h":{"outputs":{"15":{"images":[{"filename":"wan_segment_001_00001_.mp4","subfolder":"video","type":"output"}],"animated":[true]}},"status":{"status_str":"success","completed":true}}}`, comfyui.StateSucceeded, ""},
		{"error", `{"h":{"outputs":{},"status":{"status_str":"error","completed":false,"messages":[["execution_error",{"node_id":"11","node_type":"KSamplerAdvanced","exception_message":"CUDA out of memory"}]]}}}`, comfyui.StateFailed, services.KindServiceRejected},
		{"no video", `{"h":{"outputs":{"13":{"images":[{"filename":"frame.png"}]}},"status":{"status_str":"success","completed":true}}}`, comfyui.StateFailed, services.KindArtifactMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/history/h" {
					t.Fatalf("unexpected path %s", r.URL.Path)
				}
				_, _ = w.Write([]byte(tc.body))
			}))
			res, err := client.Poll(context.Background(), "h")
			if err != nil {
				t.Fatalf("Poll returned error: %v", err)
			}
			if res.State != tc.want {
				t.Fatalf("expected %s, got %s (err=%v)", tc.want, res.State, res.Err)
			}
			if tc.kind != "" && services.KindOf(res.Err) != tc.kind {
				t.Fatalf("expected kind %s, got %s (%v)", tc.kind, services.KindOf(res.Err), res.Err)
			}
		})
	}
}

func TestPollErrorIncludesRemoteMessage(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"h":{"outputs":{},"status":{"status_str":"error","messages":[["execution_start",{}],["execution_error",{"node_id":"11","node_type":"KSamplerAdvanced","exception_message":"CUDA out of memory"}]]}}}`))
	}))
	res, _ := client.Poll(context.Background(), "h")
	if res.Err == nil || !strings.Contains(res.Err.Error(), "CUDA out of memory") {
		t.Fatalf("expected remote message in error, got %v", res.Err)
	}
}

func TestPollEscalatesAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), comfyui.WithMaxConsecutiveFailures(2))

	for i := 1; i <= 2; i++ {
		res, err := client.Poll(context.Background(), "h")
		if err != nil {
			t.Fatalf("Poll returned error: %v", err)
		}
		if res.State != comfyui.StatePending || res.Transient == nil || res.ConsecutiveFailures != i {
			t.Fatalf("attempt %d: expected pending with transient error, got %+v", i, res)
		}
	}
	res, _ := client.Poll(context.Background(), "h")
	if res.State != comfyui.StateFailed || !errors.Is(res.Err, services.ErrServiceUnreachable) {
		t.Fatalf("expected escalation to unreachable failure, got %+v", res)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 history calls, got %d", calls.Load())
	}
}

func TestPollResetsFailureCountOnSuccess(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}), comfyui.WithMaxConsecutiveFailures(1))

	if res, _ := client.Poll(context.Background(), "h"); res.ConsecutiveFailures != 1 {
		t.Fatalf("expected one failure, got %+v", res)
	}
	fail.Store(false)
	if res, _ := client.Poll(context.Background(), "h"); res.State != comfyui.StatePending {
		t.Fatalf("expected pending, got %+v", res)
	}
	fail.Store(true)
	if res, _ := client.Poll(context.Background(), "h"); res.State != comfyui.StatePending || res.ConsecutiveFailures != 1 {
		t.Fatalf("expected counter reset, got %+v", res)
	}
}

func TestPollRequestTimeoutIsPending(t *testing.T) {
	release := make(chan struct{})
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), comfyui.WithRequestTimeout(50*time.Millisecond))
	defer close(release)

	res, err := client.Poll(context.Background(), "h")
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if res.State != comfyui.StatePending || !errors.Is(res.Transient, services.ErrServiceUnreachable) {
		t.Fatalf("expected pending after request timeout, got %+v", res)
	}
}

func TestFetchWritesArtifact(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/view" || q.Get("filename") != "seg.mp4" || q.Get("subfolder") != "video" || q.Get("type") != "output" {
			t.Fatalf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte("video-bytes"))
	}))
	dest := filepath.Join(t.TempDir(), "segments", "segment_001.mp4")
	if err := client.Fetch(context.Background(), comfyui.ArtifactRef{Filename: "seg.mp4", Subfolder: "video", Type: "output"}, dest); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "video-bytes" {
		t.Fatalf("unexpected artifact contents %q err=%v", data, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(dest))
	if len(entries) != 1 {
		t.Fatalf("expected temp files cleaned up, got %d entries", len(entries))
	}
}

func TestFetchMissingArtifact(t *testing.T) {
	client := newClient(t, http.NotFoundHandler())
	dest := filepath.Join(t.TempDir(), "segment.mp4")
	err := client.Fetch(context.Background(), comfyui.ArtifactRef{Filename: "gone.mp4"}, dest)
	if !errors.Is(err, services.ErrArtifactMissing) {
		t.Fatalf("expected artifact missing, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("expected artifact missing to be non-retryable")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("expected no file at destination, stat err=%v", statErr)
	}
}

func TestUploadImage(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.FormValue("overwrite") != "true" || r.FormValue("subfolder") != "reelchain" {
			t.Fatalf("unexpected form values %v", r.MultipartForm.Value)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "job1_input_001.png" || string(data) != "png" {
			t.Fatalf("unexpected upload %s %q", header.Filename, data)
		}
		_, _ = fmt.Fprintf(w, `{"name":%q,"subfolder":"reelchain","type":"input"}`, header.Filename)
	}))
	path := filepath.Join(t.TempDir(), "start.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	name, err := client.UploadImage(context.Background(), path, "job1_input_001.png", "reelchain")
	if err != nil {
		t.Fatalf("UploadImage returned error: %v", err)
	}
	if name != "reelchain/job1_input_001.png" {
		t.Fatalf("unexpected uploaded name %q", name)
	}
}

func TestSystemEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/models/loras", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["z.safetensors","a.safetensors"]`))
	})
	mux.HandleFunc("/queue", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"queue_running":[[1]],"queue_pending":[[2],[3]]}`))
	})
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"system":{}}`))
	})
	client := newClient(t, mux)

	loras, err := client.ListLoRAs(context.Background())
	if err != nil || len(loras) != 2 || loras[0] != "a.safetensors" {
		t.Fatalf("unexpected loras %v err=%v", loras, err)
	}
	status, err := client.QueueStatus(context.Background())
	if err != nil || status.Running != 1 || status.Pending != 2 {
		t.Fatalf("unexpected queue status %+v err=%v", status, err)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}
