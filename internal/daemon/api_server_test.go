package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"reelchain/internal/api"
	"reelchain/internal/events"
	"reelchain/internal/job"
	"reelchain/internal/services"
)

func newTestServer(t *testing.T, d *Daemon) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(d.api.routes())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func TestAPIJobLifecycleRoutes(t *testing.T) {
	jobs := newJobServiceStub()
	d := newTestDaemon(t, testConfig(t), jobs, renderStub{loras: []string{"a.safetensors"}})
	srv := newTestServer(t, d)

	var created api.JobResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/jobs", `{"name":"demo","prompt":"a cat","start_image":"/tmp/cat.png","stages":3}`, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	if created.Job.ID != "job-1" || created.Job.Name != "demo" || len(created.Job.Stages) != 1 {
		t.Fatalf("unexpected created job: %+v", created.Job)
	}
	if got := jobs.createdRequests(); got[0].Stages != 3 || got[0].StartImage != "/tmp/cat.png" {
		t.Fatalf("request not forwarded: %+v", got[0])
	}

	var list api.JobListResponse
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/jobs?status=running,awaiting_review", "", &list)
	if resp.StatusCode != http.StatusOK || len(list.Jobs) != 1 {
		t.Fatalf("list: status=%d jobs=%d", resp.StatusCode, len(list.Jobs))
	}

	var shown api.JobResponse
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/jobs/job-1", "", &shown)
	if resp.StatusCode != http.StatusOK || shown.Job.Stages[0].Prompt != "a cat" {
		t.Fatalf("show: status=%d job=%+v", resp.StatusCode, shown.Job)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/jobs/job-1/decision", `{"action":"regenerate","prompt":"a dog"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decision status = %d", resp.StatusCode)
	}
	if got := jobs.receivedDecisions()[0]; got.Action != job.ActionRegenerate || got.Prompt != "a dog" {
		t.Fatalf("decision not forwarded: %+v", got)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/jobs/job-1/cancel", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/jobs/job-1/assemble", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("assemble status = %d", resp.StatusCode)
	}

	var loras api.LoRAListResponse
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/loras", "", &loras)
	if resp.StatusCode != http.StatusOK || len(loras.LoRAs) != 1 {
		t.Fatalf("loras: status=%d body=%+v", resp.StatusCode, loras)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	jobs := newJobServiceStub()
	d := newTestDaemon(t, testConfig(t), jobs, renderStub{healthErr: errors.New("connection refused")})
	srv := newTestServer(t, d)
	if _, err := jobs.CreateJob(t.Context(), createRequest("demo")); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		kind   string
	}{
		{"missing job", http.MethodGet, "/api/jobs/nope", "", http.StatusNotFound, "not_found"},
		{"invalid body", http.MethodPost, "/api/jobs", "{", http.StatusBadRequest, "validation"},
		{"validation", http.MethodPost, "/api/jobs", `{"prompt":"x"}`, http.StatusBadRequest, "validation"},
		{"render down", http.MethodGet, "/api/loras", "", http.StatusBadGateway, "service_unreachable"},
		{"bad duration", http.MethodGet, "/api/plan?duration=abc", "", http.StatusBadRequest, "validation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body api.ErrorResponse
			resp := doJSON(t, tc.method, srv.URL+tc.path, tc.body, &body)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if body.Kind != tc.kind || body.Error == "" {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}

	jobs.setDecideErr(services.Wrap(services.ErrConflict, "stub", "decide", "job has an active stage", nil))
	var body api.ErrorResponse
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/jobs/job-1/decision", `{"action":"continue"}`, &body)
	if resp.StatusCode != http.StatusConflict || body.Kind != "conflict" {
		t.Fatalf("conflict: status=%d body=%+v", resp.StatusCode, body)
	}
}

func TestAPIPlan(t *testing.T) {
	d := newTestDaemon(t, testConfig(t), newJobServiceStub(), nil)
	srv := newTestServer(t, d)

	var plan api.PlanResponse
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/plan?duration=15", "", &plan)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("plan status = %d", resp.StatusCode)
	}
	if len(plan.Stages) == 0 || plan.TotalSeconds < 15 || plan.Estimate == "" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestAPIAuthAndRequestID(t *testing.T) {
	cfg := testConfig(t)
	cfg.Paths.APIToken = "secret"
	d := newTestDaemon(t, cfg, newJobServiceStub(), nil)
	srv := newTestServer(t, d)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/jobs", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/jobs", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set(requestIDHeader, "req-42")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", authed.StatusCode)
	}
	if got := authed.Header.Get(requestIDHeader); got != "req-42" {
		t.Fatalf("request id = %q", got)
	}

	req.Header.Set("Authorization", "Bearer wrong")
	denied, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = denied.Body.Close()
	if denied.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", denied.StatusCode)
	}
}

func TestAPIEventsStream(t *testing.T) {
	bus := events.NewBus(16)
	hub := events.NewHub(bus, nil)
	d, err := New(testConfig(t), Dependencies{Jobs: newJobServiceStub(), Scheduler: schedulerForTest(), Hub: hub})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close(); hub.Close() })
	srv := newTestServer(t, d)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events?job_id=job-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	bus.Publish(events.Event{Type: events.JobCreated, JobID: "other"})
	bus.Publish(events.Event{Type: events.JobCreated, JobID: "job-1", JobName: "demo"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt events.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.JobID != "job-1" || evt.Type != events.JobCreated {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestStatusForKinds(t *testing.T) {
	cases := map[error]int{
		services.Wrap(services.ErrValidation, "x", "op", "bad", nil):          http.StatusBadRequest,
		services.Wrap(services.ErrNotFound, "x", "op", "missing", nil):        http.StatusNotFound,
		services.Wrap(services.ErrConflict, "x", "op", "busy", nil):           http.StatusConflict,
		services.Wrap(services.ErrServiceUnreachable, "x", "op", "down", nil): http.StatusBadGateway,
		errors.New("boom"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
