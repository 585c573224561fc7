package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"reelchain/internal/api"
	"reelchain/internal/events"
)

func TestClientJobCalls(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/jobs":
			var req api.CreateJobRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotBody = req.Name
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(api.JobResponse{Job: api.Job{ID: "j1", Name: req.Name}})
		case r.Method == http.MethodGet && r.URL.Path == "/api/jobs":
			gotBody = strings.Join(r.URL.Query()["status"], ",")
			_ = json.NewEncoder(w).Encode(api.JobListResponse{Jobs: []api.JobSummary{{ID: "j1"}}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/jobs/j1/decision":
			var req api.DecisionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotBody = req.Action + ":" + req.Prompt
			_ = json.NewEncoder(w).Encode(api.JobResponse{Job: api.Job{ID: "j1", Status: "running"}})
		case r.URL.Path == "/api/plan":
			_ = json.NewEncoder(w).Encode(api.PlanResponse{DurationSeconds: 10, TotalSeconds: 10})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "job nope not found", Kind: "not_found"})
		}
	}))
	defer srv.Close()

	client, err := New(strings.TrimPrefix(srv.URL, "http://"), "tok")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	created, err := client.CreateJob(ctx, api.CreateJobRequest{Name: "demo"})
	if err != nil || created.ID != "j1" || gotBody != "demo" {
		t.Fatalf("CreateJob = %+v, %v (body %q)", created, err, gotBody)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header = %q", gotAuth)
	}

	jobs, err := client.ListJobs(ctx, "running", " ", "failed")
	if err != nil || len(jobs) != 1 || gotBody != "running,failed" {
		t.Fatalf("ListJobs = %+v, %v (statuses %q)", jobs, err, gotBody)
	}

	decided, err := client.Decide(ctx, "j1", api.DecisionRequest{Action: "continue", Prompt: "walk"})
	if err != nil || decided.Status != "running" || gotBody != "continue:walk" {
		t.Fatalf("Decide = %+v, %v (body %q)", decided, err, gotBody)
	}

	plan, err := client.Plan(ctx, 10)
	if err != nil || plan.TotalSeconds != 10 {
		t.Fatalf("Plan = %+v, %v", plan, err)
	}

	_, err = client.GetJob(ctx, "nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || !IsKind(err, "not_found") {
		t.Fatalf("expected not found APIError, got %v", err)
	}
	if IsAPIUnavailable(err) {
		t.Fatal("API errors are not unavailability")
	}
}

func TestClientWatch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("job_id") != "j1" {
			http.Error(w, "missing job", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i, typ := range []events.Type{events.StageSubmitted, events.StageSucceeded} {
			_ = conn.WriteJSON(events.Event{Sequence: uint64(i + 1), Type: typ, JobID: "j1"})
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	client, err := New(srv.URL, "")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []events.Type
	if err := client.Watch(ctx, "j1", 0, func(evt events.Event) error {
		got = append(got, evt.Type)
		return nil
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if len(got) != 2 || got[1] != events.StageSucceeded {
		t.Fatalf("events = %v", got)
	}

	err = client.Watch(ctx, "", 0, func(events.Event) error { return nil })
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected handshake APIError, got %v", err)
	}
}

func TestIsAPIUnavailable(t *testing.T) {
	if _, err := New("  ", ""); !IsAPIUnavailable(err) {
		t.Fatalf("expected unavailable for empty bind, got %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	client, err := New(addr, "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Status(context.Background())
	if !IsAPIUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if IsAPIUnavailable(nil) {
		t.Fatal("nil is not unavailable")
	}
}
