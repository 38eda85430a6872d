package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/clkernel/internal/inspect"
	"github.com/cwbudde/clkernel/internal/store"
)

func postJob(t *testing.T, h http.Handler, config JobConfig) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(config)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_CreateJob(t *testing.T) {
	s := newTestServer(t, "")
	w := postJob(t, s.Handler(), JobConfig{Source: squareSource})

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Expected pending state, got %s", job.State)
	}
	if job.Config.Name != "source.cl" {
		t.Errorf("default name not applied: %q", job.Config.Name)
	}
	waitForJob(t, s, job.ID)
}

func TestServer_CreateJob_Validation(t *testing.T) {
	s := newTestServer(t, "")
	s.cfg.MaxSourceBytes = 64

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"missing source", `{"options": "-DX"}`, http.StatusBadRequest},
		{"unknown device", `{"source": "__kernel void k() {}", "devices": ["fpga"]}`, http.StatusBadRequest},
		{"too large", fmt.Sprintf(`{"source": %q}`, strings.Repeat("x", 100)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
		})
	}
	if n := len(s.jobManager.ListJobs()); n != 0 {
		t.Errorf("rejected requests created %d jobs", n)
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := newTestServer(t, "")
	s.jobManager.CreateJob(JobConfig{Source: squareSource})
	s.jobManager.CreateJob(JobConfig{Source: squareSource})

	w := get(s.Handler(), "/api/v1/jobs")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var jobs []*Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := newTestServer(t, "")
	job := s.jobManager.CreateJob(JobConfig{Name: "k.cl", Source: squareSource})

	for _, path := range []string{"/api/v1/jobs/" + job.ID, "/api/v1/jobs/" + job.ID + "/status"} {
		w := get(s.Handler(), path)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, w.Code)
		}
		var response map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if response["id"] != job.ID || response["state"] != string(StatePending) || response["name"] != "k.cl" {
			t.Errorf("%s: unexpected response %v", path, response)
		}
	}

	if w := get(s.Handler(), "/api/v1/jobs/nonexistent/status"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if w := get(s.Handler(), "/api/v1/jobs/"+job.ID+"/unknown"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown subpath, got %d", w.Code)
	}
	if w := get(s.Handler(), "/api/v1/jobs/"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without id, got %d", w.Code)
	}
}

func TestServer_Integration(t *testing.T) {
	s := newTestServer(t, t.TempDir())
	h := s.Handler()

	w := postJob(t, h, JobConfig{Name: "square.cl", Source: squareSource, Options: "-cl-kernel-arg-info", GlobalSize: 512})
	if w.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
	}
	var job Job
	json.NewDecoder(w.Body).Decode(&job)

	// Not available until the job completes, or available already.
	if w := get(h, "/api/v1/jobs/"+job.ID+"/report"); w.Code != http.StatusNotFound && w.Code != http.StatusOK {
		t.Errorf("unexpected report status %d", w.Code)
	}

	done := waitForJob(t, s, job.ID)
	s.workers.Wait()
	if done.State != StateCompleted {
		t.Fatalf("job ended in %s: %s", done.State, done.Error)
	}

	w = get(h, "/api/v1/jobs/"+job.ID+"/report")
	if w.Code != http.StatusOK {
		t.Fatalf("report: expected 200, got %d", w.Code)
	}
	var report inspect.Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.ID != done.ReportID || len(report.Kernels) != 1 || report.Kernels[0].Name != "square" {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Program.Options != "-cl-kernel-arg-info" || report.GlobalSize != 512 {
		t.Errorf("report lost request settings: %+v", report.Program)
	}

	w = get(h, "/api/v1/reports")
	var infos []inspect.ReportInfo
	json.NewDecoder(w.Body).Decode(&infos)
	if len(infos) != 1 || infos[0].ID != report.ID {
		t.Errorf("reports listing = %+v", infos)
	}
	if w := get(h, "/api/v1/reports/"+report.ID); w.Code != http.StatusOK {
		t.Errorf("stored report: expected 200, got %d", w.Code)
	}

	w = get(h, "/api/v1/jobs/"+job.ID+"/events")
	var events []store.Event
	json.NewDecoder(w.Body).Decode(&events)
	if len(events) != 2 || events[1].ReportID != report.ID {
		t.Errorf("events = %+v", events)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/reports/"+report.ID, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	if w := get(h, "/api/v1/reports/"+report.ID); w.Code != http.StatusNotFound {
		t.Errorf("deleted report: expected 404, got %d", w.Code)
	}
}

func TestServer_WithoutDataDir(t *testing.T) {
	s := newTestServer(t, "")
	job := s.jobManager.CreateJob(JobConfig{Source: squareSource})

	for _, path := range []string{"/api/v1/reports", "/api/v1/reports/x", "/api/v1/jobs/" + job.ID + "/events"} {
		if w := get(s.Handler(), path); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404 without data dir, got %d", path, w.Code)
		}
	}
}

func TestServer_Devices(t *testing.T) {
	s := newTestServer(t, "")
	w := get(s.Handler(), "/api/v1/devices")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"sim-cpu"`) {
		t.Errorf("device listing missing sim-cpu: %s", w.Body.String())
	}
}

func TestServer_CORS(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Missing CORS header")
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	s := newTestServer(t, "")
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	job := s.jobManager.CreateJob(JobConfig{Source: squareSource})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/jobs/"+job.ID+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Expected text/event-stream content type, got %q", resp.Header.Get("Content-Type"))
	}

	go s.runJob(context.Background(), job.ID)

	var (
		last  JobEvent
		names []string
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			names = append(names, name)
			continue
		}
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(line), &last); err != nil {
			t.Fatalf("Failed to parse SSE data %q: %v", line, err)
		}
	}
	if last.State != StateCompleted || last.JobID != job.ID || last.ReportID == "" {
		t.Errorf("last streamed event = %+v", last)
	}
	if len(names) == 0 || names[0] != string(StatePending) || names[len(names)-1] != string(StateCompleted) {
		t.Errorf("streamed event names = %v", names)
	}
}

func TestServer_JobStream_FinishedJob(t *testing.T) {
	s := newTestServer(t, "")
	job := s.jobManager.CreateJob(JobConfig{Source: squareSource})
	if err := s.runJob(context.Background(), job.ID); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}

	// A finished job streams its terminal event and the response ends.
	w := get(s.Handler(), "/api/v1/jobs/"+job.ID+"/stream")
	body := w.Body.String()
	if !strings.Contains(body, "id: 1\nevent: completed\ndata: ") {
		t.Errorf("unexpected stream body %q", body)
	}
	if n := strings.Count(body, "data: "); n != 1 {
		t.Errorf("got %d events, want 1", n)
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s := newTestServer(t, "")
	if w := get(s.Handler(), "/api/v1/jobs/nonexistent/stream"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch, cancel := eb.Subscribe("job1")
	defer cancel()

	eb.Broadcast(JobEvent{JobID: "job1", State: StateRunning, Kernels: 3, Timestamp: time.Now()})
	eb.Broadcast(JobEvent{JobID: "job2", State: StateRunning})

	select {
	case received := <-ch:
		if received.JobID != "job1" || received.Kernels != 3 {
			t.Errorf("unexpected event %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for event")
	}

	// Late subscribers get the last event replayed.
	late, cancelLate := eb.Subscribe("job1")
	select {
	case received := <-late:
		if received.State != StateRunning {
			t.Errorf("replayed event = %+v", received)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for replay")
	}

	cancelLate()
	cancelLate()
	if _, ok := <-late; ok {
		t.Error("cancel should close the subscription")
	}

	eb.CleanupJob("job1")
	if _, ok := <-ch; ok {
		t.Error("CleanupJob should close subscriber channels")
	}
}

func TestEventBroadcaster_TerminalEventCloses(t *testing.T) {
	eb := NewEventBroadcaster()
	ch, cancel := eb.Subscribe("job1")

	// Fill the buffer so the terminal event has to displace one.
	for i := 0; i < subscriberBuffer+3; i++ {
		eb.Broadcast(JobEvent{JobID: "job1", State: StateRunning, Kernels: i})
	}
	eb.Broadcast(JobEvent{JobID: "job1", State: StateFailed, Message: "boom"})

	var got []JobEvent
	for e := range ch {
		got = append(got, e)
	}
	if len(got) != subscriberBuffer || got[len(got)-1].State != StateFailed {
		t.Errorf("received %d events ending in %+v", len(got), got[len(got)-1])
	}
	cancel()

	// After the terminal event a new subscriber sees it once and is closed.
	late, cancelLate := eb.Subscribe("job1")
	defer cancelLate()
	e, ok := <-late
	if !ok || e.Message != "boom" {
		t.Errorf("replayed event = %+v, %v", e, ok)
	}
	if _, ok := <-late; ok {
		t.Error("subscription after a terminal event should be closed")
	}
}
