package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// JobEvent is a job state transition pushed to stream subscribers.
type JobEvent struct {
	JobID     string    `json:"jobId"`
	State     JobState  `json:"state"`
	Message   string    `json:"message,omitempty"`
	ReportID  string    `json:"reportId,omitempty"`
	Kernels   int       `json:"kernels"`
	Timestamp time.Time `json:"timestamp"`
}

const subscriberBuffer = 8

// EventBroadcaster fans job events out to subscribers. The last event of
// each job is kept so late subscribers start from the current state. A
// terminal event closes every subscription of its job.
type EventBroadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan JobEvent]struct{}
	last map[string]JobEvent
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		subs: make(map[string]map[chan JobEvent]struct{}),
		last: make(map[string]JobEvent),
	}
}

// Subscribe returns a channel of events for jobID and a cancel func that
// may be called any number of times. The channel is closed by cancel, by a
// terminal event, or by CleanupJob.
func (eb *EventBroadcaster) Subscribe(jobID string) (<-chan JobEvent, func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan JobEvent, subscriberBuffer)
	last, seen := eb.last[jobID]
	if seen {
		ch <- last
	}
	if seen && last.State.Done() {
		close(ch)
		return ch, func() {}
	}

	if eb.subs[jobID] == nil {
		eb.subs[jobID] = make(map[chan JobEvent]struct{})
	}
	eb.subs[jobID][ch] = struct{}{}
	slog.Debug("Stream subscribed", "job_id", jobID, "subscribers", len(eb.subs[jobID]))

	return ch, func() { eb.drop(jobID, ch) }
}

func (eb *EventBroadcaster) drop(jobID string, ch chan JobEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subs[jobID]
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(eb.subs, jobID)
	}
}

// Broadcast records event as the job's latest and delivers it without
// blocking. A slow subscriber misses intermediate events but always
// receives the terminal one.
func (eb *EventBroadcaster) Broadcast(event JobEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.last[event.JobID] = event
	done := event.State.Done()
	for ch := range eb.subs[event.JobID] {
		select {
		case ch <- event:
		default:
			if !done {
				slog.Warn("Stream subscriber behind, event dropped", "job_id", event.JobID, "state", event.State)
				continue
			}
			// Make room for the terminal event. Only this method sends,
			// so the retry cannot block.
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	if done {
		for ch := range eb.subs[event.JobID] {
			close(ch)
		}
		delete(eb.subs, event.JobID)
	}
}

// CleanupJob closes the job's subscriptions and forgets its last event.
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for ch := range eb.subs[jobID] {
		close(ch)
	}
	delete(eb.subs, jobID)
	delete(eb.last, jobID)
}

// handleJobStream serves GET /api/v1/jobs/{id}/stream as server-sent
// events. Each frame names the job state as its event type. The response
// ends after the terminal state.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.jobManager.broadcaster.Subscribe(jobID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	seq := 0
	send := func(e JobEvent) bool {
		seq++
		if err := writeSSEEvent(w, seq, e); err != nil {
			slog.Debug("Stream write failed", "job_id", jobID, "error", err)
			return false
		}
		flusher.Flush()
		return true
	}

	// The broadcaster replays the last event when there is one; otherwise
	// start from the job's current snapshot.
	select {
	case e, ok := <-events:
		if !ok || !send(e) {
			return
		}
	default:
		if !send(JobEvent{JobID: job.ID, State: job.State, ReportID: job.ReportID, Kernels: job.Kernels, Timestamp: time.Now()}) || job.State.Done() {
			return
		}
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok || !send(e) {
				return
			}
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, seq int, event JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, event.State, data)
	return err
}
