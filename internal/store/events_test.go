package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestEventLogRoundTrip(t *testing.T) {
	base := t.TempDir()
	w, err := NewEventWriter(base, "job-1")
	if err != nil {
		t.Fatalf("NewEventWriter failed: %v", err)
	}
	if want := filepath.Join(base, "jobs", "job-1", "events.jsonl"); w.Path() != want {
		t.Errorf("Path = %s, want %s", w.Path(), want)
	}

	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	events := []Event{
		{Time: stamp, State: "pending"},
		{State: "running", Message: "building square.cl"},
		{State: "completed", ReportID: "r-1"},
	}
	for _, e := range events {
		if err := w.Write(e); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	// Readable before Close.
	got, err := ReadEvents(base, "job-1")
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if !got[0].Time.Equal(stamp) {
		t.Errorf("explicit time not kept: %v", got[0].Time)
	}
	if got[1].Time.IsZero() {
		t.Error("missing time was not stamped")
	}
	if got[2].State != "completed" || got[2].ReportID != "r-1" {
		t.Errorf("last event = %+v", got[2])
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening appends.
	w, err = NewEventWriter(base, "job-1")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	w.Write(Event{State: "deleted"})
	w.Close()
	if got, _ := ReadEvents(base, "job-1"); len(got) != 4 {
		t.Errorf("got %d events after append, want 4", len(got))
	}

	if err := DeleteEvents(base, "job-1"); err != nil {
		t.Fatalf("DeleteEvents failed: %v", err)
	}
	if _, err := ReadEvents(base, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := DeleteEvents(base, "job-1"); err != nil {
		t.Errorf("deleting a missing log should succeed, got %v", err)
	}
}

func TestEventLogConcurrentWrites(t *testing.T) {
	base := t.TempDir()
	w, err := NewEventWriter(base, "busy")
	if err != nil {
		t.Fatalf("NewEventWriter failed: %v", err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Write(Event{State: "running", Message: strings.Repeat("x", 100)}); err != nil {
				t.Errorf("Write failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := ReadEvents(base, "busy")
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(got) != 50 {
		t.Errorf("got %d events, want 50", len(got))
	}
}

func TestReadEventsCorrupt(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "jobs", "bad")
	os.MkdirAll(dir, 0755)
	os.WriteFile(filepath.Join(dir, "events.jsonl"), []byte("{\"state\":\"pending\"}\n\nnot json\n"), 0644)

	if _, err := ReadEvents(base, "bad"); err == nil {
		t.Error("expected error for corrupt line")
	}
	if _, err := NewEventWriter(base, "a/b"); err == nil {
		t.Error("expected error for job id with separator")
	}
}
