package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one line of a job's event log.
type Event struct {
	Time     time.Time `json:"time"`
	State    string    `json:"state"`
	Message  string    `json:"message,omitempty"`
	ReportID string    `json:"reportId,omitempty"`
}

// EventWriter appends events to <baseDir>/jobs/<jobID>/events.jsonl.
// It is safe for concurrent use.
type EventWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

func eventsPath(baseDir, jobID string) string {
	return filepath.Join(baseDir, "jobs", jobID, "events.jsonl")
}

// NewEventWriter opens the event log of jobID for appending.
func NewEventWriter(baseDir, jobID string) (*EventWriter, error) {
	if err := checkID(jobID); err != nil {
		return nil, err
	}
	path := eventsPath(baseDir, jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	return &EventWriter{file: file, writer: bufio.NewWriter(file), path: path}, nil
}

// Write appends e, stamping it with the current time if unset. The line
// is flushed immediately so readers see it.
func (w *EventWriter) Write(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush event log: %w", err)
	}
	return nil
}

// Close flushes and closes the event log.
func (w *EventWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the event log.
func (w *EventWriter) Path() string {
	return w.path
}

// ReadEvents returns every event logged for jobID in write order.
func ReadEvents(baseDir, jobID string) ([]Event, error) {
	if err := checkID(jobID); err != nil {
		return nil, err
	}
	file, err := os.Open(eventsPath(baseDir, jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{ID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	return decodeEvents(file)
}

func decodeEvents(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan event log: %w", err)
	}
	return events, nil
}

// DeleteEvents removes the event log directory of jobID. A missing log is
// not an error.
func DeleteEvents(baseDir, jobID string) error {
	if err := checkID(jobID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Dir(eventsPath(baseDir, jobID))); err != nil {
		return fmt.Errorf("failed to delete event log: %w", err)
	}
	return nil
}
