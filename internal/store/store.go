package store

import "github.com/cwbudde/clkernel/internal/inspect"

// Store defines the interface for inspection report persistence.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if a report doesn't exist (for Load/Delete)
//   - Return *inspect.ValidationError for reports that fail Validate
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveReport atomically saves a report under its ID, overwriting any
	// previous report with the same ID.
	SaveReport(report *inspect.Report) error

	// LoadReport retrieves the report with the given ID.
	LoadReport(id string) (*inspect.Report, error)

	// ListReports returns metadata for all stored reports, oldest first.
	ListReports() ([]inspect.ReportInfo, error)

	// DeleteReport removes the report directory and everything in it.
	DeleteReport(id string) error
}

// ErrNotFound is returned when a requested report does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing report.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return "report not found: " + e.ID
	}
	return "report not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
