// Package scan defines core types shared across scanner subsystems.
package scan

import "time"

// URLStatus represents the lifecycle state of a URL in the tracker.
type URLStatus string

// URL status values persisted in the tracker.
const (
	StatusPending   URLStatus = "pending"
	StatusCompleted URLStatus = "completed"
	StatusFailed    URLStatus = "failed"
	StatusSkipped   URLStatus = "skipped"
)

// Result is what the automation engine returns for one scanned page.
type Result struct {
	URL           string
	Content       []byte
	HasPrebid     bool
	PrebidVersion string
	StatusCode    int
	Duration      time.Duration
	UsedHeadless  bool
}

// URLRecord is the tracker row for a single URL.
type URLRecord struct {
	URL           string    `json:"url"`
	Status        URLStatus `json:"status"`
	HasPrebid     bool      `json:"has_prebid"`
	PrebidVersion string    `json:"prebid_version,omitempty"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FailureEvent is emitted by the engine for every failed scan task.
type FailureEvent struct {
	URL     string
	Message string
	At      time.Time
}
