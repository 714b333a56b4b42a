package scan

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("url record not found")

// Engine loads a page and runs in-page header-bidding detection.
// Scan failures surface both as a returned error and as a FailureEvent
// on the Failures stream, which the cluster health monitor consumes.
type Engine interface {
	Scan(ctx context.Context, url string) (Result, error)
	Failures() <-chan FailureEvent
	Close()
}

// Tracker persists per-URL scan state so completed work is never redone.
type Tracker interface {
	Get(ctx context.Context, url string) (URLRecord, error)
	Upsert(ctx context.Context, record URLRecord) error
}

// Publisher pushes detection results to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock Clock used outside tests.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
