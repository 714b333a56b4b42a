// Package tracker persists per-URL scan outcomes so reruns can skip
// already-processed URLs and report what a previous run found.
package tracker

import (
	"context"
	"sync"

	"github.com/prebidwatch/scout/internal/scan"
)

// Memory is an in-process Tracker for tests and DSN-less runs.
type Memory struct {
	mu      sync.RWMutex
	records map[string]scan.URLRecord
}

// NewMemory builds an empty in-memory tracker.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]scan.URLRecord)}
}

// Get returns the record for the URL or scan.ErrNotFound.
func (m *Memory) Get(_ context.Context, url string) (scan.URLRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[url]
	if !ok {
		return scan.URLRecord{}, scan.ErrNotFound
	}
	return rec, nil
}

// Upsert stores the record, replacing any previous one for the URL.
func (m *Memory) Upsert(_ context.Context, rec scan.URLRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.URL] = rec
	return nil
}

// Len reports how many URLs have records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
