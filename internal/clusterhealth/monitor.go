// Package clusterhealth folds the automation engine's failure-event
// stream into an aggregate error-rate signal. The signal is advisory:
// the orchestrator may pause or shed load on it, but nothing here ever
// halts the process.
package clusterhealth

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/prebidwatch/scout/internal/metrics"
	"github.com/prebidwatch/scout/internal/scan"
)

// DefaultErrorThreshold is the error count past which the session is
// reported unhealthy. Observed behavior bounds it between 5 and 15.
const DefaultErrorThreshold = 10

// criticalPatterns are message substrings that indicate the engine
// itself is malfunctioning rather than an individual site failing.
var criticalPatterns = []string{
	"browser process",
	"chrome crashed",
	"out of memory",
	"websocket url timeout",
	"protocol error",
	"econnrefused",
}

// Status is the monitor's aggregate view of the current session.
type Status struct {
	ErrorCount int
	Healthy    bool
}

// Monitor consumes one failure-event stream per monitoring session.
type Monitor struct {
	mu         sync.Mutex
	threshold  int
	errorCount int
	stopCh     chan struct{}
	doneCh     chan struct{}
	running    bool
	logger     *zap.Logger
}

// New constructs a Monitor. A non-positive threshold gets the default.
func New(threshold int, logger *zap.Logger) *Monitor {
	if threshold <= 0 {
		threshold = DefaultErrorThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{threshold: threshold, logger: logger}
}

// StartMonitoring subscribes to the event stream. Consumption runs in a
// background goroutine until StopMonitoring is called or the stream
// closes. Starting an already-running monitor is a no-op.
func (m *Monitor) StartMonitoring(events <-chan scan.FailureEvent) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	go m.consume(events, stopCh, doneCh)
}

func (m *Monitor) consume(events <-chan scan.FailureEvent, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			m.observe(evt)
		case <-stopCh:
			return
		}
	}
}

func (m *Monitor) observe(evt scan.FailureEvent) {
	m.mu.Lock()
	m.errorCount++
	count := m.errorCount
	unhealthy := count > m.threshold
	m.mu.Unlock()

	metrics.ObserveClusterError()

	lower := strings.ToLower(evt.Message)
	for _, pattern := range criticalPatterns {
		if strings.Contains(lower, pattern) {
			m.logger.Error("critical automation engine failure",
				zap.String("url", evt.URL),
				zap.String("pattern", pattern),
				zap.String("message", evt.Message),
			)
			break
		}
	}

	if unhealthy && count == m.threshold+1 {
		m.logger.Warn("cluster unhealthy: error threshold exceeded",
			zap.Int("errors", count),
			zap.Int("threshold", m.threshold),
		)
	}
}

// GetHealthStatus reports the running error count; Healthy turns false
// once the count exceeds the threshold.
func (m *Monitor) GetHealthStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		ErrorCount: m.errorCount,
		Healthy:    m.errorCount <= m.threshold,
	}
}

// ResetErrorCount zeroes the counter, restoring a healthy status,
// without unsubscribing from the stream.
func (m *Monitor) ResetErrorCount() {
	m.mu.Lock()
	m.errorCount = 0
	m.mu.Unlock()
	m.logger.Info("cluster error count reset")
}

// StopMonitoring unsubscribes and waits for the consumer to exit.
// Counters persist until ResetErrorCount or a new Monitor.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
}
