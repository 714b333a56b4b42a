// Package ledger persists per-batch completion state so a crashed or
// interrupted run resumes at exactly the right batch, never reprocessing
// finished work and never dropping a failed batch.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prebidwatch/scout/internal/scan"
	"github.com/prebidwatch/scout/internal/urlsource"
)

// BatchRecord is one entry in the completed or failed list.
type BatchRecord struct {
	BatchNumber int       `json:"batchNumber"`
	URLCount    int       `json:"urlCount,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// fileRecord is the persisted document shape.
type fileRecord struct {
	CompletedBatches []BatchRecord `json:"completedBatches"`
	FailedBatches    []BatchRecord `json:"failedBatches"`
}

// Ledger tracks a contiguous URL-index range split into fixed batches.
// Batch numbers are 1-based within the range.
type Ledger struct {
	mu        sync.Mutex
	dir       string
	rng       urlsource.Range
	batchSize int
	completed []BatchRecord
	failed    []BatchRecord
	clock     scan.Clock
	logger    *zap.Logger
}

// Open loads (or starts) the ledger for the given overall range. A
// corrupt progress file is logged and treated as a fresh start.
func Open(dir string, rng urlsource.Range, batchSize int, clock scan.Clock, logger *zap.Logger) *Ledger {
	if clock == nil {
		clock = scan.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		dir:       dir,
		rng:       rng,
		batchSize: batchSize,
		clock:     clock,
		logger:    logger,
	}
	l.restore()
	return l
}

// Path returns the progress file location; the name encodes the range.
func (l *Ledger) Path() string {
	return filepath.Join(l.dir, fmt.Sprintf("batch-progress-%d-%d.json", l.rng.Start, l.rng.End))
}

// TotalBatches is the number of batches covering the range.
func (l *Ledger) TotalBatches() int {
	span := l.rng.End - l.rng.Start + 1
	return (span + l.batchSize - 1) / l.batchSize
}

// BatchBounds returns the absolute source-position range of one batch,
// clamped to the overall end.
func (l *Ledger) BatchBounds(batchNumber int) urlsource.Range {
	start := l.rng.Start + (batchNumber-1)*l.batchSize
	end := start + l.batchSize - 1
	if end > l.rng.End {
		end = l.rng.End
	}
	return urlsource.Range{Start: start, End: end}
}

// MarkCompleted appends the batch to the completed list, removing it
// from the failed list if this was a successful retry, and persists.
func (l *Ledger) MarkCompleted(batchNumber, urlCount int) error {
	l.mu.Lock()
	l.failed = removeBatch(l.failed, batchNumber)
	if !containsBatch(l.completed, batchNumber) {
		l.completed = append(l.completed, BatchRecord{
			BatchNumber: batchNumber,
			URLCount:    urlCount,
			At:          l.clock.Now(),
		})
	}
	l.mu.Unlock()
	return l.persist()
}

// MarkFailed records the batch as failed unless it already completed.
func (l *Ledger) MarkFailed(batchNumber int, errText string) error {
	l.mu.Lock()
	if containsBatch(l.completed, batchNumber) {
		l.mu.Unlock()
		return nil
	}
	l.failed = removeBatch(l.failed, batchNumber)
	l.failed = append(l.failed, BatchRecord{
		BatchNumber: batchNumber,
		Error:       errText,
		At:          l.clock.Now(),
	})
	l.mu.Unlock()
	return l.persist()
}

// IsCompleted reports whether the batch already finished successfully.
func (l *Ledger) IsCompleted(batchNumber int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return containsBatch(l.completed, batchNumber)
}

// NextBatch computes where to resume: the earliest failed batch if any,
// otherwise the batch after the most recently completed one, skipping
// forward past anything already completed. ok is false once the range
// is exhausted.
func (l *Ledger) NextBatch() (batchNumber int, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.failed) > 0 {
		earliest := l.failed[0].BatchNumber
		for _, rec := range l.failed[1:] {
			if rec.BatchNumber < earliest {
				earliest = rec.BatchNumber
			}
		}
		return earliest, true
	}

	next := 1
	if n := len(l.completed); n > 0 {
		next = l.completed[n-1].BatchNumber + 1
	}
	for containsBatch(l.completed, next) {
		next++
	}
	if next > l.TotalBatches() {
		return 0, false
	}
	return next, true
}

// Counts returns the completed and failed batch totals.
func (l *Ledger) Counts() (completed, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.completed), len(l.failed)
}

func (l *Ledger) restore() {
	data, err := os.ReadFile(l.Path())
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("progress file unreadable, starting fresh",
				zap.String("path", l.Path()), zap.Error(err))
		}
		return
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		l.logger.Warn("progress file corrupt, starting fresh",
			zap.String("path", l.Path()), zap.Error(err))
		return
	}
	l.completed = rec.CompletedBatches
	l.failed = rec.FailedBatches
	l.logger.Info("batch progress restored",
		zap.String("path", l.Path()),
		zap.Int("completed", len(l.completed)),
		zap.Int("failed", len(l.failed)),
	)
}

// persist writes atomically: temp file then rename, so a crash mid-write
// never corrupts the canonical progress file.
func (l *Ledger) persist() error {
	l.mu.Lock()
	rec := fileRecord{
		CompletedBatches: append(make([]BatchRecord, 0, len(l.completed)), l.completed...),
		FailedBatches:    append(make([]BatchRecord, 0, len(l.failed)), l.failed...),
	}
	l.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	path := l.Path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write progress temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}

func containsBatch(records []BatchRecord, batchNumber int) bool {
	for _, rec := range records {
		if rec.BatchNumber == batchNumber {
			return true
		}
	}
	return false
}

func removeBatch(records []BatchRecord, batchNumber int) []BatchRecord {
	out := records[:0]
	for _, rec := range records {
		if rec.BatchNumber != batchNumber {
			out = append(out, rec)
		}
	}
	return out
}
