// Package urlsource turns newline-delimited URL lists, local or remote,
// into ordered sequences of normalized absolute URLs, with optional
// 1-based inclusive range restriction.
package urlsource

import (
	"fmt"
	"strconv"
	"strings"
)

// Range selects 1-based inclusive positions [Start, End] of a source.
type Range struct {
	Start int
	End   int
}

// ParseRange parses the CLI form "<start>-<end>".
func ParseRange(raw string) (Range, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), "-", 2)
	if len(parts) != 2 {
		return Range{}, fmt.Errorf("range %q: want <start>-<end>", raw)
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Range{}, fmt.Errorf("range start %q: %w", parts[0], err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Range{}, fmt.Errorf("range end %q: %w", parts[1], err)
	}
	r := Range{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Validate enforces 1-based ordering.
func (r Range) Validate() error {
	if r.Start < 1 {
		return fmt.Errorf("range start must be >= 1, got %d", r.Start)
	}
	if r.End < r.Start {
		return fmt.Errorf("range end %d precedes start %d", r.End, r.Start)
	}
	return nil
}

// String renders the canonical "<start>-<end>" form.
func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Apply restricts an already-extracted URL list to the range, clamped to
// the available length. A start beyond the list yields an empty result.
//
// Callers must check Source.RangeConsumed first: a source that applied
// the range during retrieval must never have it reapplied here, or large
// offsets silently select past the end of the already-restricted list.
func (r Range) Apply(urls []string) []string {
	if r.Start > len(urls) {
		return nil
	}
	end := r.End
	if end > len(urls) {
		end = len(urls)
	}
	out := make([]string, end-r.Start+1)
	copy(out, urls[r.Start-1:end])
	return out
}
