package urlsource

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Source yields the ordered URL sequence for a crawl. RangeConsumed
// reports whether the source already restricted its output to the
// caller's range during retrieval; the orchestrator uses it to apply a
// range exactly once per crawl.
type Source interface {
	Load(ctx context.Context) ([]string, error)
	RangeConsumed() bool
}

// maxLineBytes bounds a single source line; list files carry one domain
// per line, so anything longer is garbage.
const maxLineBytes = 64 * 1024

// Normalize turns a raw list line into an absolute URL. Lines that
// already carry a scheme pass through untouched; bare domains get https.
func Normalize(line string) string {
	if strings.Contains(line, "://") {
		return line
	}
	return "https://" + line
}

// ExtractLines streams r line by line, applying the optional range
// against original 1-based line positions, then trimming, dropping
// empties, and normalizing the survivors. Only the output slice is
// materialized; the source is never held in memory as a whole.
func ExtractLines(r io.Reader, rng *Range) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	var out []string
	position := 0
	for scanner.Scan() {
		position++
		if rng != nil {
			if position < rng.Start {
				continue
			}
			if position > rng.End {
				break
			}
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out = append(out, Normalize(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan source lines: %w", err)
	}
	return out, nil
}

// FileSource reads a local newline-delimited URL list.
type FileSource struct {
	path   string
	rng    *Range
	logger *zap.Logger
}

// NewFileSource builds a FileSource. A nil rng loads the whole file.
func NewFileSource(path string, rng *Range, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{path: path, rng: rng, logger: logger}
}

// Load streams the file through ExtractLines.
func (s *FileSource) Load(_ context.Context) ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	urls, err := ExtractLines(f, s.rng)
	if err != nil {
		return nil, err
	}
	s.logger.Info("loaded url source",
		zap.String("path", s.path),
		zap.Int("urls", len(urls)),
		zap.Bool("ranged", s.rng != nil),
	)
	return urls, nil
}

// RangeConsumed reports whether Load already applied the range.
func (s *FileSource) RangeConsumed() bool { return s.rng != nil }

// RemoteSource fetches a newline-delimited URL list over HTTP. The range
// is applied while streaming the response body, so even multi-million
// line lists cost one pass and one output slice.
type RemoteSource struct {
	url    string
	rng    *Range
	client *http.Client
	logger *zap.Logger
}

// NewRemoteSource builds a RemoteSource. A nil client gets a default
// with a generous timeout for large list downloads.
func NewRemoteSource(url string, rng *Range, client *http.Client, logger *zap.Logger) *RemoteSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteSource{url: url, rng: rng, client: client, logger: logger}
}

// Load fetches the list and streams it through ExtractLines.
func (s *RemoteSource) Load(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build source request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch source list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch source list: unexpected status %d", resp.StatusCode)
	}

	urls, err := ExtractLines(resp.Body, s.rng)
	if err != nil {
		return nil, err
	}
	s.logger.Info("loaded remote url source",
		zap.String("url", s.url),
		zap.Int("urls", len(urls)),
		zap.Bool("ranged", s.rng != nil),
	)
	return urls, nil
}

// RangeConsumed reports whether Load already applied the range.
func (s *RemoteSource) RangeConsumed() bool { return s.rng != nil }

// StaticSource wraps a pre-extracted list; it never consumes a range, so
// the orchestrator applies one downstream if requested.
type StaticSource struct {
	urls []string
}

// NewStaticSource builds a StaticSource over raw lines.
func NewStaticSource(lines []string) *StaticSource {
	urls := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		urls = append(urls, Normalize(trimmed))
	}
	return &StaticSource{urls: urls}
}

// Load returns a copy of the wrapped list.
func (s *StaticSource) Load(_ context.Context) ([]string, error) {
	out := make([]string, len(s.urls))
	copy(out, s.urls)
	return out, nil
}

// RangeConsumed always reports false for static lists.
func (s *StaticSource) RangeConsumed() bool { return false }
