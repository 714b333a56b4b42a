package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// mirror persists entries under a directory, one JSON file per URL.
// Every operation is best effort: mirror failures degrade the cache to
// memory-only behavior, they never fail the caller.
type mirror struct {
	dir    string
	usable bool
	logger *zap.Logger
}

func newMirror(dir string, logger *zap.Logger) *mirror {
	m := &mirror{dir: dir, logger: logger}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		logger.Warn("cache dir unusable, running memory-only",
			zap.String("dir", dir), zap.Error(err))
		return m
	}
	m.usable = true
	return m
}

func (m *mirror) write(entry *Entry) {
	if m == nil || !m.usable {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		m.logger.Warn("cache mirror marshal failed", zap.String("url", entry.URL), zap.Error(err))
		return
	}
	path := m.pathFor(entry.URL)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		m.logger.Warn("cache mirror write failed", zap.String("url", entry.URL), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		m.logger.Warn("cache mirror rename failed", zap.String("url", entry.URL), zap.Error(err))
	}
}

func (m *mirror) remove(url string) {
	if m == nil || !m.usable {
		return
	}
	if err := os.Remove(m.pathFor(url)); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("cache mirror remove failed", zap.String("url", url), zap.Error(err))
	}
}

// load reads every mirrored entry; corrupt or unreadable files are
// skipped with a warning, never fatal.
func (m *mirror) load() []*Entry {
	if m == nil || !m.usable {
		return nil
	}
	names, err := filepath.Glob(filepath.Join(m.dir, "*.json"))
	if err != nil {
		m.logger.Warn("cache mirror scan failed", zap.Error(err))
		return nil
	}

	var entries []*Entry
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			m.logger.Warn("cache mirror unreadable file skipped", zap.String("file", name), zap.Error(err))
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil || entry.URL == "" {
			m.logger.Warn("cache mirror corrupt file skipped", zap.String("file", name), zap.Error(err))
			continue
		}
		entries = append(entries, &entry)
	}
	return entries
}

func (m *mirror) pathFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(m.dir, hex.EncodeToString(sum[:])+".json")
}
