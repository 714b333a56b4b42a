package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 10, cfg.Scanner.Concurrency)
	require.Equal(t, 100, cfg.Scanner.BatchSize)
	require.Equal(t, 50, cfg.DNS.Concurrency)
	require.Equal(t, 2, cfg.Blacklist.CrashThreshold)
	require.Equal(t, 10, cfg.Health.ErrorThreshold)
	require.True(t, cfg.Engine.ProbeFirst)
}

func TestLoad_FileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "scout.yaml")
	body := []byte(`
scanner:
  concurrency: 25
  batch_size: 500
health:
  error_threshold: 12
cache:
  ttl_minutes: 5
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 25, cfg.Scanner.Concurrency)
	require.Equal(t, 500, cfg.Scanner.BatchSize)
	require.Equal(t, 12, cfg.Health.ErrorThreshold)
	require.Equal(t, 5, cfg.Cache.TTLMinutes)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Scanner.Concurrency = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Cache.MaxBytes = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Health.ErrorThreshold = 0
	require.Error(t, bad.Validate())
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
