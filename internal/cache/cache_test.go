package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prebidwatch/scout/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCache_SetGetWithinTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20, TTL: time.Minute}, clock, nil)

	c.Set("https://a.com", []byte("page a"))
	require.Equal(t, []byte("page a"), c.Get("https://a.com"))
}

func TestCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20, TTL: time.Minute}, clock, nil)

	c.Set("https://a.com", []byte("page a"))
	clock.Advance(2 * time.Minute)

	require.Nil(t, c.Get("https://a.com"))
	require.Zero(t, c.GetStats().Entries)
}

func TestCache_OversizedContentRejected(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(Config{MaxEntries: 10, MaxBytes: 8, TTL: time.Minute}, clock, nil)

	c.Set("https://big.com", []byte("way too large for this cache"))
	require.Nil(t, c.Get("https://big.com"))
	require.Zero(t, c.GetStats().Entries)
	require.Zero(t, c.GetStats().Size)
}

func TestCache_EntryBudgetEvicts(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(Config{MaxEntries: 3, MaxBytes: 1 << 20, TTL: time.Minute}, clock, nil)

	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("https://site%d.com", i), []byte("content"))
		clock.Advance(time.Second)
	}

	stats := c.GetStats()
	require.LessOrEqual(t, stats.Entries, 3)
	require.LessOrEqual(t, stats.Size, int64(1<<20))
}

func TestCache_HotEntrySurvivesEviction(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(Config{MaxEntries: 3, MaxBytes: 1 << 20, TTL: time.Hour}, clock, nil)

	c.Set("https://hot.com", []byte("hot"))
	clock.Advance(time.Second)
	c.Set("https://cold.com", []byte("cold"))
	clock.Advance(time.Second)
	c.Set("https://warm.com", []byte("warm"))

	for i := 0; i < 10; i++ {
		require.NotNil(t, c.Get("https://hot.com"))
	}
	require.NotNil(t, c.Get("https://warm.com"))

	// Churn through cold peers; the unaccessed one goes first.
	c.Set("https://new1.com", []byte("n1"))
	c.Set("https://new2.com", []byte("n2"))

	require.NotNil(t, c.Get("https://hot.com"))
	require.Nil(t, c.Get("https://cold.com"))
}

func TestCache_ByteBudgetEvicts(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(Config{MaxEntries: 100, MaxBytes: 30, TTL: time.Hour}, clock, nil)

	c.Set("https://a.com", make([]byte, 15))
	clock.Advance(time.Second)
	c.Set("https://b.com", make([]byte, 15))
	clock.Advance(time.Second)
	c.Set("https://c.com", make([]byte, 15))

	stats := c.GetStats()
	require.LessOrEqual(t, stats.Size, int64(30))
	require.Nil(t, c.Get("https://a.com"))
	require.NotNil(t, c.Get("https://c.com"))
}

func TestCache_DeleteAndClear(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20, TTL: time.Hour}, newFakeClock(), nil)

	c.Set("https://a.com", []byte("a"))
	c.Set("https://b.com", []byte("b"))

	require.True(t, c.Delete("https://a.com"))
	require.False(t, c.Delete("https://a.com"))

	c.Clear()
	require.Zero(t, c.GetStats().Entries)
	require.Zero(t, c.GetStats().Size)
}

func TestCache_CleanupSweepsExpired(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20, TTL: time.Minute}, clock, nil)

	c.Set("https://old.com", []byte("old"))
	clock.Advance(2 * time.Minute)
	c.Set("https://new.com", []byte("new"))

	require.Equal(t, 1, c.Cleanup())
	require.Equal(t, 1, c.GetStats().Entries)
	require.NotNil(t, c.Get("https://new.com"))
}

func TestCache_Stats(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20, TTL: time.Hour}, clock, nil)

	empty := c.GetStats()
	require.Nil(t, empty.OldestEntry)
	require.Nil(t, empty.NewestEntry)

	c.Set("https://a.com", []byte("aaaa"))
	clock.Advance(time.Minute)
	c.Set("https://b.com", []byte("bb"))

	c.Get("https://a.com")
	c.Get("https://missing.com")

	stats := c.GetStats()
	require.Equal(t, 2, stats.Entries)
	require.Equal(t, int64(6), stats.Size)
	require.InDelta(t, 0.5, stats.HitRate, 0.001)
	require.True(t, stats.OldestEntry.Before(*stats.NewestEntry))
}

func TestCache_PersistenceRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	clock := newFakeClock()

	first := New(Config{MaxEntries: 10, MaxBytes: 1 << 20, TTL: time.Hour, Dir: dir}, clock, nil)
	first.Set("https://persisted.com", []byte("still here"))
	first.Close()

	second := New(Config{MaxEntries: 10, MaxBytes: 1 << 20, TTL: time.Hour, Dir: dir}, clock, nil)
	require.Equal(t, []byte("still here"), second.Get("https://persisted.com"))
}

func TestCache_CorruptMirrorFileSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{not json"), 0o600))

	c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20, TTL: time.Hour, Dir: dir}, newFakeClock(), nil)
	require.Zero(t, c.GetStats().Entries)
}

func TestCache_UnusableDirDegradesToMemory(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	c := New(Config{MaxEntries: 10, MaxBytes: 1 << 20, TTL: time.Hour, Dir: file}, newFakeClock(), nil)
	c.Set("https://a.com", []byte("a"))
	require.Equal(t, []byte("a"), c.Get("https://a.com"))
}
