package dnscheck

import (
	"context"
	"errors"
	"fmt"
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

type fakeResolver struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	failing  map[string]error
}

func (r *fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.peak {
		r.peak = r.inFlight
	}
	r.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	r.mu.Lock()
	r.inFlight--
	err := r.failing[host]
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return []string{"192.0.2.1"}, nil
}

func TestBatchValidate_MixedResults(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{failing: map[string]error{
		"dead.example": errors.New("lookup dead.example: no such host"),
	}}
	v := New(resolver, time.Second, nil)

	urls := []string{"https://alive.example/page", "https://dead.example", "bare.example"}
	results := v.BatchValidate(context.Background(), urls, 10)

	require.Len(t, results, 3)
	require.True(t, results["https://alive.example/page"].Valid)
	require.Equal(t, "alive.example", results["https://alive.example/page"].Hostname)
	require.False(t, results["https://dead.example"].Valid)
	require.Contains(t, results["https://dead.example"].Error, "no such host")
	require.True(t, results["bare.example"].Valid)
}

func TestBatchValidate_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{}
	v := New(resolver, time.Second, nil)

	urls := make([]string, 40)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://host%d.example", i)
	}

	results := v.BatchValidate(context.Background(), urls, 8)
	require.Len(t, results, 40)
	require.LessOrEqual(t, resolver.peak, 8)
}

func TestValidateSingle(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{failing: map[string]error{
		"down.example": errors.New("no such host"),
	}}
	v := New(resolver, time.Second, nil)

	require.True(t, v.ValidateSingle(context.Background(), "https://up.example"))
	require.False(t, v.ValidateSingle(context.Background(), "https://down.example"))
	require.False(t, v.ValidateSingle(context.Background(), "https://"))
}

func TestBatchValidate_CanceledContextStops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := New(&fakeResolver{}, time.Second, nil)
	results := v.BatchValidate(ctx, []string{"a.example", "b.example"}, 1)
	// The first chunk still runs; later chunks are skipped.
	require.LessOrEqual(t, len(results), 2)
}

func TestHostname(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", Hostname("https://Example.com/x"))
	require.Equal(t, "example.com", Hostname("example.com"))
	require.Equal(t, "", Hostname("https://"))
}
