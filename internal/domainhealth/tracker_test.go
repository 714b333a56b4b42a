package domainhealth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prebidwatch/scout/internal/scanerrors"
)

func timeoutErr() scanerrors.DetailedError {
	return scanerrors.ClassifyMessage("net::ERR_CONNECTION_TIMED_OUT")
}

func permanentErr() scanerrors.DetailedError {
	return scanerrors.ClassifyMessage("lookup x: no such host")
}

func TestRecordSuccess_RecencyWeightedAverage(t *testing.T) {
	t.Parallel()

	tr := New(nil, nil)
	tr.RecordSuccess("https://fast.com/a", 100*time.Millisecond)
	tr.RecordSuccess("https://fast.com/b", 300*time.Millisecond)

	h, ok := tr.Snapshot("fast.com")
	require.True(t, ok)
	require.Equal(t, 2, h.SuccessCount)
	// (100 + 300) / 2, not a true mean over history.
	require.Equal(t, 200*time.Millisecond, h.AvgResponseTime)
	require.NotNil(t, h.LastSuccess)
}

func TestIsLikelyToFail_NeverSucceeded(t *testing.T) {
	t.Parallel()

	tr := New(nil, nil)
	url := "https://dead.com"
	tr.RecordFailure(url, timeoutErr())
	tr.RecordFailure(url, timeoutErr())
	require.False(t, tr.IsLikelyToFail(url))

	tr.RecordFailure(url, timeoutErr())
	require.True(t, tr.IsLikelyToFail(url))
}

func TestIsLikelyToFail_HighFailureRatio(t *testing.T) {
	t.Parallel()

	tr := New(nil, nil)
	url := "https://mostly-broken.com"
	tr.RecordSuccess(url, 50*time.Millisecond)
	for i := 0; i < 5; i++ {
		tr.RecordFailure(url, timeoutErr())
	}
	// 6 attempts, 5 failures: ratio > 0.8.
	require.True(t, tr.IsLikelyToFail(url))
}

func TestIsLikelyToFail_NonRetryableLastError(t *testing.T) {
	t.Parallel()

	tr := New(nil, nil)
	url := "https://gone.com"
	tr.RecordSuccess(url, 50*time.Millisecond)
	tr.RecordFailure(url, permanentErr())
	require.True(t, tr.IsLikelyToFail(url))
}

func TestIsLikelyToFail_UnknownDomain(t *testing.T) {
	t.Parallel()

	tr := New(nil, nil)
	require.False(t, tr.IsLikelyToFail("https://never-seen.com"))
}

func TestPrioritizeURLs(t *testing.T) {
	t.Parallel()

	tr := New(nil, nil)

	// Failing: 6 attempts, 5 failures.
	tr.RecordSuccess("https://failing.com", 10*time.Millisecond)
	for i := 0; i < 5; i++ {
		tr.RecordFailure("https://failing.com", timeoutErr())
	}

	// Risky: one failure, one success, retryable last error.
	tr.RecordSuccess("https://risky.com", 10*time.Millisecond)
	tr.RecordSuccess("https://risky.com", 10*time.Millisecond)
	tr.RecordFailure("https://risky.com", timeoutErr())
	tr.RecordSuccess("https://risky.com", 10*time.Millisecond)

	// Healthy: successes only.
	tr.RecordSuccess("https://solid.com", 10*time.Millisecond)

	p := tr.PrioritizeURLs([]string{
		"https://unknown.com/1",
		"https://failing.com/x",
		"https://risky.com/y",
		"https://solid.com/z",
		"https://unknown.com/2",
	})
	require.Equal(t, []string{"https://unknown.com/1", "https://solid.com/z", "https://unknown.com/2"}, p.Healthy)
	require.Equal(t, []string{"https://risky.com/y"}, p.Risky)
	require.Equal(t, []string{"https://failing.com/x"}, p.Failing)
}

func TestRecommendedConcurrency(t *testing.T) {
	t.Parallel()

	tr := New(nil, nil)

	require.Equal(t, 12, tr.RecommendedConcurrency("https://unknown.com", 12))

	tr.RecordSuccess("https://clean.com", 100*time.Millisecond)
	require.Equal(t, 12, tr.RecommendedConcurrency("https://clean.com", 12))

	tr.RecordFailure("https://flaky.com", timeoutErr())
	require.Equal(t, 6, tr.RecommendedConcurrency("https://flaky.com", 12))
	require.Equal(t, 1, tr.RecommendedConcurrency("https://flaky.com", 1))

	// Slow domain rule supersedes the failure halving.
	tr.RecordFailure("https://slow.com", timeoutErr())
	tr.RecordSuccess("https://slow.com", 80*time.Second)
	require.Equal(t, 4, tr.RecommendedConcurrency("https://slow.com", 12))
	require.Equal(t, 2, tr.RecommendedConcurrency("https://slow.com", 3))
}

func TestReset(t *testing.T) {
	t.Parallel()

	tr := New(nil, nil)
	tr.RecordFailure("https://a.com", timeoutErr())
	tr.RecordFailure("https://a.com", timeoutErr())
	tr.RecordFailure("https://a.com", timeoutErr())
	require.True(t, tr.IsLikelyToFail("https://a.com"))

	tr.Reset("a.com")
	require.False(t, tr.IsLikelyToFail("https://a.com"))
	_, ok := tr.Snapshot("a.com")
	require.False(t, ok)
}
