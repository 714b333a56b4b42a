package scanerrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		message string
		code    Code
	}{
		{"net::ERR_NAME_NOT_RESOLVED", CodeDNSResolutionFailed},
		{"lookup example.com: no such host", CodeDNSResolutionFailed},
		{"net::ERR_CERT_AUTHORITY_INVALID", CodeCertificateError},
		{"page returned 404", CodePageNotFound},
		{"server said Forbidden", CodeAccessForbidden},
		{"net::ERR_CONNECTION_TIMED_OUT", CodeConnectionTimeout},
		{"read tcp: i/o timeout", CodeConnectionTimeout},
		{"net::ERR_NETWORK_CHANGED", CodeNetworkChanged},
		{"Navigation timeout of 45000 ms exceeded", CodeNavigationTimeout},
		{"HTTP 429 Too Many Requests", CodeRateLimited},
		{"checking your browser - cloudflare", CodeCDNProtection},
		{"please solve this CAPTCHA", CodeCaptchaRequired},
		{"Session closed. Most likely the page has been closed", CodeBrowserSessionClosed},
		{"Execution context destroyed", CodeContextDestroyed},
		{"navigating frame detached", CodeFrameDetached},
		{"the browser has crashed", CodeBrowserCrashed},
		{"something entirely novel", CodeUnknown},
	}

	for _, tc := range cases {
		got := ClassifyMessage(tc.message)
		require.Equal(t, tc.code, got.Code, "message %q", tc.message)
		require.Equal(t, CategoryOf(tc.code), got.Category)
		require.Equal(t, tc.message, got.Message)
	}
}

func TestClassify_UnwrapsDetailedError(t *testing.T) {
	t.Parallel()

	inner := DetailedError{
		Code:     CodeRateLimited,
		Category: CategoryThrottling,
		Message:  "429",
	}
	wrapped := fmt.Errorf("scan failed: %w", inner)

	got := Classify(wrapped)
	require.Equal(t, CodeRateLimited, got.Code)
}

func TestClassify_NilError(t *testing.T) {
	t.Parallel()

	got := Classify(nil)
	require.Equal(t, CodeUnknown, got.Code)
}

func TestClassify_PlainError(t *testing.T) {
	t.Parallel()

	got := Classify(errors.New("lookup example.com: no such host"))
	require.Equal(t, CodeDNSResolutionFailed, got.Code)
	require.Equal(t, CategoryPermanent, got.Category)
}

func TestRetryStrategyFor_Permanent(t *testing.T) {
	t.Parallel()

	for _, code := range []Code{
		CodeDNSResolutionFailed,
		CodeCertificateError,
		CodePageNotFound,
		CodeAccessForbidden,
		CodeIPBlocked,
		CodeUnknown,
	} {
		s := RetryStrategyFor(code)
		require.False(t, s.ShouldRetry, "code %s", code)
		require.Zero(t, s.Delay)
		require.Zero(t, s.MaxAttempts)
	}
}

func TestRetryStrategyFor_TransientNetwork(t *testing.T) {
	t.Parallel()

	s := RetryStrategyFor(CodeConnectionTimeout)
	require.True(t, s.ShouldRetry)
	require.Equal(t, 2000*time.Millisecond, s.Delay)
	require.Equal(t, 2, s.MaxAttempts)
	require.Equal(t, float64(2), s.BackoffMultiplier)
}

func TestRetryStrategyFor_Throttling(t *testing.T) {
	t.Parallel()

	s := RetryStrategyFor(CodeRateLimited)
	require.True(t, s.ShouldRetry)
	require.Equal(t, 30000*time.Millisecond, s.Delay)
	require.Equal(t, 1, s.MaxAttempts)
}

func TestRetryStrategyFor_AutomationEngine(t *testing.T) {
	t.Parallel()

	for _, code := range []Code{
		CodeBrowserSessionClosed,
		CodeContextDestroyed,
		CodeFrameDetached,
		CodeBrowserCrashed,
	} {
		s := RetryStrategyFor(code)
		require.True(t, s.ShouldRetry, "code %s", code)
		require.Equal(t, 1000*time.Millisecond, s.Delay)
		require.Equal(t, 1, s.MaxAttempts)
	}
}

func TestDelayForAttempt_Backoff(t *testing.T) {
	t.Parallel()

	s := RetryStrategyFor(CodeConnectionTimeout)
	require.Equal(t, 2*time.Second, s.DelayForAttempt(1))
	require.Equal(t, 4*time.Second, s.DelayForAttempt(2))

	require.Zero(t, noRetry.DelayForAttempt(1))
}

func TestIsCrash(t *testing.T) {
	t.Parallel()

	require.True(t, ClassifyMessage("browser has crashed").IsCrash())
	require.True(t, ClassifyMessage("frame detached").IsCrash())
	require.False(t, ClassifyMessage("HTTP 429").IsCrash())
	require.False(t, ClassifyMessage("no such host").IsCrash())
}
