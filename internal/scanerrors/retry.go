package scanerrors

import "time"

// RetryStrategy is the policy derived from a failure code: whether to
// retry at all, how long to wait, and how the wait grows per attempt.
type RetryStrategy struct {
	ShouldRetry       bool
	Delay             time.Duration
	MaxAttempts       int
	BackoffMultiplier float64
}

var noRetry = RetryStrategy{}

// RetryStrategyFor is a pure lookup from failure code to retry policy.
// Codes outside the known taxonomy never retry.
func RetryStrategyFor(code Code) RetryStrategy {
	switch CategoryOf(code) {
	case CategoryTransientNetwork:
		return RetryStrategy{
			ShouldRetry:       true,
			Delay:             2000 * time.Millisecond,
			MaxAttempts:       2,
			BackoffMultiplier: 2,
		}
	case CategoryThrottling:
		// Long single retry; hammering a throttled host amplifies the block.
		return RetryStrategy{
			ShouldRetry:       true,
			Delay:             30000 * time.Millisecond,
			MaxAttempts:       1,
			BackoffMultiplier: 1,
		}
	case CategoryAutomationEngine:
		return RetryStrategy{
			ShouldRetry:       true,
			Delay:             1000 * time.Millisecond,
			MaxAttempts:       1,
			BackoffMultiplier: 1,
		}
	default:
		return noRetry
	}
}

// DelayForAttempt applies the multiplicative backoff for a 1-based retry
// attempt number. Attempt 1 waits Delay, attempt 2 waits
// Delay*BackoffMultiplier, and so on.
func (s RetryStrategy) DelayForAttempt(attempt int) time.Duration {
	if !s.ShouldRetry || attempt <= 0 {
		return 0
	}
	delay := s.Delay
	multiplier := s.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * multiplier)
	}
	return delay
}
