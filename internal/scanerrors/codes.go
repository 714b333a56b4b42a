// Package scanerrors maps scan failures onto a closed taxonomy and the
// retry policy each class of failure deserves.
package scanerrors

// Code identifies one known failure condition.
type Code string

// Known failure codes. Anything that classifies to CodeUnknown is
// treated as non-retryable.
const (
	CodeDNSResolutionFailed  Code = "DNS_RESOLUTION_FAILED"
	CodeCertificateError     Code = "CERTIFICATE_ERROR"
	CodePageNotFound         Code = "PAGE_NOT_FOUND"
	CodeAccessForbidden      Code = "ACCESS_FORBIDDEN"
	CodeIPBlocked            Code = "IP_BLOCKED"
	CodeConnectionTimeout    Code = "CONNECTION_TIMEOUT"
	CodeNetworkChanged       Code = "NETWORK_CHANGED"
	CodeNavigationTimeout    Code = "NAVIGATION_TIMEOUT"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeCDNProtection        Code = "CDN_PROTECTION"
	CodeCaptchaRequired      Code = "CAPTCHA_REQUIRED"
	CodeBrowserSessionClosed Code = "BROWSER_SESSION_CLOSED"
	CodeContextDestroyed     Code = "CONTEXT_DESTROYED"
	CodeFrameDetached        Code = "FRAME_DETACHED"
	CodeBrowserCrashed       Code = "BROWSER_CRASHED"
	CodeUnknown              Code = "UNKNOWN"
)

// Category groups codes into the coarse handling buckets.
type Category string

// Failure categories.
const (
	CategoryPermanent        Category = "permanent"
	CategoryTransientNetwork Category = "transient-network"
	CategoryThrottling       Category = "throttling"
	CategoryAutomationEngine Category = "automation-engine"
	CategoryUnclassified     Category = "unclassified"
)

// CategoryOf returns the handling bucket for a code.
func CategoryOf(code Code) Category {
	switch code {
	case CodeDNSResolutionFailed, CodeCertificateError, CodePageNotFound,
		CodeAccessForbidden, CodeIPBlocked:
		return CategoryPermanent
	case CodeConnectionTimeout, CodeNetworkChanged, CodeNavigationTimeout:
		return CategoryTransientNetwork
	case CodeRateLimited, CodeCDNProtection, CodeCaptchaRequired:
		return CategoryThrottling
	case CodeBrowserSessionClosed, CodeContextDestroyed, CodeFrameDetached,
		CodeBrowserCrashed:
		return CategoryAutomationEngine
	default:
		return CategoryUnclassified
	}
}

// DetailedError is a classified scan failure. It is produced once at the
// point of failure and never mutated afterwards.
type DetailedError struct {
	Code     Code
	Category Category
	Message  string
}

// Error implements the error interface.
func (e DetailedError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// IsCrash reports whether the failure counts toward blacklist escalation.
// Only engine-side crashes do; ordinary site failures never blacklist a URL.
func (e DetailedError) IsCrash() bool {
	return e.Category == CategoryAutomationEngine
}
