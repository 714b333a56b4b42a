package scanerrors

import (
	"errors"
	"strings"
)

// classifierRule maps a lowercase message substring to a Code. Rules are
// checked in order; the first match wins, so more specific substrings
// come before generic ones.
type classifierRule struct {
	substring string
	code      Code
}

var classifierRules = []classifierRule{
	{"err_name_not_resolved", CodeDNSResolutionFailed},
	{"no such host", CodeDNSResolutionFailed},
	{"dns", CodeDNSResolutionFailed},
	{"err_cert", CodeCertificateError},
	{"certificate", CodeCertificateError},
	{"x509", CodeCertificateError},
	{"404", CodePageNotFound},
	{"not found", CodePageNotFound},
	{"403", CodeAccessForbidden},
	{"forbidden", CodeAccessForbidden},
	{"err_blocked_by_response", CodeIPBlocked},
	{"ip blocked", CodeIPBlocked},
	{"err_connection_timed_out", CodeConnectionTimeout},
	{"connection timed out", CodeConnectionTimeout},
	{"i/o timeout", CodeConnectionTimeout},
	{"err_network_changed", CodeNetworkChanged},
	{"network changed", CodeNetworkChanged},
	{"navigation timeout", CodeNavigationTimeout},
	{"context deadline exceeded", CodeNavigationTimeout},
	{"429", CodeRateLimited},
	{"too many requests", CodeRateLimited},
	{"rate limit", CodeRateLimited},
	{"cloudflare", CodeCDNProtection},
	{"cdn protection", CodeCDNProtection},
	{"captcha", CodeCaptchaRequired},
	{"session closed", CodeBrowserSessionClosed},
	{"target closed", CodeBrowserSessionClosed},
	{"context was destroyed", CodeContextDestroyed},
	{"execution context destroyed", CodeContextDestroyed},
	{"frame detached", CodeFrameDetached},
	{"detached frame", CodeFrameDetached},
	{"browser has crashed", CodeBrowserCrashed},
	{"chrome crashed", CodeBrowserCrashed},
	{"browser process", CodeBrowserCrashed},
}

// Classify turns a raw error into a DetailedError by matching the engine's
// message text against known failure signatures.
func Classify(err error) DetailedError {
	if err == nil {
		return DetailedError{Code: CodeUnknown, Category: CategoryUnclassified}
	}
	var detailed DetailedError
	if errors.As(err, &detailed) {
		return detailed
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a bare failure message string.
func ClassifyMessage(message string) DetailedError {
	lower := strings.ToLower(message)
	for _, rule := range classifierRules {
		if strings.Contains(lower, rule.substring) {
			return DetailedError{
				Code:     rule.code,
				Category: CategoryOf(rule.code),
				Message:  message,
			}
		}
	}
	return DetailedError{
		Code:     CodeUnknown,
		Category: CategoryUnclassified,
		Message:  message,
	}
}
