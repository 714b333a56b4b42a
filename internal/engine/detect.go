// Package engine implements the browser automation boundary: loading a
// page and detecting a header-bidding library on it, either statically
// from fetched HTML or via headless Chrome when the page needs JS.
package engine

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// detectionScript runs inside the page and reports the Prebid global.
// It returns "" when absent, "unknown" when present without a readable
// version, or the version string.
const detectionScript = `(function() {
	if (typeof window.pbjs === 'undefined') { return ''; }
	if (window.pbjs.version) { return String(window.pbjs.version); }
	return 'unknown';
})()`

var prebidScriptPattern = regexp.MustCompile(`(?i)prebid[^"']*\.js`)

// StaticDetection is the outcome of inspecting raw HTML without a
// browser. Inconclusive pages need a headless pass: many sites load
// Prebid through tag managers invisible to static HTML.
type StaticDetection struct {
	HasPrebid  bool
	Version    string
	Conclusive bool
}

// DetectStatic inspects HTML for Prebid signals: script tags referencing
// a prebid bundle, or inline pbjs bootstrapping. A positive finding is
// conclusive; a negative one is not.
func DetectStatic(html []byte) StaticDetection {
	if len(html) == 0 {
		return StaticDetection{}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err == nil {
		found := false
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if src, ok := s.Attr("src"); ok && prebidScriptPattern.MatchString(src) {
				found = true
				return false
			}
			text := s.Text()
			if strings.Contains(text, "pbjs.que") || strings.Contains(text, "window.pbjs") {
				found = true
				return false
			}
			return true
		})
		if found {
			return StaticDetection{HasPrebid: true, Version: versionFromHTML(html), Conclusive: true}
		}
	}

	if bytes.Contains(bytes.ToLower(html), []byte("pbjs.processqueue")) {
		return StaticDetection{HasPrebid: true, Version: versionFromHTML(html), Conclusive: true}
	}
	return StaticDetection{}
}

var versionPattern = regexp.MustCompile(`pbjs\.version\s*[:=]\s*["']v?([0-9]+\.[0-9]+\.[0-9]+)["']`)

func versionFromHTML(html []byte) string {
	match := versionPattern.FindSubmatch(html)
	if match == nil {
		return "unknown"
	}
	return string(match[1])
}
