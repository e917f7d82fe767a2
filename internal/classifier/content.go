package classifier

import (
	"bytes"
	"strings"
)

// MinStaticBody is the byte length below which a script-heavy page is treated as a shell.
const MinStaticBody = 2048

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("<noscript>you need to enable javascript"),
}

// NeedsRendering inspects statically fetched HTML for signs that the real content
// is produced client-side, so a Fast-tier fetch should be promoted to a browser.
func NeedsRendering(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	if len(body) < MinStaticBody && scriptDensityHigh(body) {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range shellMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		relEnd := strings.Index(lower[contentStart:], closeTag)
		next := total
		if relEnd != -1 {
			next = contentStart + relEnd + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}

// blockTitles match interstitial challenge pages by title.
var blockTitles = []string{
	"just a moment",
	"attention required",
	"access denied",
	"access to this page has been denied",
	"are you a robot",
	"robot check",
	"security check",
	"ddos-guard",
	"pardon our interruption",
	"please verify you are a human",
}

// blockBodies match bot-check text in the page body.
var blockBodies = []string{
	"cf-browser-verification",
	"cf_chl_opt",
	"challenge-platform",
	"checking your browser before accessing",
	"enable javascript and cookies to continue",
	"verify you are human",
	"px-captcha",
	"_incapsula_resource",
	"request unsuccessful. incapsula",
	"automated access to this page",
	"unusual traffic from your computer network",
	"datadome",
}

// BlockSignature reports whether a page is a known block or challenge page and
// which signature matched.
func BlockSignature(title, body string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(title))
	for _, sig := range blockTitles {
		if strings.Contains(t, sig) {
			return "title: " + sig, true
		}
	}
	b := strings.ToLower(body)
	for _, sig := range blockBodies {
		if strings.Contains(b, sig) {
			return "body: " + sig, true
		}
	}
	return "", false
}
