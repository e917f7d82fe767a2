// Package captcha detects challenge widgets, obtains a solution token from an
// external solving service and injects it back into the page.
package captcha

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind is a challenge widget family.
type Kind string

// Supported widget families.
const (
	KindRecaptchaV2 Kind = "recaptcha_v2"
	KindHCaptcha    Kind = "hcaptcha"
	KindTurnstile   Kind = "turnstile"
	KindGeneric     Kind = "generic"
)

// Detection describes the challenge found on a page.
type Detection struct {
	Present  bool
	Kind     Kind
	SiteKey  string
	Callback string
}

// Page is the slice of a browser session the workflow needs.
type Page interface {
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, js string, out any) error
}

type family struct {
	kind       Kind
	widget     string
	iframeHost string
}

var families = []family{
	{kind: KindRecaptchaV2, widget: ".g-recaptcha", iframeHost: "google.com/recaptcha"},
	{kind: KindRecaptchaV2, widget: ".g-recaptcha", iframeHost: "recaptcha.net/recaptcha"},
	{kind: KindHCaptcha, widget: ".h-captcha", iframeHost: "hcaptcha.com"},
	{kind: KindTurnstile, widget: ".cf-turnstile", iframeHost: "challenges.cloudflare.com"},
}

// Detect reads the page DOM and looks for known challenge markers.
func Detect(ctx context.Context, page Page) (Detection, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return Detection{}, fmt.Errorf("read page html: %w", err)
	}
	return DetectHTML(html), nil
}

// DetectHTML looks for challenge widgets in an HTML document.
func DetectHTML(html string) Detection {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Detection{}
	}

	for _, f := range families {
		if sel := doc.Find(f.widget).First(); sel.Length() > 0 {
			key, _ := sel.Attr("data-sitekey")
			cb, _ := sel.Attr("data-callback")
			return Detection{Present: true, Kind: f.kind, SiteKey: key, Callback: cb}
		}
	}

	var found Detection
	doc.Find("iframe").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		for _, f := range families {
			if strings.Contains(src, f.iframeHost) {
				found = Detection{Present: true, Kind: f.kind, SiteKey: siteKeyFromSrc(src)}
				return false
			}
		}
		title, _ := s.Attr("title")
		if strings.Contains(strings.ToLower(src+" "+title), "captcha") {
			found = Detection{Present: true, Kind: KindGeneric}
			return false
		}
		return true
	})
	return found
}

func siteKeyFromSrc(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, name := range []string{"k", "sitekey"} {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}
