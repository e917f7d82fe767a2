// Package extract turns fetched HTML into structured page data.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// Limits bounds extraction output.
type Limits struct {
	MaxContentLength int
	MaxLinks         int
	// MinImageSize drops images whose declared width or height is below it.
	MinImageSize int
	// PreferOpenGraph takes og:title/og:description ahead of the document's own.
	PreferOpenGraph bool
	// LinkScope restricts link collection to elements matching this selector.
	LinkScope string
}

// DefaultLimits mirrors scrape.Options defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxContentLength: scrape.DefaultMaxContentLength,
		MaxLinks:         scrape.DefaultMaxLinks,
		MinImageSize:     50,
	}
}

// LimitsFor derives limits from job options, keeping defaults for unset fields.
func LimitsFor(base Limits, opts scrape.Options) Limits {
	if opts.MaxContentLength > 0 {
		base.MaxContentLength = opts.MaxContentLength
	}
	if opts.MaxLinks > 0 {
		base.MaxLinks = opts.MaxLinks
	}
	return base
}

var noiseSelectors = "script, style, noscript, nav, footer, header, aside, iframe, svg, template"

var whitespace = regexp.MustCompile(`\s+`)

// Extract parses html fetched from pageURL.
func Extract(html string, pageURL string, limits Limits) (scrape.PageData, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return scrape.PageData{}, fmt.Errorf("parse html: %w: %w", scrape.ErrExtraction, err)
	}
	base, err := baseURL(doc, pageURL)
	if err != nil {
		return scrape.PageData{}, fmt.Errorf("resolve base url: %w: %w", scrape.ErrExtraction, err)
	}

	data := scrape.PageData{
		URL:            pageURL,
		Title:          title(doc, limits.PreferOpenGraph),
		Description:    description(doc, limits.PreferOpenGraph),
		Heading:        collapse(doc.Find("h1").First().Text()),
		Links:          links(doc, base, limits),
		Media:          media(doc, base, limits.MinImageSize),
		StructuredData: jsonLD(doc),
	}
	data.Leads = leads(doc, base)

	// Everything below works on the cleaned body.
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body.Find(noiseSelectors).Remove()
	data.Content = truncate(collapse(body.Text()), limits.MaxContentLength)
	if cleaned, err := body.Html(); err == nil {
		data.Markdown = truncate(Markdown(cleaned, base.Host), limits.MaxContentLength)
	}
	return data, nil
}

// Markdown renders an HTML fragment as Markdown. Conversion errors yield an empty string.
func Markdown(html string, domain string) string {
	converter := md.NewConverter(domain, true, nil)
	out, err := converter.ConvertString(html)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func baseURL(doc *goquery.Document, pageURL string) (*url.URL, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			return page.ResolveReference(ref), nil
		}
	}
	return page, nil
}

func meta(doc *goquery.Document, key string) string {
	sel := fmt.Sprintf(`meta[name=%q], meta[property=%q]`, key, key)
	v, _ := doc.Find(sel).First().Attr("content")
	return collapse(v)
}

func title(doc *goquery.Document, preferOG bool) string {
	own := collapse(doc.Find("title").First().Text())
	og := meta(doc, "og:title")
	if preferOG && og != "" {
		return og
	}
	if own == "" {
		return og
	}
	return own
}

func description(doc *goquery.Document, preferOG bool) string {
	own := meta(doc, "description")
	og := meta(doc, "og:description")
	if preferOG && og != "" {
		return og
	}
	if own == "" {
		return og
	}
	return own
}

func links(doc *goquery.Document, base *url.URL, limits Limits) []string {
	scope := doc.Selection
	if limits.LinkScope != "" {
		scope = doc.Find(limits.LinkScope)
	}
	seen := make(map[string]struct{})
	out := []string{}
	scope.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limits.MaxLinks > 0 && len(out) >= limits.MaxLinks {
			return false
		}
		abs := resolve(base, s.AttrOr("href", ""))
		if abs == "" {
			return true
		}
		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
		return true
	})
	return out
}

// resolve returns an absolute http(s) URL without fragment, or "".
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

var trackingSrc = regexp.MustCompile(`(?i)(pixel|beacon|spacer|tracking|/track)`)

func media(doc *goquery.Document, base *url.URL, minSize int) []scrape.Media {
	seen := make(map[string]struct{})
	out := []scrape.Media{}
	add := func(m scrape.Media) {
		if _, dup := seen[m.URL]; dup {
			return
		}
		seen[m.URL] = struct{}{}
		out = append(out, m)
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("src", s.AttrOr("data-src", "")))
		if src == "" || strings.HasPrefix(src, "data:") || trackingSrc.MatchString(src) {
			return
		}
		w, h := dimension(s.AttrOr("width", "")), dimension(s.AttrOr("height", ""))
		if (w > 0 && w < minSize) || (h > 0 && h < minSize) {
			return
		}
		abs := resolve(base, src)
		if abs == "" {
			return
		}
		add(scrape.Media{URL: abs, Type: "image", Alt: collapse(s.AttrOr("alt", "")), Width: w, Height: h})
	})

	doc.Find("video").Each(func(_ int, s *goquery.Selection) {
		src := s.AttrOr("src", "")
		if src == "" {
			src = s.Find("source[src]").First().AttrOr("src", "")
		}
		if abs := resolve(base, src); abs != "" {
			add(scrape.Media{URL: abs, Type: "video"})
		}
	})
	return out
}

func dimension(raw string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(raw), "px"))
	if err != nil {
		return 0
	}
	return n
}

func jsonLD(doc *goquery.Document) []string {
	out := []string{}
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if block := strings.TrimSpace(s.Text()); block != "" {
			out = append(out, block)
		}
	})
	return out
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
