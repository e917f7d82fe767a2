package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{6,}\d`)
)

var socialHosts = map[string]bool{
	"twitter.com":   true,
	"x.com":         true,
	"facebook.com":  true,
	"instagram.com": true,
	"linkedin.com":  true,
	"youtube.com":   true,
	"tiktok.com":    true,
	"github.com":    true,
	"pinterest.com": true,
}

// dedupe keeps the first spelling of each case-insensitive key.
type dedupe struct {
	seen map[string]struct{}
	out  []string
}

func newDedupe() *dedupe { return &dedupe{seen: make(map[string]struct{}), out: []string{}} }

func (d *dedupe) add(value, key string) {
	if value == "" || key == "" {
		return
	}
	key = strings.ToLower(key)
	if _, ok := d.seen[key]; ok {
		return
	}
	d.seen[key] = struct{}{}
	d.out = append(d.out, value)
}

func leads(doc *goquery.Document, base *url.URL) scrape.Leads {
	emails, phones, socials := newDedupe(), newDedupe(), newDedupe()

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lower, "mailto:"):
			addr := href[len("mailto:"):]
			if i := strings.IndexByte(addr, '?'); i >= 0 {
				addr = addr[:i]
			}
			if unescaped, err := url.PathUnescape(addr); err == nil {
				addr = unescaped
			}
			emails.add(addr, addr)
		case strings.HasPrefix(lower, "tel:"):
			num := strings.TrimSpace(href[len("tel:"):])
			phones.add(num, digits(num))
		default:
			if abs := resolve(base, href); abs != "" && isSocialProfile(abs) {
				socials.add(abs, strings.TrimSuffix(abs, "/"))
			}
		}
	})

	text := doc.Find("body").Text()
	for _, m := range emailPattern.FindAllString(text, -1) {
		emails.add(m, m)
	}
	for _, m := range phonePattern.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		if d := digits(m); len(d) >= 8 && len(d) <= 15 {
			phones.add(m, d)
		}
	}
	return scrape.Leads{Emails: emails.out, Phones: phones.out, Socials: socials.out}
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isSocialProfile(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	return socialHosts[host] && strings.Trim(u.Path, "/") != ""
}
