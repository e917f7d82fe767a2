package strategy

import (
	"context"

	"github.com/JakeFAU/webscrape-engine/internal/browser"
	"github.com/JakeFAU/webscrape-engine/internal/extract"
	"github.com/JakeFAU/webscrape-engine/internal/scrape"
)

// pageExtractor adapts extract.Extract to a browser session.
func pageExtractor(limits extract.Limits, tier scrape.Tier) browser.ExtractFunc {
	return func(_ context.Context, _ browser.Session, page browser.Page) (scrape.PageData, error) {
		base := page.FinalURL
		if base == "" {
			base = page.URL
		}
		data, err := extract.Extract(page.HTML, base, limits)
		if err != nil {
			return scrape.PageData{}, err
		}
		data.URL = page.URL
		data.FinalURL = page.FinalURL
		data.StatusCode = page.StatusCode
		data.FetchedAt = page.FetchedAt
		data.Tier = tier
		if data.Title == "" {
			data.Title = page.Title
		}
		return data, nil
	}
}
