package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Browser renders a search results page into a navigable document.
// Implementations must stay usable after a failed render; only errors
// wrapping ErrBrowserUnavailable are treated as fatal.
type Browser interface {
	Render(ctx context.Context, pageURL string) (*goquery.Document, error)
}

// CollyBrowser renders search pages by fetching them through the shared
// collector and parsing the body with goquery.
type CollyBrowser struct {
	fetcher PageFetcher
}

// NewCollyBrowser wraps a fetcher as a Browser.
func NewCollyBrowser(fetcher PageFetcher) *CollyBrowser {
	return &CollyBrowser{fetcher: fetcher}
}

// Render fetches pageURL and returns its parsed document with Url set, so
// relative links resolve against the page.
func (b *CollyBrowser) Render(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if b == nil || b.fetcher == nil {
		return nil, ErrBrowserUnavailable
	}
	body, err := b.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return parseDocument(pageURL, body)
}

func parseDocument(pageURL string, body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, ErrMalformedDocument{Field: "document", Err: err}
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc.Url = parsed
	return doc, nil
}
