package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	selectorResultTile = "div._3Y0hT"
	nextPageLabel      = "Next"
)

// DiscoverLinks returns the detail link of every result tile in render
// order. Tiles without an anchor are skipped; their count is returned
// alongside the links.
func DiscoverLinks(doc *goquery.Document) ([]string, int) {
	if doc == nil {
		return nil, 0
	}

	var links []string
	skipped := 0
	doc.Find(selectorResultTile).Each(func(_ int, tile *goquery.Selection) {
		href, ok := tile.Find("a[href]").First().Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			skipped++
			return
		}
		links = append(links, absoluteURL(doc.Url, href))
	})
	return links, skipped
}

// NextPageURL locates the pagination anchor labeled "Next".
func NextPageURL(doc *goquery.Document) (string, bool) {
	if doc == nil {
		return "", false
	}

	var next string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.TrimSpace(a.Text()) != nextPageLabel {
			return true
		}
		href, _ := a.Attr("href")
		if strings.TrimSpace(href) == "" {
			return true
		}
		next = absoluteURL(doc.Url, href)
		return false
	})
	return next, next != ""
}

func absoluteURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
