package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-gallery/models"
)

// StopReason explains why a topic walk ended.
type StopReason string

const (
	StopPageCap    StopReason = "page_cap"
	StopNoNextPage StopReason = "no_next_page"
	StopFetchError StopReason = "fetch_error"
	StopCanceled   StopReason = "canceled"
)

// WalkSummary describes one finished topic walk.
type WalkSummary struct {
	Topic string
	Pages int
	Links int
	Stop  StopReason
	Err   error
}

// LinkHandler receives the links discovered on one search page.
type LinkHandler func(cursor models.PageCursor, links []string)

// Walker drives the search result pages of a topic, one page at a time.
type Walker struct {
	browser   Browser
	pageDelay time.Duration
	metrics   *Metrics
}

// NewWalker builds a walker over browser, pausing pageDelay after every
// rendered page.
func NewWalker(browser Browser, pageDelay time.Duration, metrics *Metrics) *Walker {
	return &Walker{browser: browser, pageDelay: pageDelay, metrics: metrics}
}

// Walk visits at most maxPages search pages for topic starting at startURL
// and hands each page's links to handle. Ordinary page failures and a missing
// "Next" control end the walk and are reported in the summary. Only a fatal
// browser error or cancellation of ctx is returned as an error.
func (w *Walker) Walk(ctx context.Context, topic, startURL string, maxPages int, handle LinkHandler) (WalkSummary, error) {
	summary := WalkSummary{Topic: topic}
	cursor := models.PageCursor{Topic: topic, PageIndex: 0, SearchURL: startURL}

	for cursor.PageIndex < maxPages {
		if err := ctx.Err(); err != nil {
			summary.Stop = StopCanceled
			summary.Err = err
			return summary, err
		}

		doc, err := w.browser.Render(ctx, cursor.SearchURL)
		if err != nil {
			summary.Err = err
			if errors.Is(err, ErrBrowserUnavailable) {
				summary.Stop = StopFetchError
				return summary, fmt.Errorf("render %s: %w", cursor.SearchURL, err)
			}
			if ctx.Err() != nil {
				summary.Stop = StopCanceled
				return summary, ctx.Err()
			}
			summary.Stop = StopFetchError
			slog.Warn("search page fetch failed",
				slog.String("topic", topic),
				slog.Int("page", cursor.PageIndex),
				slog.String("url", cursor.SearchURL),
				slog.Any("error", err),
			)
			return summary, nil
		}
		summary.Pages++
		w.metrics.IncPages()

		if err := sleepContext(ctx, w.pageDelay); err != nil {
			summary.Stop = StopCanceled
			summary.Err = err
			return summary, err
		}

		links, skipped := DiscoverLinks(doc)
		if skipped > 0 {
			slog.Warn("result tiles without link",
				slog.String("topic", topic),
				slog.Int("page", cursor.PageIndex),
				slog.Int("skipped", skipped),
			)
		}
		summary.Links += len(links)
		w.metrics.AddLinks(len(links))
		slog.Info("search page walked",
			slog.String("topic", topic),
			slog.Int("page", cursor.PageIndex),
			slog.Int("links", len(links)),
		)
		handle(cursor, links)

		next, ok := NextPageURL(doc)
		if !ok {
			summary.Stop = StopNoNextPage
			summary.Err = ErrNavigation{Topic: topic, Page: cursor.PageIndex}
			slog.Info("pagination ended",
				slog.String("topic", topic),
				slog.Any("reason", summary.Err),
			)
			return summary, nil
		}
		cursor.SearchURL = next
		cursor.PageIndex++
	}

	summary.Stop = StopPageCap
	return summary, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
