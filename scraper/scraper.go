package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-gallery/config"
	"github.com/aluiziolira/go-scrape-gallery/models"
)

// Recorder receives the outcome of every discovered detail link. Exactly one
// call is made per link.
type Recorder interface {
	RecordSuccess(topic string, pageIndex int, record *models.ImageRecord)
	RecordFailure(failure models.ExtractionFailure)
}

// Scraper walks topic search pages and extracts detail pages on a bounded
// worker pool.
type Scraper struct {
	RunID   string
	Metrics *Metrics

	cfg       *config.Config
	collector *colly.Collector
	browser   Browser
	details   PageFetcher
	images    PageFetcher
	limiter   *rate.Limiter
	retry     *retryPolicy

	requestCount int64
	errorCount   int64
	failureCount int64
	itemCount    int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism + 1,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	s := &Scraper{
		RunID:        uuid.NewString(),
		Metrics:      NewMetrics(),
		cfg:          cfg,
		collector:    collector,
		limiter:      rate.NewLimiter(limit, 1),
		errorsByType: make(map[string]int),
	}
	s.retry = newRetryPolicy(cfg, s.Metrics)

	search := newCollyFetcher(collector, phaseSearch, s.retry, s.Metrics, &s.requestCount)
	search.onError = s.recordError
	details := newCollyFetcher(collector, phaseDetail, s.retry, s.Metrics, &s.requestCount)
	details.onError = s.recordError
	images := newCollyFetcher(collector, phaseImage, nil, s.Metrics, &s.requestCount)

	s.browser = NewCollyBrowser(search)
	s.details = details
	s.images = images
	return s, nil
}

// WithTransport replaces the HTTP transport shared by every request phase.
func (s *Scraper) WithTransport(transport http.RoundTripper) {
	s.collector.WithTransport(transport)
}

// SetBrowser replaces the search page browser.
func (s *Scraper) SetBrowser(b Browser) {
	s.browser = b
}

// Run walks every configured topic in order and extracts each discovered link
// exactly once, reporting the outcome to rec. The returned error is non-nil
// only for fatal browser failures or cancellation; the result is always
// populated with what was collected.
func (s *Scraper) Run(ctx context.Context, rec Recorder) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	walker := NewWalker(s.browser, s.cfg.PageDelay, s.Metrics)

	// Links handed to the pool after cancellation still reach rec as
	// FetchFailed, so nothing discovered is dropped.
	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)

	result := &models.ScraperResult{
		RunID:       s.RunID,
		StartTime:   start,
		Topics:      len(s.cfg.Topics),
		StopReasons: make(map[string]string, len(s.cfg.Topics)),
	}

	var runErr error
	for _, topic := range s.cfg.Topics {
		slog.Info("walking topic", slog.String("topic", topic), slog.Int("max_pages", s.cfg.MaxPages))

		summary, err := walker.Walk(ctx, topic, s.cfg.SearchURL(topic), s.cfg.MaxPages, func(cursor models.PageCursor, links []string) {
			for _, link := range links {
				link := link
				g.Go(func() error {
					s.processLink(ctx, cursor, link, rec)
					return nil
				})
			}
		})

		result.PageCount += summary.Pages
		result.LinksDiscovered += summary.Links
		result.StopReasons[topic] = string(summary.Stop)

		if err != nil {
			runErr = err
			break
		}
	}

	_ = g.Wait()

	result.EndTime = time.Now()
	result.TotalCount = int(atomic.LoadInt64(&s.itemCount))
	result.FailureCount = int(atomic.LoadInt64(&s.failureCount))
	result.ErrorCount = int(atomic.LoadInt64(&s.errorCount))
	result.RequestCount = int(atomic.LoadInt64(&s.requestCount))
	result.RetryCount = s.retry.TotalRetries()
	result.FailedURLs = s.snapshotFailedURLs()
	result.ErrorsByType = s.snapshotErrors()

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			result.Interrupted = true
			return result, fmt.Errorf("crawl interrupted: %w", runErr)
		}
		return result, fmt.Errorf("crawl aborted: %w", runErr)
	}
	return result, nil
}

func (s *Scraper) processLink(ctx context.Context, cursor models.PageCursor, link string, rec Recorder) {
	s.Metrics.trackInFlight(1)
	defer s.Metrics.trackInFlight(-1)

	record, err := s.extract(ctx, link)
	if err != nil {
		s.recordFailure(rec, cursor, link, err)
		return
	}

	atomic.AddInt64(&s.itemCount, 1)
	s.Metrics.IncItems()
	rec.RecordSuccess(cursor.Topic, cursor.PageIndex, record)

	if s.cfg.DownloadImages {
		path, err := DownloadImage(ctx, s.images, record.ImageURL, s.cfg.ImagesDir)
		if err != nil {
			slog.Warn("image download failed",
				slog.String("url", record.ImageURL),
				slog.Any("error", err),
			)
			return
		}
		slog.Debug("image saved", slog.String("path", path))
	}
}

func (s *Scraper) extract(ctx context.Context, link string) (*models.ImageRecord, error) {
	if err := s.pace(ctx); err != nil {
		return nil, ErrFetchFailed{URL: link, Err: err}
	}

	body, err := s.details.Fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	doc, err := parseDocument(link, body)
	if err != nil {
		return nil, err
	}
	return ExtractRecord(link, doc)
}

// pace applies the per-worker courtesy delay followed by the global rate
// ceiling.
func (s *Scraper) pace(ctx context.Context) error {
	if err := sleepContext(ctx, s.cfg.Delay); err != nil {
		return err
	}
	return s.limiter.Wait(ctx)
}

func (s *Scraper) recordFailure(rec Recorder, cursor models.PageCursor, link string, err error) {
	reason := FailureReasonOf(err)
	atomic.AddInt64(&s.failureCount, 1)
	s.Metrics.IncFailure(string(reason))

	s.mu.Lock()
	s.failedURLs = append(s.failedURLs, link)
	s.mu.Unlock()

	slog.Warn("link extraction failed",
		slog.String("link", link),
		slog.String("topic", cursor.Topic),
		slog.Int("page", cursor.PageIndex),
		slog.String("reason", string(reason)),
		slog.Any("error", err),
	)
	rec.RecordFailure(models.ExtractionFailure{
		Topic:   cursor.Topic,
		PageNum: cursor.PageIndex,
		Link:    link,
		Reason:  reason,
		Detail:  err.Error(),
	})
}

func (s *Scraper) recordError(err error) {
	atomic.AddInt64(&s.errorCount, 1)
	category := errorTypeLabel(err)

	s.mu.Lock()
	s.errorsByType[category]++
	s.mu.Unlock()

	s.Metrics.IncError(category)
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}
