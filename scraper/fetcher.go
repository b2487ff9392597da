package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-gallery/config"
	"github.com/gocolly/colly/v2"
)

// Request phases used as metric labels.
const (
	phaseSearch = "search"
	phaseDetail = "detail"
	phaseImage  = "image"
)

const (
	ctxKeyStatus = "status"
	ctxKeyBody   = "body"
	ctxKeyStart  = "start"
)

// PageFetcher retrieves the raw body of a single URL.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// collyFetcher issues synchronous GET requests through a clone of the shared
// collector, so every phase reuses one transport and rate-limit rule.
type collyFetcher struct {
	collector *colly.Collector
	phase     string
	retry     *retryPolicy
	metrics   *Metrics
	requests  *int64

	onError func(err error)
}

func newCollyFetcher(base *colly.Collector, phase string, retry *retryPolicy, metrics *Metrics, requests *int64) *collyFetcher {
	c := base.Clone()
	if phase == phaseImage {
		c.MaxBodySize = 0
	}

	f := &collyFetcher{
		collector: c,
		phase:     phase,
		retry:     retry,
		metrics:   metrics,
		requests:  requests,
	}

	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxKeyStart, time.Now())
		current := atomic.AddInt64(f.requests, 1)
		f.metrics.IncRequest(f.phase)
		if current%50 == 0 {
			slog.Debug("scraper request progress",
				slog.Int64("requests", current),
				slog.String("phase", f.phase),
				slog.String("url", r.URL.String()),
			)
		}
	})

	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		r.Ctx.Put(ctxKeyBody, r.Body)
		f.observe(r.Ctx)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put(ctxKeyStatus, r.StatusCode)
		f.observe(r.Ctx)
	})

	return f
}

func (f *collyFetcher) observe(ctx *colly.Context) {
	if start, ok := ctx.GetAny(ctxKeyStart).(time.Time); ok {
		f.metrics.ObserveDuration(f.phase, time.Since(start))
	}
}

// Fetch returns the body of url, retrying transient failures according to
// the retry policy. Any failure is returned as ErrFetchFailed.
func (f *collyFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	attempt := 0
	for {
		body, err := f.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		if f.onError != nil {
			f.onError(err)
		}
		attempt++
		if !f.retry.Wait(ctx, attempt, err) {
			return nil, err
		}
		slog.Debug("retrying request",
			slog.String("url", url),
			slog.String("phase", f.phase),
			slog.Int("attempt", attempt),
		)
	}
}

func (f *collyFetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrFetchFailed{URL: url, Err: err}
	}

	reqCtx := colly.NewContext()
	err := f.collector.Request(http.MethodGet, url, nil, reqCtx, nil)

	status, _ := reqCtx.GetAny(ctxKeyStatus).(int)
	if err != nil {
		return nil, ErrFetchFailed{URL: url, StatusCode: status, Err: classifyError(f.phase, err, status)}
	}
	if status < 200 || status >= 300 {
		statusErr := fmt.Errorf("http status %d", status)
		return nil, ErrFetchFailed{URL: url, StatusCode: status, Err: classifyError(f.phase, statusErr, status)}
	}

	body, _ := reqCtx.GetAny(ctxKeyBody).([]byte)
	return body, nil
}

func classifyError(phase string, err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Phase: phase, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Phase: phase, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Phase: phase, Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Phase: phase, Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Phase: phase, Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Phase: phase, Err: wrapped}
		}
	}

	return err
}

// retryable reports whether a failed request is worth another attempt.
func retryable(err error) bool {
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return true
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return true
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return true
	}
	var fetch ErrFetchFailed
	if errors.As(err, &fetch) && fetch.StatusCode >= http.StatusInternalServerError {
		return true
	}
	return false
}

// retryPolicy decides whether and when a failed request is attempted again.
type retryPolicy struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
	metrics    *Metrics

	mu           sync.Mutex
	totalRetries int
}

func newRetryPolicy(cfg *config.Config, metrics *Metrics) *retryPolicy {
	return &retryPolicy{
		maxRetries: cfg.MaxRetries,
		base:       cfg.RetryBackoff,
		max:        cfg.RetryBackoffMax,
		metrics:    metrics,
	}
}

// Wait blocks for the backoff of the given attempt and reports whether the
// caller should retry. It returns false without waiting when retries are
// exhausted, the error is permanent, or ctx is done.
func (rp *retryPolicy) Wait(ctx context.Context, attempt int, err error) bool {
	if rp == nil || rp.maxRetries == 0 || attempt > rp.maxRetries || !retryable(err) {
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	rp.mu.Lock()
	rp.totalRetries++
	rp.mu.Unlock()
	rp.metrics.IncRetries()

	timer := time.NewTimer(rp.backoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (rp *retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rp.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if rp.max > 0 && delay > rp.max {
		delay = rp.max
	}
	return delay
}

// TotalRetries returns the number of retries scheduled so far.
func (rp *retryPolicy) TotalRetries() int {
	if rp == nil {
		return 0
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.totalRetries
}
