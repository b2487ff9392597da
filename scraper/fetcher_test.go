package scraper

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-gallery/config"
	"github.com/aluiziolira/go-scrape-gallery/models"
	"github.com/aluiziolira/go-scrape-gallery/parser"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(phaseDetail, tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestClassifyErrorNamesPhase(t *testing.T) {
	err := classifyError(phaseSearch, nil, http.StatusTooManyRequests)
	if got := err.Error(); got != "search request rate limited: http status 429" {
		t.Fatalf("message=%q", got)
	}

	err = classifyError(phaseImage, context.DeadlineExceeded, 0)
	var timeout ErrTimeout
	if !errors.As(err, &timeout) || timeout.Phase != phaseImage {
		t.Fatalf("err=%#v, want image ErrTimeout", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout should unwrap to the deadline error")
	}
	if got := (ErrNotFound{}).Error(); got != "page request not found" {
		t.Fatalf("message=%q", got)
	}
}

func TestFailureReasonOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected models.FailureReason
	}{
		{name: "fetch failed", err: ErrFetchFailed{URL: "u", StatusCode: 500}, expected: models.ReasonFetchFailed},
		{name: "timeout", err: ErrFetchFailed{URL: "u", Err: ErrTimeout{Err: context.DeadlineExceeded}}, expected: models.ReasonFetchFailed},
		{name: "malformed", err: ErrMalformedDocument{Field: "image_title"}, expected: models.ReasonMalformedDocument},
		{name: "invalid metric", err: parser.ErrInvalidMetricFormat{Value: "x"}, expected: models.ReasonMalformedDocument},
		{name: "missing metric", err: parser.ErrMissingMetric{Label: "Views"}, expected: models.ReasonMalformedDocument},
		{name: "unknown", err: errors.New("boom"), expected: models.ReasonFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FailureReasonOf(tt.err); got != tt.expected {
				t.Fatalf("FailureReasonOf(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryPolicyRespectsLimit(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = time.Millisecond

	rp := newRetryPolicy(cfg, NewMetrics())
	transient := ErrFetchFailed{URL: "u", StatusCode: http.StatusBadGateway}

	if !rp.Wait(context.Background(), 1, transient) {
		t.Fatalf("first retry should be allowed")
	}
	if !rp.Wait(context.Background(), 2, transient) {
		t.Fatalf("second retry should be allowed")
	}
	if rp.Wait(context.Background(), 3, transient) {
		t.Fatalf("third retry should not be allowed")
	}
	if got := rp.TotalRetries(); got != 2 {
		t.Fatalf("total retries = %d, want 2", got)
	}
}

func TestRetryPolicySkipsPermanentErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 3

	rp := newRetryPolicy(cfg, nil)
	notFound := ErrFetchFailed{URL: "u", StatusCode: http.StatusNotFound, Err: ErrNotFound{Err: errors.New("404")}}
	if rp.Wait(context.Background(), 1, notFound) {
		t.Fatalf("404 should not be retried")
	}
	if rp.Wait(context.Background(), 1, ErrMalformedDocument{Field: "metrics"}) {
		t.Fatalf("malformed documents should not be retried")
	}
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryBackoff = time.Hour
	cfg.RetryBackoffMax = time.Hour

	rp := newRetryPolicy(cfg, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if rp.Wait(ctx, 1, ErrTimeout{Err: context.DeadlineExceeded}) {
		t.Fatalf("wait should give up when the context ends")
	}
}

func TestRetryPolicyBackoffCapped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	rp := newRetryPolicy(cfg, nil)

	if got := rp.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("backoff(1)=%v, want 200ms", got)
	}
	if got := rp.backoff(4); got != cfg.RetryBackoffMax {
		t.Fatalf("backoff(4)=%v, want %v", got, cfg.RetryBackoffMax)
	}
}

func TestCollyFetcher(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://gallery.test/ok", htmlResponder("<html>ok</html>"))
	transport.RegisterResponder("GET", "http://gallery.test/missing", httpmock.NewStringResponder(http.StatusNotFound, ""))
	transport.RegisterResponder("GET", "http://gallery.test/down", httpmock.NewErrorResponder(errors.New("connection reset")))

	base := colly.NewCollector(colly.AllowURLRevisit())
	base.WithTransport(transport)

	var requests int64
	var observed []error
	f := newCollyFetcher(base, phaseDetail, nil, nil, &requests)
	f.onError = func(err error) { observed = append(observed, err) }

	body, err := f.Fetch(context.Background(), "http://gallery.test/ok")
	if err != nil {
		t.Fatalf("fetch ok: %v", err)
	}
	if string(body) != "<html>ok</html>" {
		t.Fatalf("body=%q", body)
	}

	_, err = f.Fetch(context.Background(), "http://gallery.test/missing")
	var fetchErr ErrFetchFailed
	if !errors.As(err, &fetchErr) || fetchErr.StatusCode != http.StatusNotFound {
		t.Fatalf("err=%v, want ErrFetchFailed with 404", err)
	}
	var notFound ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("err=%v, want wrapped ErrNotFound", err)
	}

	_, err = f.Fetch(context.Background(), "http://gallery.test/down")
	if !errors.As(err, &fetchErr) || fetchErr.StatusCode != 0 {
		t.Fatalf("err=%v, want ErrFetchFailed without status", err)
	}
	if FailureReasonOf(err) != models.ReasonFetchFailed {
		t.Fatalf("transport errors should map to FetchFailed")
	}

	if requests != 3 {
		t.Fatalf("requests=%d, want 3", requests)
	}
	if len(observed) != 2 {
		t.Fatalf("observed errors=%d, want 2", len(observed))
	}
}

func TestCollyFetcherCanceledContext(t *testing.T) {
	transport := httpmock.NewMockTransport()
	base := colly.NewCollector()
	base.WithTransport(transport)

	var requests int64
	f := newCollyFetcher(base, phaseDetail, nil, nil, &requests)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, "http://gallery.test/ok")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("no request should reach the transport")
	}
}

func TestImageFileName(t *testing.T) {
	tests := map[string]string{
		"https://images.test/full/sunset.png?token=abc": "sunset.png",
		"https://images.test/a/b/c.jpg":                 "c.jpg",
		"plain.gif":                                     "plain.gif",
		"https://images.test/dir/":                      "",
	}
	for in, want := range tests {
		if got := ImageFileName(in); got != want {
			t.Errorf("ImageFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
