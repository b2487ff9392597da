package scraper

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-gallery/models"
	"github.com/aluiziolira/go-scrape-gallery/parser"
)

// ErrBrowserUnavailable marks a browser failure that must abort the run.
var ErrBrowserUnavailable = errors.New("browser unavailable")

// Transport errors carry the request phase (search, detail or image) so a
// logged failure says which part of the crawl hit it.

// ErrTimeout indicates a request that exceeded the configured timeout.
type ErrTimeout struct {
	Phase string
	Err   error
}

func (e ErrTimeout) Error() string {
	return describeRequest(e.Phase, "timed out", e.Err)
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates the gallery host could not be reached.
type ErrConnection struct {
	Phase string
	Err   error
}

func (e ErrConnection) Error() string {
	return describeRequest(e.Phase, "could not connect", e.Err)
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrForbidden indicates the gallery refused the request (HTTP 403), usually
// because the crawl was flagged as automated.
type ErrForbidden struct {
	Phase string
	Err   error
}

func (e ErrForbidden) Error() string {
	return describeRequest(e.Phase, "forbidden", e.Err)
}

func (e ErrForbidden) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a deleted or hidden deviation (HTTP 404).
type ErrNotFound struct {
	Phase string
	Err   error
}

func (e ErrNotFound) Error() string {
	return describeRequest(e.Phase, "not found", e.Err)
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the gallery throttled the crawl (HTTP 429).
type ErrRateLimited struct {
	Phase string
	Err   error
}

func (e ErrRateLimited) Error() string {
	return describeRequest(e.Phase, "rate limited", e.Err)
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

func describeRequest(phase, what string, err error) string {
	if phase == "" {
		phase = "page"
	}
	if err == nil {
		return fmt.Sprintf("%s request %s", phase, what)
	}
	return fmt.Sprintf("%s request %s: %v", phase, what, err)
}

// ErrFetchFailed indicates a non-2xx status, timeout or transport error on a
// page request.
type ErrFetchFailed struct {
	URL        string
	StatusCode int
	Err        error
}

func (e ErrFetchFailed) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e ErrFetchFailed) Unwrap() error {
	return e.Err
}

// ErrMalformedDocument indicates a required field is missing or unparseable
// on a fetched page.
type ErrMalformedDocument struct {
	Field string
	Err   error
}

func (e ErrMalformedDocument) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed document: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("malformed document: missing %s", e.Field)
}

func (e ErrMalformedDocument) Unwrap() error {
	return e.Err
}

// ErrNavigation indicates the "Next" pagination control could not be found.
type ErrNavigation struct {
	Topic string
	Page  int
}

func (e ErrNavigation) Error() string {
	return fmt.Sprintf("no next page for topic %q after page %d", e.Topic, e.Page)
}

// FailureReasonOf maps an extraction error to the reason recorded for the link.
func FailureReasonOf(err error) models.FailureReason {
	var malformed ErrMalformedDocument
	if errors.As(err, &malformed) {
		return models.ReasonMalformedDocument
	}
	var invalid parser.ErrInvalidMetricFormat
	if errors.As(err, &invalid) {
		return models.ReasonMalformedDocument
	}
	var missing parser.ErrMissingMetric
	if errors.As(err, &missing) {
		return models.ReasonMalformedDocument
	}
	return models.ReasonFetchFailed
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var malformed ErrMalformedDocument
	if errors.As(err, &malformed) {
		return "malformed_document"
	}
	return "other"
}
