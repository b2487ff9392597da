// Package models defines data structures for the scraper.
package models

import "time"

// ImageRecord is the typed result extracted from one detail page.
// Optional fields are nil when the page does not carry them.
type ImageRecord struct {
	ImagePage          string   `json:"image_page"`
	ImageURL           string   `json:"image_url"`
	Title              string   `json:"image_title"`
	Author             string   `json:"image_author"`
	Favs               int64    `json:"image_favs"`
	Comments           int64    `json:"image_com"`
	Views              int64    `json:"image_views"`
	PrivateCollections int64    `json:"private_collections"`
	Tags               []string `json:"tags"`
	Location           *string  `json:"location"`
	Description        *string  `json:"description"`
	Pixels             *string  `json:"image_px"`
	SizeMB             *float64 `json:"image_size"`
	PublishedDate      string   `json:"published_date"`
	LastComment        *string  `json:"last_comment"`
	License            *string  `json:"image_license"`
}

// PageCursor is the pagination position of one topic walk.
type PageCursor struct {
	Topic     string
	PageIndex int
	SearchURL string
}

// FailureReason names why a detail link produced no record.
type FailureReason string

const (
	ReasonFetchFailed       FailureReason = "FetchFailed"
	ReasonMalformedDocument FailureReason = "MalformedDocument"
)

// ExtractionFailure is recorded in place of an ImageRecord.
type ExtractionFailure struct {
	Topic   string        `json:"search_topic"`
	PageNum int           `json:"page_num"`
	Link    string        `json:"link"`
	Reason  FailureReason `json:"reason"`
	Detail  string        `json:"detail,omitempty"`
}

// ScraperResult holds the overall result of a crawl run.
type ScraperResult struct {
	RunID           string
	StartTime       time.Time
	EndTime         time.Time
	Topics          int
	PageCount       int
	LinksDiscovered int
	TotalCount      int
	FailureCount    int
	ErrorCount      int
	FailedURLs      []string
	ErrorsByType    map[string]int
	RetryCount      int
	RequestCount    int
	StopReasons     map[string]string
	Interrupted     bool
}
