package scraper

import (
	"errors"
	"testing"

	"github.com/aluiziolira/go-scrape-gallery/models"
	"github.com/aluiziolira/go-scrape-gallery/parser"
)

const testDetailURL = "http://gallery.test/art/sunset-1"

func extractFrom(t *testing.T, page detailPage) (*models.ImageRecord, error) {
	t.Helper()
	doc, err := parseDocument(testDetailURL, []byte(buildDetailPage(page)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return ExtractRecord(testDetailURL, doc)
}

func TestExtractRecordFullPage(t *testing.T) {
	record, err := extractFrom(t, detailPage{
		Title:       "Sunset",
		Metrics:     []string{"120 Favourites", "1.2K Views", "3 Comments", "340 Favourites", "7 Collected Privately"},
		Tags:        []string{"pixel", "sunset"},
		Location:    "Berlin",
		Description: "<p>Line one</p> <p>Line&nbsp;two</p>",
		Dimensions:  "1920x1080px 2.5 MB",
		LastComment: "Great work!",
		License:     "CC BY-NC",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if record.ImagePage != testDetailURL {
		t.Errorf("image_page=%q", record.ImagePage)
	}
	if record.ImageURL != "https://images.test/full/sunset.png?token=abc" {
		t.Errorf("image_url=%q", record.ImageURL)
	}
	if record.Title != "Sunset" || record.Author != "artist" {
		t.Errorf("title/author=%q/%q", record.Title, record.Author)
	}
	if record.Favs != 340 || record.Views != 1200 || record.Comments != 3 || record.PrivateCollections != 7 {
		t.Errorf("metrics=%d/%d/%d/%d", record.Favs, record.Views, record.Comments, record.PrivateCollections)
	}
	if len(record.Tags) != 2 || record.Tags[0] != "pixel" || record.Tags[1] != "sunset" {
		t.Errorf("tags=%q", record.Tags)
	}
	if record.Location == nil || *record.Location != "Berlin" {
		t.Errorf("location=%v", record.Location)
	}
	if record.Description == nil || *record.Description != "Line one Line\ntwo" {
		t.Errorf("description=%q", deref(record.Description))
	}
	if record.Pixels == nil || *record.Pixels != "1920x1080" {
		t.Errorf("pixels=%v", record.Pixels)
	}
	if record.SizeMB == nil || *record.SizeMB != 2.5 {
		t.Errorf("size=%v", record.SizeMB)
	}
	if record.PublishedDate != "2023-01-02T03:04:05.000Z" {
		t.Errorf("published=%q", record.PublishedDate)
	}
	if record.LastComment == nil || *record.LastComment != "Great work!" {
		t.Errorf("last comment=%v", record.LastComment)
	}
	if record.License == nil || *record.License != "CC BY-NC" {
		t.Errorf("license=%v", record.License)
	}
}

func TestExtractRecordOptionalFieldsAbsent(t *testing.T) {
	record, err := extractFrom(t, detailPage{
		Title:   "Bare",
		Metrics: []string{"1 Favourite", "2 Views"},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if record.Tags == nil || len(record.Tags) != 0 {
		t.Errorf("tags=%#v, want empty list", record.Tags)
	}
	if record.Location != nil || record.Description != nil || record.Pixels != nil ||
		record.SizeMB != nil || record.LastComment != nil || record.License != nil {
		t.Errorf("optional fields should be nil: %+v", record)
	}
	if record.Comments != 0 || record.PrivateCollections != 0 {
		t.Errorf("comments=%d private=%d, want 0/0", record.Comments, record.PrivateCollections)
	}
}

func TestExtractRecordSkipsLastCommentWithoutComments(t *testing.T) {
	record, err := extractFrom(t, detailPage{
		Title:       "Quiet",
		Metrics:     []string{"1 Favourite", "2 Views", "0 Comments"},
		LastComment: "stale",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if record.LastComment != nil {
		t.Fatalf("last comment=%q, want nil when comment count is 0", *record.LastComment)
	}
}

func TestExtractRecordMalformed(t *testing.T) {
	metrics := []string{"1 Favourite", "2 Views"}
	tests := []struct {
		name  string
		page  detailPage
		field string
	}{
		{name: "missing image", page: detailPage{Title: "x", Metrics: metrics, OmitImage: true}, field: "image_url"},
		{name: "missing title", page: detailPage{Metrics: metrics, OmitTitle: true}, field: "image_title"},
		{name: "empty title", page: detailPage{Title: " ", Metrics: metrics}, field: "image_title"},
		{name: "missing author", page: detailPage{Title: "x", Metrics: metrics, OmitAuthor: true}, field: "image_author"},
		{name: "missing metric bar", page: detailPage{Title: "x"}, field: "metrics"},
		{name: "missing views", page: detailPage{Title: "x", Metrics: []string{"1 Favourite"}}, field: "metrics"},
		{name: "invalid favourites", page: detailPage{Title: "x", Metrics: []string{"lots Favourites", "2 Views"}}, field: "metrics"},
		{name: "missing date", page: detailPage{Title: "x", Metrics: metrics, OmitDate: true}, field: "published_date"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := extractFrom(t, tt.page)
			var malformed ErrMalformedDocument
			if !errors.As(err, &malformed) {
				t.Fatalf("err=%v, want ErrMalformedDocument", err)
			}
			if malformed.Field != tt.field {
				t.Fatalf("field=%q, want %q", malformed.Field, tt.field)
			}
			if got := FailureReasonOf(err); got != models.ReasonMalformedDocument {
				t.Fatalf("reason=%q, want %q", got, models.ReasonMalformedDocument)
			}
		})
	}
}

func TestExtractRecordInvalidMetricUnwraps(t *testing.T) {
	_, err := extractFrom(t, detailPage{Title: "x", Metrics: []string{"1 Favourite", "??K Views"}})
	var invalid parser.ErrInvalidMetricFormat
	if !errors.As(err, &invalid) {
		t.Fatalf("err=%v, want wrapped ErrInvalidMetricFormat", err)
	}
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}
