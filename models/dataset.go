package models

// Columns is the export column order for dataset rows.
var Columns = []string{
	"search_topic",
	"page_num",
	"image_page",
	"image_url",
	"image_title",
	"image_author",
	"image_favs",
	"image_com",
	"image_views",
	"private_collections",
	"tags",
	"location",
	"description",
	"image_px",
	"image_size",
	"published_date",
	"last_comment",
	"image_license",
}

// Row is one successfully extracted record plus its provenance.
type Row struct {
	SearchTopic string `json:"search_topic"`
	PageNum     int    `json:"page_num"`
	ImageRecord
}

// Field is a single named cell of a row.
type Field struct {
	Name  string
	Value any
}

// Fields returns the row as ordered key/value pairs following Columns.
// Nil optional fields stay nil; tags are always a list.
func (r *Row) Fields() []Field {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return []Field{
		{"search_topic", r.SearchTopic},
		{"page_num", r.PageNum},
		{"image_page", r.ImagePage},
		{"image_url", r.ImageURL},
		{"image_title", r.Title},
		{"image_author", r.Author},
		{"image_favs", r.Favs},
		{"image_com", r.Comments},
		{"image_views", r.Views},
		{"private_collections", r.PrivateCollections},
		{"tags", tags},
		{"location", derefString(r.Location)},
		{"description", derefString(r.Description)},
		{"image_px", derefString(r.Pixels)},
		{"image_size", derefFloat(r.SizeMB)},
		{"published_date", r.PublishedDate},
		{"last_comment", derefString(r.LastComment)},
		{"image_license", derefString(r.License)},
	}
}

// Dataset is the assembled crawl output. Failures never appear in Rows.
type Dataset struct {
	Rows     []Row
	Failures []ExtractionFailure
}

func derefString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func derefFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
