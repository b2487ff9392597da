package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aluiziolira/go-scrape-gallery/models"
	"github.com/aluiziolira/go-scrape-gallery/parser"
)

// Detail page anchors.
const (
	selectorImage       = "div._2SlAD img"
	selectorTitle       = "div.U2aSH"
	selectorAuthor      = "span._12F3u"
	selectorMetric      = "span._3AClx"
	selectorTag         = "span._1nwad"
	selectorDescription = "div.legacy-journal"
	selectorLocation    = "div._3FMM3"
	selectorDimensions  = "div._3RVC5"
	selectorPublished   = "div._1mcmq time"
	selectorLastComment = "span._2PHJq"
	selectorLicense     = "div._2GljG"
)

const nbsp = "\u00a0"

// ExtractRecord builds an ImageRecord from a fetched detail page. A missing
// required node or an unparseable metric yields ErrMalformedDocument; absent
// optional nodes leave their field nil.
func ExtractRecord(pageURL string, doc *goquery.Document) (*models.ImageRecord, error) {
	if doc == nil {
		return nil, ErrMalformedDocument{Field: "document"}
	}

	imageURL, ok := doc.Find(selectorImage).First().Attr("src")
	if !ok || strings.TrimSpace(imageURL) == "" {
		return nil, ErrMalformedDocument{Field: "image_url"}
	}

	title, ok := requiredText(doc, selectorTitle)
	if !ok {
		return nil, ErrMalformedDocument{Field: "image_title"}
	}
	author, ok := requiredText(doc, selectorAuthor)
	if !ok {
		return nil, ErrMalformedDocument{Field: "image_author"}
	}

	metricNodes := doc.Find(selectorMetric)
	if metricNodes.Length() == 0 {
		return nil, ErrMalformedDocument{Field: "metrics"}
	}
	counts, err := parser.ResolveMetrics(metricNodes.Map(func(_ int, s *goquery.Selection) string {
		return parser.NormalizeText(s.Text())
	}))
	if err != nil {
		return nil, ErrMalformedDocument{Field: "metrics", Err: err}
	}

	published, ok := doc.Find(selectorPublished).First().Attr("datetime")
	if !ok || strings.TrimSpace(published) == "" {
		return nil, ErrMalformedDocument{Field: "published_date"}
	}

	record := &models.ImageRecord{
		ImagePage:          pageURL,
		ImageURL:           absoluteURL(doc.Url, imageURL),
		Title:              title,
		Author:             author,
		Favs:               counts.Favs,
		Comments:           counts.Comments,
		Views:              counts.Views,
		PrivateCollections: counts.PrivateCollections,
		Tags:               extractTags(doc),
		Location:           extractLocation(doc),
		Description:        extractDescription(doc),
		PublishedDate:      strings.TrimSpace(published),
		License:            optionalText(doc, selectorLicense),
	}
	record.Pixels, record.SizeMB = extractDimensions(doc)
	if record.Comments > 0 {
		record.LastComment = optionalText(doc, selectorLastComment)
	}

	if err := parser.ValidateRecord(record); err != nil {
		return nil, ErrMalformedDocument{Field: "record", Err: err}
	}
	return record, nil
}

func requiredText(doc *goquery.Document, selector string) (string, bool) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	text := parser.NormalizeText(sel.Text())
	return text, text != ""
}

func optionalText(doc *goquery.Document, selector string) *string {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil
	}
	text := strings.TrimSpace(sel.Text())
	return &text
}

func extractTags(doc *goquery.Document) []string {
	tags := []string{}
	doc.Find(selectorTag).Each(func(_ int, s *goquery.Selection) {
		if tag := parser.NormalizeText(s.Text()); tag != "" {
			tags = append(tags, tag)
		}
	})
	return tags
}

// extractLocation keeps the text after the last non-breaking space, which
// separates the location icon label from the place name.
func extractLocation(doc *goquery.Document) *string {
	sel := doc.Find(selectorLocation).First()
	if sel.Length() == 0 {
		return nil
	}
	parts := strings.Split(sel.Text(), nbsp)
	location := strings.TrimSpace(parts[len(parts)-1])
	return &location
}

func extractDescription(doc *goquery.Document) *string {
	sel := doc.Find(selectorDescription).First()
	if sel.Length() == 0 {
		return nil
	}
	description := strings.ReplaceAll(joinedText(sel.Nodes[0]), nbsp, "\n")
	return &description
}

// joinedText concatenates the trimmed, non-empty text nodes under n with
// single spaces.
func joinedText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			if text := strings.TrimSpace(node.Data); text != "" {
				parts = append(parts, text)
			}
			return
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

// extractDimensions reads the "WxH px <size> MB" sibling that follows the
// dimensions label node.
func extractDimensions(doc *goquery.Document) (*string, *float64) {
	sel := doc.Find(selectorDimensions).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	for sibling := sel.Nodes[0].NextSibling; sibling != nil; sibling = sibling.NextSibling {
		if text := nodeText(sibling); strings.TrimSpace(text) != "" {
			return parser.ParseDimensions(text)
		}
	}
	return nil, nil
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}
