package parser

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-gallery/models"
)

// ErrInvalidMetricFormat indicates a metric string that is not numeric with an
// optional K/M suffix.
type ErrInvalidMetricFormat struct {
	Value string
	Err   error
}

func (e ErrInvalidMetricFormat) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid metric format %q: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("invalid metric format %q", e.Value)
}

func (e ErrInvalidMetricFormat) Unwrap() error {
	return e.Err
}

// ErrMissingMetric indicates a required label absent from the metric bar.
type ErrMissingMetric struct {
	Label string
}

func (e ErrMissingMetric) Error() string {
	return fmt.Sprintf("missing metric %q", e.Label)
}

// ParseMetric converts compact magnitude strings such as "12.5K", "2M" or
// "340" to counts. A K or M suffix scales the decimal prefix exactly and the
// result is truncated toward zero. Only plain digits are accepted.
func ParseMetric(s string) (int64, error) {
	raw := s
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, ErrInvalidMetricFormat{Value: raw}
	}

	scaleDigits := 0
	switch s[len(s)-1] {
	case 'K', 'k':
		scaleDigits = 3
	case 'M', 'm':
		scaleDigits = 6
	}

	if scaleDigits == 0 {
		if !isDigits(s) {
			return 0, ErrInvalidMetricFormat{Value: raw}
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, ErrInvalidMetricFormat{Value: raw, Err: err}
		}
		return n, nil
	}

	whole, frac, _ := strings.Cut(s[:len(s)-1], ".")
	if !isDigits(whole) || (frac != "" && !isDigits(frac)) {
		return 0, ErrInvalidMetricFormat{Value: raw}
	}
	if len(frac) > scaleDigits {
		frac = frac[:scaleDigits]
	}
	frac += strings.Repeat("0", scaleDigits-len(frac))

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidMetricFormat{Value: raw, Err: err}
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, ErrInvalidMetricFormat{Value: raw, Err: err}
	}

	scale := int64(1)
	for i := 0; i < scaleDigits; i++ {
		scale *= 10
	}
	if w > (math.MaxInt64-f)/scale {
		return 0, ErrInvalidMetricFormat{Value: raw, Err: strconv.ErrRange}
	}
	return w*scale + f, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MetricCounts holds the resolved metric bar values.
type MetricCounts struct {
	Favs               int64
	Comments           int64
	Views              int64
	PrivateCollections int64
}

type metricLabel int

const (
	labelUnknown metricLabel = iota
	labelFavourites
	labelComments
	labelViews
	labelPrivate
)

// classifyMetric splits "340 Favourites" into its value and label group.
func classifyMetric(metric string) (string, metricLabel) {
	fields := strings.Fields(metric)
	if len(fields) == 0 {
		return "", labelUnknown
	}
	value := fields[0]
	label := strings.ToLower(strings.Join(fields[1:], " "))
	switch {
	case strings.Contains(label, "collected privately"):
		return value, labelPrivate
	case strings.HasPrefix(label, "favourite"), strings.HasPrefix(label, "favorite"):
		return value, labelFavourites
	case strings.HasPrefix(label, "comment"):
		return value, labelComments
	case strings.HasPrefix(label, "view"):
		return value, labelViews
	}
	return value, labelUnknown
}

// ResolveMetrics applies the metric bar policy: favourites take the last
// occurrence, comments and views take the first. Comments must be a plain
// integer. A missing comments or private-collections entry resolves to 0;
// missing favourites or views is an error.
func ResolveMetrics(metrics []string) (MetricCounts, error) {
	var favs, comments, views, private []string
	for _, metric := range metrics {
		value, label := classifyMetric(metric)
		switch label {
		case labelFavourites:
			favs = append(favs, value)
		case labelComments:
			comments = append(comments, value)
		case labelViews:
			views = append(views, value)
		case labelPrivate:
			private = append(private, value)
		}
	}

	var counts MetricCounts
	var err error

	if len(favs) == 0 {
		return MetricCounts{}, ErrMissingMetric{Label: "Favourites"}
	}
	if counts.Favs, err = ParseMetric(favs[len(favs)-1]); err != nil {
		return MetricCounts{}, err
	}

	if len(views) == 0 {
		return MetricCounts{}, ErrMissingMetric{Label: "Views"}
	}
	if counts.Views, err = ParseMetric(views[0]); err != nil {
		return MetricCounts{}, err
	}

	if len(comments) > 0 {
		n, convErr := strconv.ParseInt(strings.ReplaceAll(comments[0], ",", ""), 10, 64)
		if convErr != nil || n < 0 {
			return MetricCounts{}, ErrInvalidMetricFormat{Value: comments[0], Err: convErr}
		}
		counts.Comments = n
	} else {
		slog.Debug("metric bar has no comments entry, defaulting to 0")
	}

	if len(private) > 0 {
		if counts.PrivateCollections, err = ParseMetric(private[0]); err != nil {
			return MetricCounts{}, err
		}
	}

	return counts, nil
}

// ParseDimensions splits the "WxH px <size> MB" node text. Either half may be
// missing, in which case it is nil.
func ParseDimensions(text string) (*string, *float64) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	left, right, found := strings.Cut(text, "px")

	var pixels *string
	if px := trimNonNumericSuffix(strings.TrimSpace(left)); px != "" {
		pixels = &px
	}

	var size *float64
	if found {
		if fields := strings.Fields(right); len(fields) > 0 {
			if f, err := strconv.ParseFloat(fields[0], 64); err == nil {
				size = &f
			}
		}
	}
	return pixels, size
}

func trimNonNumericSuffix(s string) string {
	return strings.TrimRightFunc(s, func(r rune) bool {
		return r < '0' || r > '9'
	})
}

// ValidateRecord ensures the extractor captured the required fields.
func ValidateRecord(r *models.ImageRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.ImageURL) == "" {
		return fmt.Errorf("record missing image url")
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("record missing title")
	}
	if strings.TrimSpace(r.Author) == "" {
		return fmt.Errorf("record missing author for %s", r.Title)
	}
	if strings.TrimSpace(r.PublishedDate) == "" {
		return fmt.Errorf("record missing published date for %s", r.Title)
	}
	if r.Favs < 0 || r.Comments < 0 || r.Views < 0 || r.PrivateCollections < 0 {
		return fmt.Errorf("record has negative metrics for %s", r.Title)
	}
	return nil
}

// NormalizeText trims whitespace and non-breaking spaces.
func NormalizeText(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "\u00a0", " "))
}
