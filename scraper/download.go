package scraper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ImageFileName derives the local file name from an image URL: the last path
// segment with any query string removed.
func ImageFileName(imageURL string) string {
	name, _, _ := strings.Cut(imageURL, "?")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// DownloadImage fetches imageURL and writes it under dir, creating dir when
// needed. It returns the written path.
func DownloadImage(ctx context.Context, fetcher PageFetcher, imageURL, dir string) (string, error) {
	name := ImageFileName(imageURL)
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("no file name in image url %q", imageURL)
	}

	body, err := fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create images dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}
