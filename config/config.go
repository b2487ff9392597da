package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultTopics is the topic list crawled when none is given.
var DefaultTopics = []string{
	"Fantasy art",
	"Science fiction art",
	"Anime and manga art",
	"Fan art (for specific fandoms)",
	"Digital paintings",
	"Traditional drawings",
	"Character designs",
	"Creature concepts",
	"Landscape art",
	"Abstract art",
	"Surrealism",
	"Steampunk art",
	"Cyberpunk art",
	"Gothic art",
	"Horror art",
	"Cosplay photography",
	"Pixel art",
	"Concept art",
	"Comics and graphic novels",
	"Street art and graffiti",
}

// Config holds scraper configuration.
type Config struct {
	BaseURL            string
	Topics             []string
	MaxPages           int
	Parallelism        int
	Delay              time.Duration // per-worker pause before each detail fetch
	PageDelay          time.Duration // wait after each search page render
	RandomDelay        time.Duration
	RequestsPerSecond  float64
	Timeout            time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	RetryBackoffMax    time.Duration
	OutputDir          string
	OutputFormat       string // csv, json, dual, or sqlite
	UserAgent          string
	Verbose            bool
	MetricsAddr        string
	DownloadImages     bool
	ImagesDir          string
	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int
}

// DefaultConfig returns conservative defaults for the gallery target.
func DefaultConfig() *Config {
	topics := make([]string, len(DefaultTopics))
	copy(topics, DefaultTopics)
	return &Config{
		BaseURL:            "https://www.deviantart.com/search",
		Topics:             topics,
		MaxPages:           30,
		Parallelism:        4,
		Delay:              2 * time.Second,
		PageDelay:          2 * time.Second,
		RandomDelay:        0,
		RequestsPerSecond:  0,
		Timeout:            5 * time.Second,
		MaxRetries:         0,
		RetryBackoff:       200 * time.Millisecond,
		RetryBackoffMax:    2 * time.Second,
		OutputDir:          "./data",
		OutputFormat:       "csv",
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:            false,
		MetricsAddr:        "",
		DownloadImages:     false,
		ImagesDir:          "./deviantart_images",
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if len(c.Topics) == 0 {
		return fmt.Errorf("topics cannot be empty")
	}
	for i, topic := range c.Topics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("topic %d is blank", i)
		}
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.PageDelay < 0 {
		return fmt.Errorf("page delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "sqlite":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or sqlite")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DownloadImages && c.ImagesDir == "" {
		return fmt.Errorf("images dir cannot be empty when downloading images")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	return nil
}

// SearchURL builds the first search page URL for a topic. Spaces are encoded
// as %20 rather than '+'.
func (c *Config) SearchURL(topic string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(topic), "+", "%20")
	return c.BaseURL + "?q=" + escaped
}

// OutputPath joins a file name onto the output directory.
func (c *Config) OutputPath(name string) string {
	return filepath.Join(c.OutputDir, name)
}

// ParseTopics splits a comma-separated topic list, dropping blanks.
func ParseTopics(raw string) []string {
	var topics []string
	for _, part := range strings.Split(raw, ",") {
		if topic := strings.TrimSpace(part); topic != "" {
			topics = append(topics, topic)
		}
	}
	return topics
}

// EnvString returns the value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a time.Duration when it is set.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}
