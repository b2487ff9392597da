package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-gallery/config"
	"github.com/aluiziolira/go-scrape-gallery/models"
	"github.com/aluiziolira/go-scrape-gallery/pipeline"
	"github.com/aluiziolira/go-scrape-gallery/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	datasetName  = "images_db"
	failuresName = "failed_links.csv"
)

func main() {
	defaultCfg := config.DefaultConfig()
	if err := applyEnv(defaultCfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	topics := flag.String("topics", strings.Join(defaultCfg.Topics, ","), "Comma-separated search topics")
	maxPages := flag.Int("pages", defaultCfg.MaxPages, "Maximum search pages per topic")
	parallelism := flag.Int("parallel", defaultCfg.Parallelism, "Number of concurrent detail extractions")
	delay := flag.Duration("delay", defaultCfg.Delay, "Pause before each detail fetch")
	pageDelay := flag.Duration("page-delay", defaultCfg.PageDelay, "Wait after each search page load")
	randomDelay := flag.Duration("random-delay", defaultCfg.RandomDelay, "Random jitter added between requests")
	rps := flag.Float64("rps", defaultCfg.RequestsPerSecond, "Global detail request ceiling per second (0 = unlimited)")
	timeout := flag.Duration("timeout", defaultCfg.Timeout, "Per-request timeout")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per URL")
	retryBackoff := flag.Duration("retry-backoff", defaultCfg.RetryBackoff, "Initial retry backoff")
	retryBackoffMax := flag.Duration("retry-backoff-max", defaultCfg.RetryBackoffMax, "Maximum retry backoff")
	outputDir := flag.String("output-dir", defaultCfg.OutputDir, "Directory for exported files")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, dual, or sqlite")
	downloadImages := flag.Bool("download-images", defaultCfg.DownloadImages, "Download the primary image of every record")
	imagesDir := flag.String("images-dir", defaultCfg.ImagesDir, "Directory for downloaded images")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Search endpoint URL")
	metricsAddr := flag.String("metrics-addr", defaultCfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", defaultCfg.Verbose, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := defaultCfg
	cfg.Topics = config.ParseTopics(*topics)
	cfg.MaxPages = *maxPages
	cfg.Parallelism = *parallelism
	cfg.Delay = *delay
	cfg.PageDelay = *pageDelay
	cfg.RandomDelay = *randomDelay
	cfg.RequestsPerSecond = *rps
	cfg.Timeout = *timeout
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = *retryBackoff
	cfg.RetryBackoffMax = *retryBackoffMax
	cfg.OutputDir = *outputDir
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.DownloadImages = *downloadImages
	cfg.ImagesDir = *imagesDir
	cfg.BaseURL = *baseURL
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	os.Exit(run(cfg))
}

// applyEnv overrides defaults from SCRAPER_* variables. Flags still win.
func applyEnv(cfg *config.Config) error {
	if value, ok := config.EnvString("SCRAPER_TOPICS"); ok {
		cfg.Topics = config.ParseTopics(value)
	}
	if value, ok := config.EnvString("SCRAPER_BASE_URL"); ok {
		cfg.BaseURL = value
	}
	if value, ok := config.EnvString("SCRAPER_OUTPUT_DIR"); ok {
		cfg.OutputDir = value
	}
	if value, ok := config.EnvString("SCRAPER_FORMAT"); ok {
		cfg.OutputFormat = strings.ToLower(value)
	}
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	if value, ok := config.EnvString("SCRAPER_IMAGES_DIR"); ok {
		cfg.ImagesDir = value
	}

	ints := []struct {
		key    string
		target *int
	}{
		{"SCRAPER_PAGES", &cfg.MaxPages},
		{"SCRAPER_PARALLEL", &cfg.Parallelism},
		{"SCRAPER_MAX_RETRIES", &cfg.MaxRetries},
	}
	for _, entry := range ints {
		value, ok, err := config.EnvInt(entry.key)
		if err != nil {
			return err
		}
		if ok {
			*entry.target = value
		}
	}

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"SCRAPER_DELAY", &cfg.Delay},
		{"SCRAPER_PAGE_DELAY", &cfg.PageDelay},
		{"SCRAPER_TIMEOUT", &cfg.Timeout},
	}
	for _, entry := range durations {
		value, ok, err := config.EnvDuration(entry.key)
		if err != nil {
			return err
		}
		if ok {
			*entry.target = value
		}
	}
	return nil
}

func run(cfg *config.Config) int {
	slog.Info("starting crawl",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("topics", len(cfg.Topics)),
		slog.Int("pages", cfg.MaxPages),
		slog.Int("workers", cfg.Parallelism),
		slog.String("format", cfg.OutputFormat),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return 1
	}

	writer, err := createWriter(cfg, s.RunID)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	metricsServer := startMetricsServer(cfg.MetricsAddr, s.Metrics)

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start()
	if cfg.Verbose {
		p.StartProgressReporting(10 * time.Second)
	}

	exitCode := 0
	result, runErr := s.Run(ctx, p)
	if runErr != nil {
		if result != nil && result.Interrupted {
			slog.Warn("crawl interrupted, exporting partial dataset", slog.Any("error", runErr))
		} else {
			slog.Error("crawl failed", slog.Any("error", runErr))
		}
		exitCode = 1
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		exitCode = 1
	}

	dataset := pipeline.Assemble(p.Aggregator())
	if err := exportFailures(cfg, writer, dataset.Failures); err != nil {
		slog.Error("exporting failed links", slog.Any("error", err))
		exitCode = 1
	}

	if len(dataset.Rows) > 0 {
		if err := writer.Validate(); err != nil {
			slog.Error("output validation failed", slog.Any("error", err))
			exitCode = 1
		}
	} else {
		slog.Warn("crawl produced no records")
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	_, _, duplicates := p.Aggregator().Counts()
	printSummary(result, dataset, duplicates, cfg.OutputPath(datasetName+"."+extensionFor(cfg.OutputFormat)))
	return exitCode
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func extensionFor(format string) string {
	switch format {
	case "json":
		return "json"
	case "sqlite":
		return "sqlite"
	default:
		return "csv"
	}
}

func createWriter(cfg *config.Config, runID string) (pipeline.OutputWriter, error) {
	switch cfg.OutputFormat {
	case "csv":
		return pipeline.NewCSVWriter(cfg.OutputPath(datasetName + ".csv"))
	case "json":
		return pipeline.NewJSONWriter(cfg.OutputPath(datasetName + ".json"))
	case "dual":
		return pipeline.NewDualWriter(cfg.OutputPath(datasetName+".csv"), cfg.OutputPath(datasetName+".json"))
	case "sqlite":
		return pipeline.NewSQLiteWriter(cfg.OutputPath(datasetName+".sqlite"), runID)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

// exportFailures always writes failed_links.csv and also stores failures in
// writers that support it.
func exportFailures(cfg *config.Config, writer pipeline.OutputWriter, failures []models.ExtractionFailure) error {
	var errs []error
	if err := pipeline.WriteFailuresCSV(cfg.OutputPath(failuresName), failures); err != nil {
		errs = append(errs, err)
	}
	if fw, ok := writer.(pipeline.FailureWriter); ok && len(failures) > 0 {
		if err := fw.WriteFailures(failures); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func printSummary(result *models.ScraperResult, dataset models.Dataset, duplicates int, outputFile string) {
	if result == nil {
		result = &models.ScraperResult{}
	}
	duration := result.EndTime.Sub(result.StartTime)
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(len(dataset.Rows)) / duration.Seconds()
	}

	byReason := make(map[models.FailureReason]int)
	for _, failure := range dataset.Failures {
		byReason[failure.Reason]++
	}

	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if result.Interrupted {
		fmt.Println("Crawl interrupted")
	} else {
		fmt.Println("Crawl complete")
	}
	fmt.Printf("  Run ID:        %s\n", result.RunID)
	fmt.Printf("  Topics:        %d\n", result.Topics)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Links:         %d\n", result.LinksDiscovered)
	fmt.Printf("  Records:       %d\n", len(dataset.Rows))
	fmt.Printf("  Failures:      %d\n", len(dataset.Failures))
	for _, reason := range []models.FailureReason{models.ReasonFetchFailed, models.ReasonMalformedDocument} {
		if n := byReason[reason]; n > 0 {
			fmt.Printf("    %-18s %d\n", string(reason)+":", n)
		}
	}
	fmt.Printf("  Repeated:      %d\n", duplicates)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if len(result.StopReasons) > 0 {
		topics := make([]string, 0, len(result.StopReasons))
		for topic := range result.StopReasons {
			topics = append(topics, topic)
		}
		sort.Strings(topics)
		fmt.Println("  Stop reasons:")
		for _, topic := range topics {
			fmt.Printf("    %s: %s\n", topic, result.StopReasons[topic])
		}
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
