package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"imfcscli/internal/config"
	"imfcscli/internal/infrastructure"
	"imfcscli/internal/updater"
	"imfcscli/internal/validation"
)

func main() {
	reportPath := flag.String("report", "", "HTML report to capture (defaults to data/reports/psf_calibration.html)")
	outPath := flag.String("out", "", "PNG output path (defaults to the report path with a .png extension)")
	timeout := flag.Duration("timeout", 60*time.Second, "overall capture timeout")
	settle := flag.Duration("settle", 2*time.Second, "extra wait after page load so the charts finish drawing")
	flag.Parse()

	// Initialize paths first to get default directories
	paths, err := config.GetPaths()
	if err != nil {
		slog.Error("Failed to initialize paths", "error", err)
		os.Exit(1)
	}

	// Use centralized paths as defaults if not specified
	if *reportPath == "" {
		*reportPath = paths.GetCalibrationReportPath()
	}
	if *outPath == "" {
		*outPath = defaultOutPath(*reportPath)
	}

	// Ensure all required directories exist
	if err := paths.EnsureDirectories(); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("Failed to load config, using defaults", "error", err)
		cfg = &config.Config{
			Logging: config.LoggingConfig{
				Level:       "info",
				Format:      "json",
				Output:      "both",
				FilePath:    paths.GetLogPath("snapshot.log"),
				Development: false,
			},
		}
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Warn("Failed to initialize logger, using default", "error", err)
		logger = slog.Default()
	}

	checkForUpdates(logger)

	logger.Info("Starting report capture",
		slog.String("report", *reportPath),
		slog.String("output_png", *outPath),
		slog.Duration("timeout", *timeout))

	if err := validation.NewFileValidator(logger).ValidateFile(*reportPath); err != nil {
		logger.Error("Report validation failed", slog.String("error", err.Error()))
		slog.Error("Report validation failed", "error", err)
		os.Exit(1)
	}

	pageURL, err := fileURL(*reportPath)
	if err != nil {
		logger.Error("Failed to build page URL", slog.String("error", err.Error()))
		slog.Error("Failed to build page URL", "error", err)
		os.Exit(1)
	}

	// Output progress message for the operation runner to parse
	fmt.Printf("Capturing %s\n", filepath.Base(*reportPath))

	buf, err := capture(pageURL, *timeout, *settle)
	if err != nil {
		logger.Error("Capture failed",
			slog.String("url", pageURL),
			slog.String("error", err.Error()))
		slog.Error("Capture failed", "error", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*outPath, buf, 0644); err != nil {
		logger.Error("Failed to write snapshot", slog.String("error", err.Error()))
		slog.Error("Failed to write snapshot", "error", err)
		os.Exit(1)
	}

	logger.Info("Snapshot written",
		slog.String("path", *outPath),
		slog.Int("bytes", len(buf)))

	// Output completion message for the operation runner to parse
	fmt.Printf("Capture complete: %s\n", *outPath)
}

// checkForUpdates logs when a newer release is available. Failures are
// ignored so offline capture keeps working.
func checkForUpdates(logger *slog.Logger) {
	upd, err := updater.NewUpdater("v"+config.AppVersion, config.AppRepoURL)
	if err != nil {
		logger.Debug("Update check unavailable", slog.String("error", err.Error()))
		return
	}

	info, err := upd.CheckForUpdates()
	if err != nil {
		logger.Debug("Update check failed", slog.String("error", err.Error()))
		return
	}
	if info != nil {
		logger.Info("A newer release is available",
			slog.String("current", info.CurrentVersion),
			slog.String("latest", info.LatestVersion))
		fmt.Printf("Update available: %s (current %s)\n", info.LatestVersion, info.CurrentVersion)
	}
}

// capture renders the page in headless Chrome and returns the PNG bytes.
func capture(pageURL string, timeout, settle time.Duration) ([]byte, error) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts, chromedp.Flag("headless", true))

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	defer cancel()

	ctx, cancelCtx := chromedp.NewContext(allocCtx)
	defer cancelCtx()

	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	var buf []byte
	if err := chromedp.Run(ctx, snapshotTasks(pageURL, settle, &buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// snapshotTasks loads the report page and captures the full viewport. The
// charts draw asynchronously after load, hence the settle pause.
func snapshotTasks(pageURL string, settle time.Duration, buf *[]byte) chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
		chromedp.Sleep(settle),
		// Quality 100 selects PNG encoding.
		chromedp.FullScreenshot(buf, 100),
	}
}

// fileURL converts a local path into the file:// URL Chrome navigates to.
func fileURL(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	u := &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}

// defaultOutPath swaps the report extension for .png.
func defaultOutPath(reportPath string) string {
	return strings.TrimSuffix(reportPath, filepath.Ext(reportPath)) + ".png"
}
