package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"imfcscli/internal/config"
	"imfcscli/internal/exporter"
	"imfcscli/internal/infrastructure"
	"imfcscli/internal/store"
	"imfcscli/internal/updater"
)

func main() {
	mode := flag.String("mode", "initial", "initial | accumulative")
	dbPath := flag.String("db", "", "screening database path (defaults to data/cache/imfcs.db relative to executable)")
	out := flag.String("out", "", "output csv file path (defaults to data/reports/imfcs_screening_index.csv)")
	flag.Parse()

	// Initialize paths first to get default directories
	paths, err := config.GetPaths()
	if err != nil {
		slog.Error("Failed to initialize paths", "error", err)
		os.Exit(1)
	}

	// Use centralized paths as defaults if not specified
	if *dbPath == "" {
		*dbPath = paths.DatabaseFile
	}
	if *out == "" {
		*out = filepath.Join(paths.ReportsDir, "imfcs_screening_index.csv")
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
				FilePath:    paths.GetLogPath("indexruns.log"),
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

	logger.Info("Starting screening index update",
		slog.String("mode", *mode),
		slog.String("database", *dbPath),
		slog.String("output_file", *out),
		slog.String("executable_dir", paths.ExecutableDir))

	// Each process creates its own directories as needed
	outDir := filepath.Dir(*out)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		logger.Error("Cannot create output directory",
			slog.String("path", outDir),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Accumulative mode keeps the rows of an earlier export and only
	// overwrites the ones the store has newer screenings for.
	var existing []exporter.ScreeningRecord
	if *mode == "accumulative" {
		if records, err := exporter.ReadCombined(*out); err == nil {
			existing = records
			logger.Info("Existing index loaded", slog.Int("rows", len(existing)))
		} else {
			logger.Warn("No existing index found, switching to initial mode", slog.String("error", err.Error()))
			*mode = "initial"
		}
	}

	st, err := store.Open(*dbPath, logger)
	if err != nil {
		logger.Error("Failed to open screening database",
			slog.String("path", *dbPath),
			slog.String("error", err.Error()))
		slog.Error("Failed to open screening database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	latest, err := st.LatestScreenings(context.Background())
	if err != nil {
		logger.Error("Failed to read screenings", slog.String("error", err.Error()))
		slog.Error("Failed to read screenings", "error", err)
		os.Exit(1)
	}

	logger.Info("Screenings found", slog.Int("count", len(latest)))

	// Output progress message for the operation runner to parse
	fmt.Printf("Found %d screenings\n", len(latest))

	if len(latest) == 0 && len(existing) == 0 {
		logger.Info("No screenings recorded yet")

		// Create empty index CSV with headers for consistency
		var empty []exporter.ScreeningRecord
		if err := exporter.WriteRecords(&empty, *out); err != nil {
			logger.Error("Cannot create output file",
				slog.String("path", *out),
				slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Created empty screening index", slog.String("path", *out))
		fmt.Println("Index update complete: 0 runs")
		return
	}

	fresh := make([]exporter.ScreeningRecord, 0, len(latest))
	for _, result := range latest {
		fresh = append(fresh, exporter.NewScreeningRecord(result))
	}

	records := mergeRecords(existing, fresh, logger)

	if err := exporter.WriteRecords(&records, *out); err != nil {
		logger.Error("Failed to write screening index",
			slog.String("path", *out),
			slog.String("error", err.Error()))
		slog.Error("Failed to write screening index", "path", *out, "error", err)
		os.Exit(1)
	}

	slog.Info("Screening index updated successfully!")
	logger.Info("Screening index updated",
		slog.Int("runs", len(records)),
		slog.Int("from_store", len(fresh)),
		slog.Int("carried_over", len(records)-len(fresh)),
		slog.String("output_path", *out))

	// Output completion message for the operation runner to parse
	fmt.Printf("Index update complete: %d runs\n", len(records))
}

// checkForUpdates logs when a newer release is available. Failures are
// ignored so offline indexing keeps working.
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

// mergeRecords folds the store rows into the kept rows. On a key collision
// the newer screening wins; kept rows with an unreadable timestamp are
// replaced. The result is sorted by run key.
func mergeRecords(existing, fresh []exporter.ScreeningRecord, logger *slog.Logger) []exporter.ScreeningRecord {
	byKey := make(map[string]exporter.ScreeningRecord, len(existing)+len(fresh))
	for _, record := range existing {
		byKey[record.Key] = record
	}

	replaced := 0
	for _, record := range fresh {
		prior, ok := byKey[record.Key]
		if ok && !screenedAt(record).After(screenedAt(prior)) {
			logger.Debug("Keeping existing row",
				slog.String("key", record.Key),
				slog.String("screened_at", prior.ScreenedAt))
			continue
		}
		if ok {
			replaced++
		}
		byKey[record.Key] = record
	}

	records := make([]exporter.ScreeningRecord, 0, len(byKey))
	for _, record := range byKey {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key < records[j].Key
	})

	logger.Info("Index rows merged",
		slog.Int("total", len(records)),
		slog.Int("replaced", replaced))
	return records
}

// screenedAt parses the RFC 3339 timestamp of a row, zero when absent or
// malformed so any real timestamp beats it.
func screenedAt(record exporter.ScreeningRecord) time.Time {
	t, err := time.Parse(time.RFC3339, record.ScreenedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
