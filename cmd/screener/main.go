package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"imfcscli/internal/analysis"
	"imfcscli/internal/config"
	"imfcscli/internal/exporter"
	"imfcscli/internal/files"
	"imfcscli/internal/infrastructure"
	"imfcscli/internal/loader"
	"imfcscli/internal/report"
	"imfcscli/internal/screening"
	"imfcscli/internal/updater"
	"imfcscli/internal/validation"
	"imfcscli/pkg/contracts/domain"
)

func main() {
	inDir := flag.String("in", "", "acquisition directory with evaluation workbooks (defaults to data/acquisitions relative to executable)")
	outPath := flag.String("out", "", "combined screening CSV path (defaults to data/exports/imfcs_combined_screening.csv)")
	rulesPath := flag.String("rules", "", "screening rules YAML file (defaults to rules.yaml next to executable)")
	workers := flag.Int("workers", loader.DefaultWorkers, "number of workbooks parsed at once")
	resume := flag.Bool("resume", false, "skip runs already present in the output CSV")
	snrLag := flag.Int("snr-lag", analysis.DefaultSNRLastLag, "last lag channel used for the SNR estimate")
	strict := flag.Bool("strict", false, "exit nonzero when any run fails to load or summarize")
	flag.Parse()

	// Initialize paths first to get default directories
	paths, err := config.GetPaths()
	if err != nil {
		slog.Error("Failed to initialize paths", "error", err)
		os.Exit(1)
	}

	// Use centralized paths as defaults if not specified
	if *inDir == "" {
		*inDir = paths.AcquisitionsDir
	}
	if *outPath == "" {
		*outPath = paths.GetCombinedScreeningCSVPath()
	}
	if *rulesPath == "" {
		*rulesPath = paths.RulesFile
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
				FilePath:    paths.GetLogPath("screener.log"),
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

	logger.Info("Starting acquisition screening",
		slog.String("input_dir", *inDir),
		slog.String("output_csv", *outPath),
		slog.Bool("resume", *resume),
		slog.Bool("strict", *strict),
		slog.Int("workers", *workers),
		slog.String("executable_dir", paths.ExecutableDir))

	if err := validation.NewFileValidator(logger).ValidateInputDirectory(*inDir, "*.xlsx"); err != nil {
		logger.Error("Input directory validation failed", slog.String("error", err.Error()))
		slog.Error("Input directory validation failed", "error", err)
		os.Exit(1)
	}

	// Discover the acquisition runs
	artifacts, err := files.NewDiscovery(*inDir).FindRunArtifacts(".")
	if err != nil {
		logger.Error("Failed to scan input directory", slog.String("error", err.Error()))
		slog.Error("Failed to scan input directory", "error", err)
		os.Exit(1)
	}

	var groups []files.RunGroup
	for _, g := range files.GroupRuns(artifacts) {
		if g.Loadable() {
			groups = append(groups, g)
		}
	}

	logger.Info("Acquisition runs discovered", slog.Int("count", len(groups)))

	// Output progress message for the operation runner to parse
	fmt.Printf("Found %d acquisition runs\n", len(groups))

	// Resume mode: keep the rows of runs that are already screened
	var existing []exporter.ScreeningRecord
	if *resume {
		existing, groups = filterScreenedRuns(*outPath, groups, logger)
	}

	// Graceful exit if nothing is left to screen
	if len(groups) == 0 {
		logger.Warn("No runs to screen",
			slog.String("input_dir", *inDir),
			slog.Int("already_screened", len(existing)))

		if len(existing) == 0 {
			// Create an empty but valid combined table
			if err := exporter.NewScreeningExporter(paths).ExportCombined(nil, *outPath); err != nil {
				logger.Error("Failed to create empty combined CSV", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}
		fmt.Println("Screening complete: 0 runs")
		fmt.Println("All runs screened")
		return
	}

	// Output run list for segmented progress
	keys := make([]string, 0, len(groups))
	for _, g := range groups {
		keys = append(keys, g.Key)
	}
	fmt.Printf("Runs to screen: %s\n", strings.Join(keys, "|"))

	rules := resolveRules(*rulesPath, logger)

	// Load the workbooks with a bounded worker pool
	batchLoader := loader.New(*workers, logger, func(p loader.Progress) {
		fmt.Printf("Screening run %d of %d: %s\n", p.Completed, p.Total, p.Key)
	})
	load, err := batchLoader.LoadGroups(context.Background(), *inDir, groups)
	if err != nil {
		logger.Error("Batch load failed", slog.String("error", err.Error()))
		slog.Error("Batch load failed", "error", err)
		os.Exit(1)
	}

	for _, failure := range load.Failures {
		logger.Error("Run failed to load",
			slog.String("key", failure.Key),
			slog.String("error", failure.Err.Error()))
	}

	// Summarize and screen every loaded run
	screeningExporter := exporter.NewScreeningExporter(paths)
	var results []domain.ScreeningResult
	summaryFailures := 0

	for _, run := range load.Runs {
		summary, err := analysis.SummarizeRun(run, *snrLag)
		if err != nil {
			logger.Error("Run summary failed",
				slog.String("key", run.Info.Key),
				slog.String("error", err.Error()))
			summaryFailures++
			continue
		}

		result := screening.Evaluate(summary, rules)
		results = append(results, result)

		logger.Info("Run screened",
			slog.String("key", result.RunKey),
			slog.String("verdict", string(result.Verdict)),
			slog.Float64("fitted_fraction", summary.FittedFraction))

		// Per-run summary sheet next to the combined table
		summaryPath := paths.GetRunSummaryCSVPath(run.Info.Key)
		if err := screeningExporter.ExportRunSummary(result, summaryPath); err != nil {
			logger.Warn("Per-run export failed",
				slog.String("key", run.Info.Key),
				slog.String("error", err.Error()))
		}
	}

	// Write the combined screening table
	if len(existing) > 0 {
		if err := writeMergedTable(existing, results, *outPath); err != nil {
			logger.Error("Error saving combined CSV", slog.String("error", err.Error()))
			slog.Error("Error saving combined CSV", "error", err)
			os.Exit(1)
		}
	} else {
		if err := screeningExporter.ExportCombined(results, *outPath); err != nil {
			logger.Error("Error saving combined CSV", slog.String("error", err.Error()))
			slog.Error("Error saving combined CSV", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("Saved combined screening table", slog.String("path", *outPath))

	// Terminal verdict table plus pooled intensity sparkline
	dataset, err := analysis.NewDataset(load.Runs)
	var intensity []float64
	if err == nil {
		intensity = dataset.PooledIntensity()
	}
	if err := report.WriteTerminalSummary(os.Stdout, results, intensity); err != nil {
		logger.Warn("Terminal summary failed", slog.String("error", err.Error()))
	}

	// Batch HTML report with verdict and correlation charts
	if dataset != nil {
		reportPath := paths.GetBatchReportPath(load.Batch.ID)
		data := report.BatchData{
			BatchID:   load.Batch.ID,
			Directory: load.Batch.Directory,
			Dataset:   dataset,
			Results:   results,
		}
		if err := report.NewGenerator(paths).WriteBatchReport(data, reportPath); err != nil {
			logger.Warn("Batch report failed", slog.String("error", err.Error()))
			slog.Warn("Batch report failed", "error", err)
		} else {
			logger.Info("Batch report written", slog.String("path", reportPath))
		}
	}

	failed := len(load.Failures) + summaryFailures
	logger.Info("Screening complete",
		slog.Int("screened", len(results)),
		slog.Int("failed", failed))

	// Output completion messages for the operation runner to parse
	fmt.Printf("Screening complete: %d runs\n", len(results))
	fmt.Println("All runs screened")

	// Partial failures are warnings by default; the outputs above still
	// cover every run that survived.
	if *strict && failed > 0 {
		logger.Error("Strict mode: failed runs present", slog.Int("failed", failed))
		slog.Error("Strict mode: failed runs present", "failed", failed)
		os.Exit(1)
	}
}

// checkForUpdates logs when a newer release is available. Failures are
// ignored so offline screening keeps working.
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

// resolveRules loads the thresholds file, falling back to the built-in
// defaults when it is missing or unusable.
func resolveRules(path string, logger *slog.Logger) domain.Rules {
	rules, err := screening.LoadRules(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("No rules file found, using built-in thresholds",
				slog.String("path", path))
		} else {
			logger.Warn("Rules file unusable, using built-in thresholds",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return domain.DefaultRules()
	}

	logger.Info("Screening rules loaded", slog.String("path", path))
	return rules
}

// filterScreenedRuns drops the groups whose keys already appear in the
// combined table and returns the existing rows for the merge. A missing
// or unreadable table screens everything.
func filterScreenedRuns(outPath string, groups []files.RunGroup, logger *slog.Logger) ([]exporter.ScreeningRecord, []files.RunGroup) {
	existing, err := exporter.ReadCombined(outPath)
	if err != nil {
		logger.Info("No existing screening table found, screening all runs",
			slog.String("path", outPath))
		slog.Info("No existing screening table found, screening all runs")
		return nil, groups
	}

	screened := make(map[string]bool, len(existing))
	for _, record := range existing {
		screened[record.Key] = true
	}

	var remaining []files.RunGroup
	for _, g := range groups {
		if screened[g.Key] {
			logger.Info("Already screened run", slog.String("key", g.Key))
			continue
		}
		remaining = append(remaining, g)
	}

	logger.Info("Resume status",
		slog.Int("already_screened", len(existing)),
		slog.Int("runs_to_screen", len(remaining)))
	return existing, remaining
}

// writeMergedTable appends the fresh results to the kept rows and writes
// the combined table sorted by run key.
func writeMergedTable(existing []exporter.ScreeningRecord, results []domain.ScreeningResult, outPath string) error {
	records := make([]exporter.ScreeningRecord, 0, len(existing)+len(results))
	records = append(records, existing...)
	for _, result := range results {
		records = append(records, exporter.NewScreeningRecord(result))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Key < records[j].Key
	})
	return exporter.WriteRecords(&records, outPath)
}
