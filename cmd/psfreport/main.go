package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"imfcscli/internal/config"
	"imfcscli/internal/exporter"
	"imfcscli/internal/files"
	"imfcscli/internal/imfcs"
	"imfcscli/internal/infrastructure"
	"imfcscli/internal/psf"
	"imfcscli/internal/report"
	"imfcscli/internal/updater"
	"imfcscli/internal/validation"
	"imfcscli/pkg/contracts/domain"
)

func main() {
	inDir := flag.String("in", "", "directory with calibration workbooks (defaults to data/acquisitions relative to executable)")
	outPath := flag.String("out", "", "calibration table CSV path (defaults to data/exports/psf_calibration.csv)")
	rsdThreshold := flag.Float64("rsd", psf.DefaultRSDThreshold, "relative standard deviation cutoff for usable diffusion fits")
	strict := flag.Bool("strict", false, "exit nonzero when any workbook is skipped")
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
		*outPath = paths.GetCalibrationCSVPath()
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
				FilePath:    paths.GetLogPath("psfreport.log"),
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

	logger.Info("Starting PSF calibration",
		slog.String("input_dir", *inDir),
		slog.String("output_csv", *outPath),
		slog.Float64("rsd_threshold", *rsdThreshold),
		slog.Bool("strict", *strict),
		slog.String("executable_dir", paths.ExecutableDir))

	if err := validation.NewFileValidator(logger).ValidateInputDirectory(*inDir, "*.xlsx"); err != nil {
		logger.Error("Input directory validation failed", slog.String("error", err.Error()))
		slog.Error("Input directory validation failed", "error", err)
		os.Exit(1)
	}

	// Find the workbooks of the calibration runs
	artifacts, err := files.NewDiscovery(*inDir).FindRunArtifacts(".")
	if err != nil {
		logger.Error("Failed to scan input directory", slog.String("error", err.Error()))
		slog.Error("Failed to scan input directory", "error", err)
		os.Exit(1)
	}

	type workbook struct {
		key  string
		path string
	}
	var workbooks []workbook
	for _, group := range files.GroupRuns(artifacts) {
		if path, ok := group.WorkbookPath(); ok {
			workbooks = append(workbooks, workbook{key: group.Key, path: path})
		}
	}

	logger.Info("Calibration workbooks found", slog.Int("count", len(workbooks)))

	// Output progress message for the operation runner to parse
	fmt.Printf("Found %d calibration workbooks\n", len(workbooks))

	if len(workbooks) == 0 {
		logger.Warn("No workbooks to calibrate", slog.String("input_dir", *inDir))
		fmt.Println("Calibration complete: 0 workbooks")
		return
	}

	calibrationExporter := exporter.NewCalibrationExporter(paths)
	generator := report.NewGenerator(paths)

	// Calibrate every workbook; one without a sweep grid is skipped, not
	// fatal, since screening acquisitions share the directory.
	var cals []domain.PSFCalibration
	for i, wb := range workbooks {
		logger.Info("Calibrating workbook",
			slog.Int("current", i+1),
			slog.Int("total", len(workbooks)),
			slog.String("filename", filepath.Base(wb.path)))

		// Output progress message for the operation runner to parse
		fmt.Printf("Calibrating workbook %d of %d: %s\n", i+1, len(workbooks), filepath.Base(wb.path))

		grid, cal, err := calibrateWorkbook(wb.path, *rsdThreshold)
		if err != nil {
			logger.Warn("Workbook skipped",
				slog.String("filename", filepath.Base(wb.path)),
				slog.String("error", err.Error()))
			continue
		}
		cals = append(cals, cal)

		fmt.Printf("Calibrated %s: PSF %.1f, D %.4f um2/s\n", cal.File, cal.CorrectPSF, cal.BestFitD)

		// Per-workbook sweep table and sweep chart
		sweepPath := paths.GetExportPath(wb.key + "_psf_sweep.csv")
		if err := calibrationExporter.ExportSweepTable(cal, sweepPath); err != nil {
			logger.Warn("Sweep table export failed",
				slog.String("key", wb.key),
				slog.String("error", err.Error()))
		}

		reportPath := paths.GetReportPath(wb.key + "_psf.html")
		if err := generator.WriteCalibrationReport(grid, cal, reportPath); err != nil {
			logger.Warn("Calibration report failed",
				slog.String("key", wb.key),
				slog.String("error", err.Error()))
		} else {
			logger.Info("Calibration report written", slog.String("path", reportPath))
		}
	}

	if len(cals) == 0 {
		logger.Error("No workbook carries a usable sweep grid", slog.String("input_dir", *inDir))
		slog.Error("No workbook carries a usable sweep grid", "input_dir", *inDir)
		os.Exit(1)
	}

	// Combined calibration table, one row per workbook
	if err := calibrationExporter.ExportCalibrations(cals, *outPath); err != nil {
		logger.Error("Error saving calibration table", slog.String("error", err.Error()))
		slog.Error("Error saving calibration table", "error", err)
		os.Exit(1)
	}
	logger.Info("Saved calibration table", slog.String("path", *outPath))

	report.WriteCalibrationSummary(os.Stdout, cals)

	skipped := len(workbooks) - len(cals)
	logger.Info("Calibration complete",
		slog.Int("calibrated", len(cals)),
		slog.Int("skipped", skipped))

	// Output completion message for the operation runner to parse
	fmt.Printf("Calibration complete: %d workbooks\n", len(cals))

	// Skips are expected in mixed directories where screening acquisitions
	// sit next to the calibration series; strict asserts a pure directory.
	if *strict && skipped > 0 {
		logger.Error("Strict mode: skipped workbooks present", slog.Int("skipped", skipped))
		slog.Error("Strict mode: skipped workbooks present", "skipped", skipped)
		os.Exit(1)
	}
}

// checkForUpdates logs when a newer release is available. Failures are
// ignored so offline calibration keeps working.
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

// calibrateWorkbook reads the sweep grid of one workbook and calibrates
// it. The grid is returned alongside the calibration so the sweep chart
// can be rendered without reopening the file.
func calibrateWorkbook(path string, rsdThreshold float64) (*imfcs.PSFGrid, domain.PSFCalibration, error) {
	w, err := imfcs.OpenWorkbook(path)
	if err != nil {
		return nil, domain.PSFCalibration{}, err
	}
	defer w.Close()

	grid, err := w.PSF()
	if err != nil {
		return nil, domain.PSFCalibration{}, err
	}

	cal, err := psf.Calibrate(grid, rsdThreshold)
	if err != nil {
		return nil, domain.PSFCalibration{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cal.File = filepath.Base(path)
	return grid, cal, nil
}
