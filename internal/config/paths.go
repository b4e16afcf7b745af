package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains all the application paths
// This is the single source of truth for ALL file paths in the application
type Paths struct {
	ExecutableDir   string
	WebDir          string
	StaticDir       string
	DataDir         string
	AcquisitionsDir string
	ReportsDir      string
	ExportsDir      string
	CacheDir        string
	LogsDir         string

	// Config files
	RulesFile string

	// Well-known output files (simplified paths in output directories)
	DatabaseFile         string
	CombinedScreeningCSV string
	CalibrationCSV       string
}

// GetPaths returns the application paths relative to the executable location
// All paths are ALWAYS relative to the executable directory, never the current working directory
func GetPaths() (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %v", err)
	}

	// Resolve symlinks to get the actual executable location
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable symlinks: %v", err)
	}

	// Get the directory containing the executable
	exeDir := filepath.Dir(exe)

	// All paths are relative to the executable directory
	// This ensures the application works correctly whether run from dev/ or dist/
	// Directory structure:
	// dist/
	//   ├── rules.yaml
	//   ├── config.yaml
	//   ├── data/
	//   │   ├── acquisitions/  (Evaluation workbooks and AVR TIFFs)
	//   │   ├── reports/       (Per-run summaries and HTML reports)
	//   │   ├── exports/       (Combined dataset and calibration tables)
	//   │   └── cache/         (Session database, scratch files)
	//   ├── logs/              (Application logs)
	//   └── web/               (Frontend assets)

	dataDir := filepath.Join(exeDir, "data")
	reportsDir := filepath.Join(dataDir, "reports")
	exportsDir := filepath.Join(dataDir, "exports")
	cacheDir := filepath.Join(dataDir, "cache")

	paths := &Paths{
		ExecutableDir:   exeDir,
		DataDir:         dataDir,
		WebDir:          filepath.Join(exeDir, "web"),
		StaticDir:       filepath.Join(exeDir, "web", "static"),
		AcquisitionsDir: filepath.Join(dataDir, "acquisitions"),
		ReportsDir:      reportsDir,
		ExportsDir:      exportsDir,
		CacheDir:        cacheDir,
		LogsDir:         filepath.Join(exeDir, "logs"),

		// Configuration files (root of executable directory)
		RulesFile: filepath.Join(exeDir, "rules.yaml"),

		// Well-known output files
		DatabaseFile:         filepath.Join(cacheDir, "imfcs.db"),
		CombinedScreeningCSV: filepath.Join(exportsDir, "imfcs_combined_screening.csv"),
		CalibrationCSV:       filepath.Join(exportsDir, "psf_calibration.csv"),
	}

	return paths, nil
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	// List of all directories to create
	// Note: acquisition directories supplied on the command line are never
	// created here; only the base output tree is
	directories := []string{
		p.DataDir,
		p.AcquisitionsDir,
		p.ReportsDir,
		p.ExportsDir,
		p.CacheDir,
		p.LogsDir,
		p.WebDir,
		p.StaticDir,
	}

	logger := slog.Default()

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}

		if logger != nil {
			logger.Debug("Ensured directory exists",
				slog.String("directory", dir))
		}
	}

	return nil
}

// GetRelativePath returns a path relative to the executable directory
func (p *Paths) GetRelativePath(subpath string) string {
	return filepath.Join(p.ExecutableDir, subpath)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// GetWebFilePath returns the path to a web file
func (p *Paths) GetWebFilePath(filename string) string {
	return filepath.Join(p.WebDir, filename)
}

// GetStaticFilePath returns the path to a static file
func (p *Paths) GetStaticFilePath(filename string) string {
	return filepath.Join(p.StaticDir, filename)
}

// GetAcquisitionPath returns the path for a file in the default acquisitions directory
func (p *Paths) GetAcquisitionPath(filename string) string {
	return filepath.Join(p.AcquisitionsDir, filename)
}

// GetReportPath returns the path for a report file
func (p *Paths) GetReportPath(filename string) string {
	return filepath.Join(p.ReportsDir, filename)
}

// GetExportPath returns the path for an export file
func (p *Paths) GetExportPath(filename string) string {
	return filepath.Join(p.ExportsDir, filename)
}

// GetLogPath returns the path for a log file
func (p *Paths) GetLogPath(filename string) string {
	return filepath.Join(p.LogsDir, filename)
}

// GetCachePath returns the path for a cache file
func (p *Paths) GetCachePath(filename string) string {
	return filepath.Join(p.CacheDir, filename)
}

// GetRulesPath returns the path for the screening rules file
func (p *Paths) GetRulesPath() string {
	path := p.RulesFile
	logger := slog.Default()
	if logger != nil {
		logger.Debug("Rules path resolved",
			slog.String("path", path),
			slog.Bool("exists", FileExists(path)))
	}
	return path
}

// GetDatabasePath returns the path for the session database
func (p *Paths) GetDatabasePath() string {
	return p.DatabaseFile
}

// GetCombinedScreeningCSVPath returns the path for the imfcs_combined_screening.csv file
func (p *Paths) GetCombinedScreeningCSVPath() string {
	return p.CombinedScreeningCSV
}

// GetCalibrationCSVPath returns the path for the psf_calibration.csv file
func (p *Paths) GetCalibrationCSVPath() string {
	return p.CalibrationCSV
}

// GetRunSummaryCSVPath returns the path for a per-run summary CSV file (e.g. cell1_summary.csv)
func (p *Paths) GetRunSummaryCSVPath(key string) string {
	filename := fmt.Sprintf("%s_summary.csv", key)
	return filepath.Join(p.ReportsDir, filename)
}

// GetPixelTableCSVPath returns the path for a per-run pixel table CSV file (e.g. cell1_pixels.csv)
func (p *Paths) GetPixelTableCSVPath(key string) string {
	filename := fmt.Sprintf("%s_pixels.csv", key)
	return filepath.Join(p.ExportsDir, filename)
}

// GetBatchReportPath returns the path for a batch HTML report (e.g. batch_8f14e45f.html)
func (p *Paths) GetBatchReportPath(batchID string) string {
	filename := fmt.Sprintf("batch_%s.html", batchID)
	return filepath.Join(p.ReportsDir, filename)
}

// GetCalibrationReportPath returns the path for the PSF calibration HTML report
func (p *Paths) GetCalibrationReportPath() string {
	return filepath.Join(p.ReportsDir, "psf_calibration.html")
}

// LogPathResolution logs detailed path resolution information for debugging
func (p *Paths) LogPathResolution() {
	logger := slog.Default()
	if logger == nil {
		return
	}

	logger.Info("Path resolution summary",
		slog.Group("directories",
			slog.String("executable", p.ExecutableDir),
			slog.String("data", p.DataDir),
			slog.String("acquisitions", p.AcquisitionsDir),
			slog.String("reports", p.ReportsDir),
			slog.String("exports", p.ExportsDir),
			slog.String("cache", p.CacheDir),
			slog.String("logs", p.LogsDir),
			slog.String("web", p.WebDir),
		),
		slog.Group("config_files",
			slog.String("rules", p.RulesFile),
		),
		slog.Group("output_files",
			slog.String("database", p.DatabaseFile),
			slog.String("combined_screening_csv", p.CombinedScreeningCSV),
			slog.String("calibration_csv", p.CalibrationCSV),
		))
}
