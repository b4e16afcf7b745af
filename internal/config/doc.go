// Package config provides centralized configuration management for the
// ImFCS Pulse system. It handles loading configuration from multiple
// sources, validation, and provides a type-safe API for accessing
// configuration values throughout the application.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. Configuration files (YAML)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern IMFCS_* for namespacing:
//
//	IMFCS_SERVER_PORT=8080
//	IMFCS_LOGGING_LEVEL=info
//	IMFCS_SCREENING_WORKERS=8
//	IMFCS_SCREENING_RSD_THRESHOLD=1.0
//
// # Path Management
//
// The package provides centralized path management through the Paths type,
// which handles all file system paths relative to the executable location:
//
//	paths, err := config.GetPaths()
//	reportPath := paths.GetReportPath("cell1_summary.csv")
//	exportPath := paths.GetExportPath("psf_calibration.csv")
//
// # Validation
//
// All configuration is validated at load time to ensure required fields are
// present and values are within acceptable ranges. Screening knobs (worker
// count, SNR window, RSD threshold) are range-checked before any batch work
// starts.
//
// # Usage
//
// Load configuration at application startup:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
