// Package exporter provides CSV export functionality for screening and
// calibration results.
//
// This package contains three main components:
//
// CSVWriter: Core CSV writing functionality with support for headers,
// streaming, and UTF-8 BOM for Excel compatibility.
//
// ScreeningExporter: Writes the combined screening dataset (gocsv-tagged
// ScreeningRecord rows, read back by indexruns), per-run summary files, and
// streamed per-pixel tables.
//
// CalibrationExporter: Writes the PSF calibration table and the per-PSF
// sweep tables behind it.
//
// Example usage:
//
//	screening := exporter.NewScreeningExporter(paths)
//
//	// Write the combined dataset (no BOM, machine readable)
//	err := screening.ExportCombined(results, paths.GetCombinedScreeningCSVPath())
//
//	// Write one human-readable per-run summary (with BOM)
//	err = screening.ExportRunSummary(result, paths.GetRunSummaryCSVPath(result.RunKey))
//
//	calibration := exporter.NewCalibrationExporter(paths)
//	err = calibration.ExportCalibrations(cals, paths.GetCalibrationCSVPath())
package exporter
