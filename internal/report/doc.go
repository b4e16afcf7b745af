// Package report renders screening and calibration results for review.
//
// Generator writes self-contained HTML pages built with go-echarts: a
// batch page (verdict breakdown, pooled D and intensity histograms, mean
// ACF curves of the best and worst fitted runs) and a calibration page
// (D-vs-binning lines per candidate PSF with the chosen one highlighted).
// WriteTerminalSummary and WriteCalibrationSummary print the same results
// for interactive use, including a uniplot intensity histogram.
package report
