package exporter

import (
	"fmt"
	"math"
	"sort"
	"time"

	"imfcscli/internal/config"
	"imfcscli/pkg/contracts/domain"
)

// CalibrationRecord is one row of the PSF calibration table: the sweep
// parameters and chosen PSF for a single calibration workbook.
type CalibrationRecord struct {
	File         string `csv:"file"`
	PSFStart     Metric `csv:"psf_start"`
	PSFEnd       Metric `csv:"psf_end"`
	PSFStep      Metric `csv:"psf_step"`
	NumPSF       int    `csv:"num_psf"`
	NumBin       int    `csv:"num_bin"`
	RSDThreshold Metric `csv:"rsd_threshold"`
	BestIndex    int    `csv:"best_index"`
	CorrectPSF   Metric `csv:"correct_psf"`
	BestSlope    Metric `csv:"best_slope"`
	BestFitD     Metric `csv:"best_fit_d"`
	MeanD        Metric `csv:"mean_d"`
	CalibratedAt string `csv:"calibrated_at"`
}

// NewCalibrationRecord flattens a calibration into a table row.
func NewCalibrationRecord(cal domain.PSFCalibration) CalibrationRecord {
	bestSlope := math.NaN()
	if cal.BestIndex >= 0 && cal.BestIndex < len(cal.Slopes) {
		bestSlope = cal.Slopes[cal.BestIndex]
	}
	return CalibrationRecord{
		File:         cal.File,
		PSFStart:     Metric(cal.Params.Start),
		PSFEnd:       Metric(cal.Params.End),
		PSFStep:      Metric(cal.Params.Step),
		NumPSF:       cal.Params.NumPSF,
		NumBin:       cal.Params.NumBin,
		RSDThreshold: Metric(cal.RSDThreshold),
		BestIndex:    cal.BestIndex,
		CorrectPSF:   Metric(cal.CorrectPSF),
		BestSlope:    Metric(bestSlope),
		BestFitD:     Metric(cal.BestFitD),
		MeanD:        Metric(cal.MeanD),
		CalibratedAt: cal.CalibratedAt.Format(time.RFC3339),
	}
}

// CalibrationExporter writes PSF calibration results as CSV files.
type CalibrationExporter struct {
	csvWriter *CSVWriter
}

// NewCalibrationExporter creates a new calibration exporter
func NewCalibrationExporter(paths *config.Paths) *CalibrationExporter {
	return &CalibrationExporter{
		csvWriter: NewCSVWriter(paths),
	}
}

// ExportCalibrations writes the calibration table, one row per workbook,
// sorted by file name. No BOM, same as the combined screening dataset.
func (e *CalibrationExporter) ExportCalibrations(cals []domain.PSFCalibration, outputPath string) error {
	records := make([]CalibrationRecord, 0, len(cals))
	for _, cal := range cals {
		records = append(records, NewCalibrationRecord(cal))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].File < records[j].File
	})

	return WriteRecords(&records, e.csvWriter.resolvePath(outputPath))
}

// ExportSweepTable writes the per-PSF line fits of one calibration, a row
// per candidate PSF with its slope and intercept and whether it was chosen.
// This is the table a reviewer plots to sanity-check the selection.
func (e *CalibrationExporter) ExportSweepTable(cal domain.PSFCalibration, outputPath string) error {
	if len(cal.Slopes) != len(cal.Intercepts) {
		return fmt.Errorf("calibration for %s has %d slopes but %d intercepts",
			cal.File, len(cal.Slopes), len(cal.Intercepts))
	}

	records := make([][]string, 0, len(cal.Slopes))
	for i := range cal.Slopes {
		records = append(records, []string{
			formatFloat(cal.Params.Value(i)),
			formatFloat(cal.Slopes[i]),
			formatFloat(cal.Intercepts[i]),
			formatBool(i == cal.BestIndex),
		})
	}

	headers := []string{"psf", "slope", "intercept", "chosen"}
	return e.csvWriter.WriteSimpleCSV(outputPath, headers, records)
}
