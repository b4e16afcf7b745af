package exporter

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"imfcscli/internal/config"
	"imfcscli/internal/imfcs"
	"imfcscli/pkg/contracts/domain"
)

// Metric is a float64 CSV cell. Non-finite values render as empty cells and
// empty cells read back as NaN, so the combined dataset survives a round
// trip through gocsv without inventing numbers for metrics that could not
// be computed.
type Metric float64

// MarshalCSV implements gocsv.TypeMarshaller.
func (m Metric) MarshalCSV() (string, error) {
	f := float64(m)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (m *Metric) UnmarshalCSV(cell string) error {
	if strings.TrimSpace(cell) == "" {
		*m = Metric(math.NaN())
		return nil
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return fmt.Errorf("invalid metric %q: %w", cell, err)
	}
	*m = Metric(f)
	return nil
}

// ScreeningRecord is one row of the combined screening dataset.
type ScreeningRecord struct {
	Key            string `csv:"key"`
	Verdict        string `csv:"verdict"`
	TotalPixels    int    `csv:"total_pixels"`
	ValidPixels    int    `csv:"valid_pixels"`
	FittedFraction Metric `csv:"fitted_fraction"`
	DMean          Metric `csv:"d_mean"`
	DMedian        Metric `csv:"d_median"`
	DStdDev        Metric `csv:"d_std"`
	DP10           Metric `csv:"d_p10"`
	DP90           Metric `csv:"d_p90"`
	NMean          Metric `csv:"n_mean"`
	NRMSDMean      Metric `csv:"nrmsd_mean"`
	SNRMean        Metric `csv:"snr_mean"`
	IntensityMean  Metric `csv:"intensity_mean"`
	FailedRules    string `csv:"failed_rules"`
	Error          string `csv:"error"`
	ScreenedAt     string `csv:"screened_at"`
}

// NewScreeningRecord flattens a screening result into a combined-dataset row.
func NewScreeningRecord(result domain.ScreeningResult) ScreeningRecord {
	var failed []string
	for _, outcome := range result.Outcomes {
		if !outcome.Passed {
			failed = append(failed, outcome.Name)
		}
	}

	summary := result.Summary
	return ScreeningRecord{
		Key:            result.RunKey,
		Verdict:        string(result.Verdict),
		TotalPixels:    summary.TotalPixels,
		ValidPixels:    summary.ValidPixels,
		FittedFraction: Metric(summary.FittedFraction),
		DMean:          Metric(summary.D.Mean),
		DMedian:        Metric(summary.D.Median),
		DStdDev:        Metric(summary.D.StdDev),
		DP10:           Metric(summary.D.P10),
		DP90:           Metric(summary.D.P90),
		NMean:          Metric(summary.N.Mean),
		NRMSDMean:      Metric(summary.NRMSD.Mean),
		SNRMean:        Metric(summary.SNR.Mean),
		IntensityMean:  Metric(summary.Intensity.Mean),
		FailedRules:    strings.Join(failed, ";"),
		Error:          summary.Error,
		ScreenedAt:     result.ScreenedAt.Format(time.RFC3339),
	}
}

// ScreeningExporter writes screening results as CSV files.
type ScreeningExporter struct {
	csvWriter *CSVWriter
}

// NewScreeningExporter creates a new screening exporter
func NewScreeningExporter(paths *config.Paths) *ScreeningExporter {
	return &ScreeningExporter{
		csvWriter: NewCSVWriter(paths),
	}
}

// ExportCombined writes all results to a single combined CSV file, sorted by
// run key. The file carries no BOM: it is the machine-readable dataset that
// indexruns and downstream analysis read back.
func (e *ScreeningExporter) ExportCombined(results []domain.ScreeningResult, outputPath string) error {
	records := make([]ScreeningRecord, 0, len(results))
	for _, result := range results {
		records = append(records, NewScreeningRecord(result))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key < records[j].Key
	})

	return WriteRecords(&records, e.csvWriter.resolvePath(outputPath))
}

// WriteRecords marshals a slice of csv-tagged records to path, creating the
// parent directory as needed.
func WriteRecords(records any, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := gocsv.MarshalFile(records, file); err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}
	return nil
}

// ReadCombined loads a previously exported combined screening dataset.
func ReadCombined(path string) ([]ScreeningRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open combined dataset: %w", err)
	}
	defer file.Close()

	var records []ScreeningRecord
	if err := gocsv.UnmarshalFile(file, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	return records, nil
}

// ExportRunSummary writes the human-readable per-run summary file, one
// metric per row plus a pass/fail line per rule. With BOM so Excel opens
// it cleanly.
func (e *ScreeningExporter) ExportRunSummary(result domain.ScreeningResult, outputPath string) error {
	summary := result.Summary
	records := [][]string{
		{"key", result.RunKey},
		{"verdict", string(result.Verdict)},
		{"screened_at", result.ScreenedAt.Format(time.RFC3339)},
		{"total_pixels", formatInt(summary.TotalPixels)},
		{"valid_pixels", formatInt(summary.ValidPixels)},
		{"fitted_fraction", formatFloat(summary.FittedFraction)},
		{"d_mean", formatFloat(summary.D.Mean)},
		{"d_median", formatFloat(summary.D.Median)},
		{"d_std", formatFloat(summary.D.StdDev)},
		{"d_p10", formatFloat(summary.D.P10)},
		{"d_p90", formatFloat(summary.D.P90)},
		{"n_mean", formatFloat(summary.N.Mean)},
		{"nrmsd_mean", formatFloat(summary.NRMSD.Mean)},
		{"snr_mean", formatFloat(summary.SNR.Mean)},
		{"intensity_mean", formatFloat(summary.Intensity.Mean)},
	}
	if roi := summary.ROI; roi != nil {
		records = append(records, []string{
			"roi", fmt.Sprintf("%d,%d %dx%d", roi.X, roi.Y, roi.Width, roi.Height),
		})
	}
	if summary.Error != "" {
		records = append(records, []string{"error", summary.Error})
	}
	for _, outcome := range result.Outcomes {
		records = append(records, []string{
			"rule_" + outcome.Name, ruleCell(outcome),
		})
	}

	return e.csvWriter.WriteSimpleCSV(outputPath, []string{"metric", "value"}, records)
}

// ruleCell renders one rule outcome for the per-run summary.
func ruleCell(outcome domain.RuleOutcome) string {
	if outcome.Passed {
		return "pass"
	}
	value := formatFloat(outcome.Value)
	if value == "" {
		value = "n/a"
	}
	return fmt.Sprintf("fail (%s vs %s)", value, formatFloat(outcome.Threshold))
}

// ExportPixelTable streams one row per pixel of a loaded run: coordinates,
// every fit parameter, and the derived NRMSD/SNR planes when given. Large
// acquisitions (128x128 and up) go through the stream writer rather than
// building the table in memory.
func (e *ScreeningExporter) ExportPixelTable(run *imfcs.Run, nrmsd, snr *imfcs.Plane, outputPath string) error {
	if run == nil || run.FitResults == nil {
		return fmt.Errorf("pixel table needs a loaded run")
	}

	headers := []string{"x", "y"}
	for _, name := range run.FitParams {
		headers = append(headers, strings.ToLower(name))
	}
	if nrmsd != nil {
		headers = append(headers, "nrmsd")
	}
	if snr != nil {
		headers = append(headers, "snr")
	}
	if run.Intensity != nil {
		headers = append(headers, "intensity")
	}

	stream, err := e.csvWriter.CreateStreamWriter(outputPath, headers)
	if err != nil {
		return fmt.Errorf("failed to create pixel table for %s: %w", run.Info.Key, err)
	}

	width := run.Info.Params.ImageWidth
	height := run.Info.Params.ImageHeight
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			record := []string{formatInt(x), formatInt(y)}
			for k := range run.FitParams {
				v := run.FitResults.At(y, x, k)
				if k == 0 {
					// The fitted flag always leads the parameter block
					record = append(record, formatBool(v != 0))
				} else {
					record = append(record, formatFloat(v))
				}
			}
			if nrmsd != nil {
				record = append(record, formatFloat(nrmsd.At(y, x)))
			}
			if snr != nil {
				record = append(record, formatFloat(snr.At(y, x)))
			}
			if run.Intensity != nil {
				record = append(record, formatFloat(run.Intensity.At(y, x)))
			}
			if err := stream.WriteRecord(record); err != nil {
				stream.Close()
				return fmt.Errorf("failed to write pixel (%d,%d): %w", x, y, err)
			}
		}
	}

	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to close pixel table for %s: %w", run.Info.Key, err)
	}
	return nil
}
