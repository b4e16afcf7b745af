package exporter

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imfcscli/pkg/contracts/domain"
)

func sampleCalibration(file string) domain.PSFCalibration {
	return domain.PSFCalibration{
		File: file,
		Params: domain.PSFParams{
			Start:    0.6,
			End:      0.8,
			Step:     0.1,
			NumPSF:   3,
			NumBin:   5,
			BinStart: 1,
			BinEnd:   5,
		},
		RSDThreshold: 1.0,
		Slopes:       []float64{0.05, 0.01, 0.08},
		Intercepts:   []float64{1.1, 1.2, 1.3},
		BestIndex:    1,
		CorrectPSF:   0.7,
		BestFitD:     1.2,
		MeanD:        1.25,
		CalibratedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewCalibrationRecord(t *testing.T) {
	record := NewCalibrationRecord(sampleCalibration("calib.xlsx"))

	assert.Equal(t, "calib.xlsx", record.File)
	assert.Equal(t, Metric(0.6), record.PSFStart)
	assert.Equal(t, Metric(0.1), record.PSFStep)
	assert.Equal(t, 3, record.NumPSF)
	assert.Equal(t, 1, record.BestIndex)
	assert.Equal(t, Metric(0.7), record.CorrectPSF)
	assert.Equal(t, Metric(0.01), record.BestSlope)
	assert.Equal(t, "2025-06-01T12:00:00Z", record.CalibratedAt)
}

func TestNewCalibrationRecordBadIndex(t *testing.T) {
	cal := sampleCalibration("calib.xlsx")
	cal.BestIndex = 7

	record := NewCalibrationRecord(cal)
	assert.True(t, math.IsNaN(float64(record.BestSlope)))
}

func TestExportCalibrations(t *testing.T) {
	paths, _ := newExporterPaths(t)
	exporter := NewCalibrationExporter(paths)

	cals := []domain.PSFCalibration{
		sampleCalibration("second.xlsx"),
		sampleCalibration("first.xlsx"),
	}

	require.NoError(t, exporter.ExportCalibrations(cals, "exports/psf_calibration.csv"))

	fullPath := filepath.Join(paths.ExportsDir, "psf_calibration.csv")
	content, err := os.ReadFile(fullPath)
	require.NoError(t, err)

	assert.False(t, bytes.HasPrefix(content, []byte{0xEF, 0xBB, 0xBF}))
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t,
		"file,psf_start,psf_end,psf_step,num_psf,num_bin,rsd_threshold,best_index,correct_psf,best_slope,best_fit_d,mean_d,calibrated_at",
		lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "first.xlsx,"))
	assert.True(t, strings.HasPrefix(lines[2], "second.xlsx,"))
}

func TestExportSweepTable(t *testing.T) {
	paths, _ := newExporterPaths(t)
	exporter := NewCalibrationExporter(paths)

	require.NoError(t, exporter.ExportSweepTable(sampleCalibration("calib.xlsx"), "sweep.csv"))

	content, err := os.ReadFile(filepath.Join(paths.ReportsDir, "sweep.csv"))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(content, []byte{0xEF, 0xBB, 0xBF}))

	reader := csv.NewReader(bytes.NewReader(content[3:]))
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, []string{"psf", "slope", "intercept", "chosen"}, rows[0])
	assert.Equal(t, []string{"0.6000", "0.0500", "1.1000", "false"}, rows[1])
	assert.Equal(t, []string{"0.7000", "0.0100", "1.2000", "true"}, rows[2])
	assert.Equal(t, []string{"0.8000", "0.0800", "1.3000", "false"}, rows[3])
}

func TestExportSweepTableMismatch(t *testing.T) {
	paths, _ := newExporterPaths(t)
	exporter := NewCalibrationExporter(paths)

	cal := sampleCalibration("calib.xlsx")
	cal.Intercepts = cal.Intercepts[:2]

	err := exporter.ExportSweepTable(cal, "sweep.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 slopes but 2 intercepts")
}
