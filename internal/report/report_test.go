package report

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imfcscli/internal/analysis"
	"imfcscli/internal/config"
	"imfcscli/internal/imfcs"
	"imfcscli/pkg/contracts/domain"
)

func newReportPaths(t *testing.T) *config.Paths {
	t.Helper()
	tempDir := t.TempDir()
	return &config.Paths{
		ExecutableDir: tempDir,
		DataDir:       filepath.Join(tempDir, "data"),
		ReportsDir:    filepath.Join(tempDir, "data", "reports"),
		ExportsDir:    filepath.Join(tempDir, "data", "exports"),
	}
}

// reportRun builds a 2x2 in-memory run whose every pixel is fitted.
func reportRun(key string) *imfcs.Run {
	acf := imfcs.NewCube(2, 2, 3)
	fitResults := imfcs.NewCube(2, 2, 3)
	intensity := imfcs.NewPlane(2, 2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			for k := 0; k < 3; k++ {
				acf.Set(y, x, k, 10+float64(k))
			}
			fitResults.Set(y, x, 0, 1)
			fitResults.Set(y, x, 1, 4)
			fitResults.Set(y, x, 2, 1.5)
			intensity.Set(y, x, 1200)
		}
	}
	return &imfcs.Run{
		Info: domain.RunInfo{
			Key:       key,
			Params:    domain.AcquisitionParams{ImageWidth: 2, ImageHeight: 2},
			NumLags:   3,
			FitParams: []string{"Fitted", "N", "D"},
		},
		Lagtimes:   []float64{0, 0.00102, 0.00204},
		ACF:        acf,
		FitParams:  []string{"Fitted", "N", "D"},
		FitResults: fitResults,
		Intensity:  intensity,
	}
}

func reportResult(key string, verdict domain.Verdict, nrmsd float64) domain.ScreeningResult {
	return domain.ScreeningResult{
		RunKey:  key,
		Verdict: verdict,
		Summary: domain.RunSummary{
			Key:         key,
			TotalPixels: 4,
			ValidPixels: 4,
			D:           domain.MetricStats{Mean: 1.5, Count: 4},
			NRMSD:       domain.MetricStats{Mean: nrmsd, Count: 4},
			SNR:         domain.MetricStats{Mean: 9.0, Count: 4},
			Intensity:   domain.MetricStats{Mean: 1200, Count: 4},
		},
		ScreenedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWriteBatchReport(t *testing.T) {
	paths := newReportPaths(t)
	generator := NewGenerator(paths)

	dataset, err := analysis.NewDataset([]*imfcs.Run{reportRun("cellA"), reportRun("cellB")})
	require.NoError(t, err)

	data := BatchData{
		BatchID:   "8f14e45f",
		Directory: "2025-06-01_screen",
		Dataset:   dataset,
		Results: []domain.ScreeningResult{
			reportResult("cellA", domain.VerdictPass, 0.3),
			reportResult("cellB", domain.VerdictFail, 2.8),
		},
	}

	require.NoError(t, generator.WriteBatchReport(data, "batch_8f14e45f.html"))

	content, err := os.ReadFile(filepath.Join(paths.ReportsDir, "batch_8f14e45f.html"))
	require.NoError(t, err)

	html := string(content)
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "Screening verdicts")
	assert.Contains(t, html, "Diffusion coefficient")
	assert.Contains(t, html, "Average intensity")
	assert.Contains(t, html, "Mean ACF")
	assert.Contains(t, html, "best cellA")
	assert.Contains(t, html, "worst cellB")
}

func TestWriteBatchReportSingleRun(t *testing.T) {
	paths := newReportPaths(t)
	generator := NewGenerator(paths)

	dataset, err := analysis.NewDataset([]*imfcs.Run{reportRun("cellA")})
	require.NoError(t, err)

	data := BatchData{
		BatchID: "solo",
		Dataset: dataset,
		Results: []domain.ScreeningResult{reportResult("cellA", domain.VerdictPass, 0.3)},
	}

	require.NoError(t, generator.WriteBatchReport(data, "batch_solo.html"))

	content, err := os.ReadFile(filepath.Join(paths.ReportsDir, "batch_solo.html"))
	require.NoError(t, err)

	// One run is both best and worst; only one curve gets drawn
	html := string(content)
	assert.Contains(t, html, "best cellA")
	assert.NotContains(t, html, "worst cellA")
}

func TestWriteBatchReportNoACF(t *testing.T) {
	paths := newReportPaths(t)
	generator := NewGenerator(paths)

	dataset, err := analysis.NewDataset([]*imfcs.Run{reportRun("cellA")})
	require.NoError(t, err)

	data := BatchData{
		BatchID: "nan",
		Dataset: dataset,
		Results: []domain.ScreeningResult{reportResult("cellA", domain.VerdictReview, math.NaN())},
	}

	require.NoError(t, generator.WriteBatchReport(data, "batch_nan.html"))

	content, err := os.ReadFile(filepath.Join(paths.ReportsDir, "batch_nan.html"))
	require.NoError(t, err)
	assert.NotContains(t, string(content), "Mean ACF")
}

func TestWriteBatchReportEmptyDataset(t *testing.T) {
	generator := NewGenerator(newReportPaths(t))

	err := generator.WriteBatchReport(BatchData{BatchID: "empty"}, "batch_empty.html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a loaded dataset")
}

func newSweepGrid() *imfcs.PSFGrid {
	d := imfcs.NewPlane(3, 2)
	stdD := imfcs.NewPlane(3, 2)
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			d.Set(i, j, 1.0+0.1*float64(i)+0.01*float64(j))
			stdD.Set(i, j, 0.01)
		}
	}
	return &imfcs.PSFGrid{
		Params: domain.PSFParams{
			Start: 0.6, End: 0.8, Step: 0.1,
			NumPSF: 3, NumBin: 2, BinStart: 1, BinEnd: 2,
		},
		D:    d,
		StdD: stdD,
	}
}

func TestWriteCalibrationReport(t *testing.T) {
	paths := newReportPaths(t)
	generator := NewGenerator(paths)

	cal := domain.PSFCalibration{
		File:         "calib.xlsx",
		RSDThreshold: 1.0,
		BestIndex:    1,
		CorrectPSF:   0.7,
		BestFitD:     1.1,
		MeanD:        1.105,
		CalibratedAt: time.Now().UTC(),
	}

	require.NoError(t, generator.WriteCalibrationReport(newSweepGrid(), cal, "psf_calibration.html"))

	content, err := os.ReadFile(filepath.Join(paths.ReportsDir, "psf_calibration.html"))
	require.NoError(t, err)

	html := string(content)
	assert.Contains(t, html, "D vs binning")
	assert.Contains(t, html, "Sweep grid")
	assert.Contains(t, html, "PSF 0.7 (chosen)")
	assert.Contains(t, html, "PSF 0.6")
	assert.Contains(t, html, "PSF 0.8")
}

func TestWriteCalibrationReportNilGrid(t *testing.T) {
	generator := NewGenerator(newReportPaths(t))

	err := generator.WriteCalibrationReport(nil, domain.PSFCalibration{}, "x.html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a sweep grid")
}

func TestResolveReportPath(t *testing.T) {
	paths := newReportPaths(t)
	generator := NewGenerator(paths)

	assert.Equal(t,
		filepath.Join(paths.ReportsDir, "batch_1.html"),
		generator.resolvePath("batch_1.html"))
	assert.Equal(t,
		filepath.Join(paths.ReportsDir, "batch_1.html"),
		generator.resolvePath("reports/batch_1.html"))
	assert.Equal(t, "/tmp/out.html", generator.resolvePath("/tmp/out.html"))
}
