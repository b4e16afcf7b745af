// Package psf calibrates the point spread function parameter from the
// sweep grid of a calibration workbook. The plugin fits every acquisition
// at several candidate PSF values over a range of pixel binnings; the
// candidate whose diffusion coefficient stays flattest across binnings is
// the physically correct one.
package psf

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"

	"imfcscli/internal/imfcs"
	"imfcscli/pkg/contracts/domain"
)

// DefaultRSDThreshold masks sweep points whose standard deviation exceeds
// the diffusion coefficient itself.
const DefaultRSDThreshold = 1.0

// ErrNoValidFit indicates that no sweep row kept enough points for a line
// fit after masking.
var ErrNoValidFit = errors.New("psf: no sweep row with a valid line fit")

// Calibrate fits D against pixel binning for every swept PSF value and
// selects the line with the smallest absolute slope. Grid points whose
// stdD/D ratio exceeds rsdThreshold are masked out; rows with fewer than
// two surviving points get a NaN slope and are excluded from selection.
func Calibrate(grid *imfcs.PSFGrid, rsdThreshold float64) (domain.PSFCalibration, error) {
	if grid == nil || grid.D == nil || grid.StdD == nil {
		return domain.PSFCalibration{}, errors.New("psf: calibration grid is incomplete")
	}
	params := grid.Params
	if grid.D.Height != params.NumPSF || grid.D.Width != params.NumBin {
		return domain.PSFCalibration{}, fmt.Errorf("psf: grid is %dx%d, sweep expects %dx%d",
			grid.D.Height, grid.D.Width, params.NumPSF, params.NumBin)
	}

	binnings := make([]float64, params.NumBin)
	for j := range binnings {
		binnings[j] = float64(params.BinStart + j)
	}

	// Masked working copy. The chosen row's mean D later excludes the
	// masked points as well.
	masked := make([][]float64, params.NumPSF)
	for i := 0; i < params.NumPSF; i++ {
		row := make([]float64, params.NumBin)
		for j := 0; j < params.NumBin; j++ {
			d := grid.D.At(i, j)
			if grid.StdD.At(i, j)/d > rsdThreshold {
				row[j] = math.NaN()
				continue
			}
			row[j] = d
		}
		masked[i] = row
	}

	slopes := make([]float64, params.NumPSF)
	intercepts := make([]float64, params.NumPSF)
	for i, row := range masked {
		var xs, ys []float64
		for j, d := range row {
			if !math.IsNaN(d) {
				xs = append(xs, binnings[j])
				ys = append(ys, d)
			}
		}
		if len(xs) < 2 {
			slopes[i] = math.NaN()
			intercepts[i] = math.NaN()
			continue
		}
		alpha, beta := stat.LinearRegression(xs, ys, nil, false)
		slopes[i] = beta
		intercepts[i] = alpha
	}

	bestIdx := -1
	bestAbs := math.Inf(1)
	for i, s := range slopes {
		if math.IsNaN(s) {
			continue
		}
		if abs := math.Abs(s); abs < bestAbs {
			bestAbs = abs
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return domain.PSFCalibration{}, ErrNoValidFit
	}

	var valid []float64
	for _, d := range masked[bestIdx] {
		if !math.IsNaN(d) {
			valid = append(valid, d)
		}
	}

	return domain.PSFCalibration{
		Params:       params,
		RSDThreshold: rsdThreshold,
		Slopes:       slopes,
		Intercepts:   intercepts,
		BestIndex:    bestIdx,
		CorrectPSF:   math.Round(params.Value(bestIdx)*10) / 10,
		BestFitD:     intercepts[bestIdx],
		MeanD:        stat.Mean(valid, nil),
		CalibratedAt: time.Now().UTC(),
	}, nil
}

// CalibrateFile reads the sweep grid from a calibration workbook and
// calibrates it.
func CalibrateFile(path string, rsdThreshold float64) (domain.PSFCalibration, error) {
	w, err := imfcs.OpenWorkbook(path)
	if err != nil {
		return domain.PSFCalibration{}, err
	}
	defer w.Close()

	grid, err := w.PSF()
	if err != nil {
		return domain.PSFCalibration{}, err
	}

	cal, err := Calibrate(grid, rsdThreshold)
	if err != nil {
		return domain.PSFCalibration{}, fmt.Errorf("%s: %w", path, err)
	}
	cal.File = filepath.Base(path)

	slog.Debug("calibrated psf",
		slog.String("file", cal.File),
		slog.Int("best_index", cal.BestIndex),
		slog.Float64("correct_psf", cal.CorrectPSF),
		slog.Float64("best_fit_d", cal.BestFitD),
		slog.Float64("mean_d", cal.MeanD))

	return cal, nil
}
