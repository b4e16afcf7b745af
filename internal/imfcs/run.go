package imfcs

import (
	"fmt"
	"log/slog"
	"time"

	"imfcscli/pkg/contracts/domain"
)

// Run holds one acquisition's parsed data: the correlation matrices and fit
// results from the workbook plus the average-intensity plane.
type Run struct {
	Info      domain.RunInfo
	Lagtimes  []float64
	ACF       *Cube
	SD        *Cube
	Fitted    *Cube
	FitParams []string
	FitResults *Cube
	Intensity *Plane
	ROI       *domain.ROI
}

// LoadRun parses the workbook (and, when present, the intensity TIFF) of one
// run. The diffusion coefficient plane is converted to um^2/s on load.
func LoadRun(key, workbookPath, tiffPath string) (*Run, error) {
	started := time.Now()

	w, err := OpenWorkbook(workbookPath)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	params, err := w.Params()
	if err != nil {
		return nil, err
	}

	lags, err := w.Lagtimes()
	if err != nil {
		return nil, err
	}

	width, height := params.ImageWidth, params.ImageHeight

	acf, err := w.Correlation(SheetACF, width, height, len(lags))
	if err != nil {
		return nil, err
	}
	sd, err := w.Correlation(SheetSD, width, height, len(lags))
	if err != nil {
		return nil, err
	}
	fitted, err := w.Correlation(SheetFitFunctions, width, height, len(lags))
	if err != nil {
		return nil, err
	}

	fitResults, fitParams, err := w.FitResults(width, height)
	if err != nil {
		return nil, err
	}
	if fitResults.Depth > dParamIndex {
		fitResults.ScaleDepth(dParamIndex, dScale)
	}

	run := &Run{
		Info: domain.RunInfo{
			Key:       key,
			Files:     []string{workbookPath},
			Params:    params,
			NumLags:   len(lags),
			FitParams: fitParams,
			LoadedAt:  time.Now().UTC(),
		},
		Lagtimes:   lags,
		ACF:        acf,
		SD:         sd,
		Fitted:     fitted,
		FitParams:  fitParams,
		FitResults: fitResults,
	}

	if tiffPath != "" {
		intensity, err := ReadAverageIntensity(tiffPath)
		if err != nil {
			return nil, err
		}
		if intensity.Height != height || intensity.Width != width {
			return nil, fmt.Errorf("%s: intensity image is %dx%d, workbook says %dx%d",
				tiffPath, intensity.Width, intensity.Height, width, height)
		}
		run.Intensity = intensity
		run.Info.Files = append(run.Info.Files, tiffPath)
	}

	slog.Debug("loaded run",
		slog.String("key", key),
		slog.Int("width", width),
		slog.Int("height", height),
		slog.Int("lags", len(lags)),
		slog.Duration("elapsed", time.Since(started)))

	return run, nil
}

// FittedPlane returns the fitted-flag plane (1 fitted, 0 not).
func (r *Run) FittedPlane() *Plane {
	return r.FitResults.PlaneAt(0)
}

// NPlane returns the particle number plane.
func (r *Run) NPlane() *Plane {
	return r.FitResults.PlaneAt(1)
}

// DPlane returns the diffusion coefficient plane in um^2/s.
func (r *Run) DPlane() *Plane {
	return r.FitResults.PlaneAt(dParamIndex)
}

// SchemaCompatible reports whether two runs can be aggregated into one
// batch dataset.
func (r *Run) SchemaCompatible(o *Run) bool {
	if o == nil || r.Info.NumLags != o.Info.NumLags {
		return false
	}
	if len(r.FitParams) != len(o.FitParams) {
		return false
	}
	for i := range r.FitParams {
		if r.FitParams[i] != o.FitParams[i] {
			return false
		}
	}
	return true
}
