package analysis

import (
	"fmt"

	"imfcscli/internal/imfcs"
	"imfcscli/pkg/contracts/domain"
)

// SummarizeRun reduces one loaded run to the per-run statistics screening
// works with. When the run carries an ROI the summary is restricted to it;
// the D, N, NRMSD and SNR statistics additionally only admit pixels whose
// fit converged. Intensity describes the region unmasked, since the image
// exists independent of the fit.
func SummarizeRun(run *imfcs.Run, snrLastLag int) (domain.RunSummary, error) {
	var summary domain.RunSummary

	if run == nil || run.FitResults == nil {
		return summary, fmt.Errorf("summarize: run not loaded")
	}
	if run.FitResults.Depth < 3 {
		return summary, fmt.Errorf("summarize %s: fit results carry %d parameters, need the fitted flag, N and D",
			run.Info.Key, run.FitResults.Depth)
	}

	width, height := run.Info.Params.ImageWidth, run.Info.Params.ImageHeight
	region := run.ROI
	if region != nil {
		if err := region.Validate(width, height); err != nil {
			return summary, fmt.Errorf("summarize %s: %w", run.Info.Key, err)
		}
	}

	flags := run.FittedPlane()
	totalPixels := width * height
	if region != nil {
		totalPixels = region.Width * region.Height
	}

	validPixels := 0
	for _, v := range regionValues(flags, region, nil) {
		if v != 0 {
			validPixels++
		}
	}

	nrmsd, err := NRMSD(run.ACF, run.Fitted, run.NPlane())
	if err != nil {
		return summary, fmt.Errorf("summarize %s: %w", run.Info.Key, err)
	}
	snr, err := SNR(run.ACF, snrLastLag)
	if err != nil {
		return summary, fmt.Errorf("summarize %s: %w", run.Info.Key, err)
	}

	summary = domain.RunSummary{
		Key:         run.Info.Key,
		TotalPixels: totalPixels,
		ValidPixels: validPixels,
		D:           Describe(regionValues(run.DPlane(), region, flags)),
		N:           Describe(regionValues(run.NPlane(), region, flags)),
		NRMSD:       Describe(regionValues(nrmsd, region, flags)),
		SNR:         Describe(regionValues(snr, region, flags)),
		Intensity:   Describe(regionValues(run.Intensity, region, nil)),
		ROI:         region,
	}
	if totalPixels > 0 {
		summary.FittedFraction = float64(validPixels) / float64(totalPixels)
	}
	return summary, nil
}
