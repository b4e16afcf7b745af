package analysis

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"imfcscli/internal/imfcs"
)

// DefaultSNRLastLag bounds the lag window used for the signal-to-noise
// ratio: lags 1 through DefaultSNRLastLag-1 enter the calculation.
const DefaultSNRLastLag = 6

// NRMSD computes the normalized root-mean-square deviation between the
// observed and fitted correlation curves, per pixel. Lag index 0 holds the
// correlation amplitude and is excluded. The residual norm is scaled by the
// fitted particle number so that curves of different amplitude compare on
// one scale.
//
// Pixels carrying NaN in either curve or in the particle plane come out NaN.
func NRMSD(observed, fitted *imfcs.Cube, particles *imfcs.Plane) (*imfcs.Plane, error) {
	if observed == nil || fitted == nil || particles == nil {
		return nil, fmt.Errorf("nrmsd: nil input")
	}
	if !observed.SameShape(fitted) {
		return nil, fmt.Errorf("nrmsd: observed is %s, fitted is %s",
			observed.ShapeString(), fitted.ShapeString())
	}
	if particles.Height != observed.Height || particles.Width != observed.Width {
		return nil, fmt.Errorf("nrmsd: particle plane is %dx%d, curves are %dx%d",
			particles.Width, particles.Height, observed.Width, observed.Height)
	}

	out := imfcs.NewPlane(observed.Height, observed.Width)
	for y := 0; y < observed.Height; y++ {
		for x := 0; x < observed.Width; x++ {
			sum := 0.0
			for k := 1; k < observed.Depth; k++ {
				r := observed.At(y, x, k) - fitted.At(y, x, k)
				sum += r * r
			}
			out.Set(y, x, math.Sqrt(sum)*particles.At(y, x))
		}
	}
	return out, nil
}

// SNR computes the per-pixel signal-to-noise ratio of a correlation cube:
// mean over std of the values at lags 1 through lastLag-1. Lag 0 is excluded
// for the same reason as in NRMSD. The std is the population deviation.
// A flat series divides by zero and yields Inf or NaN, which downstream
// summaries treat as invalid.
func SNR(cf *imfcs.Cube, lastLag int) (*imfcs.Plane, error) {
	if cf == nil {
		return nil, fmt.Errorf("snr: nil correlation cube")
	}
	if lastLag <= 1 {
		return nil, fmt.Errorf("snr: last lag must exceed 1, got %d", lastLag)
	}
	end := lastLag
	if end > cf.Depth {
		end = cf.Depth
	}
	n := end - 1
	if n < 1 {
		return nil, fmt.Errorf("snr: correlation cube has no lags beyond zero (%s)", cf.ShapeString())
	}

	out := imfcs.NewPlane(cf.Height, cf.Width)
	for y := 0; y < cf.Height; y++ {
		for x := 0; x < cf.Width; x++ {
			window := cf.Series(y, x)[1:end]
			mean, err := stats.Mean(window)
			if err != nil {
				return nil, fmt.Errorf("snr at (%d,%d): %w", y, x, err)
			}
			std, err := stats.StandardDeviationPopulation(window)
			if err != nil {
				return nil, fmt.Errorf("snr at (%d,%d): %w", y, x, err)
			}
			out.Set(y, x, mean/std)
		}
	}
	return out, nil
}
